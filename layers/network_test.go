package layers

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-sweep/checkpoints"
	"github.com/tsawler/go-sweep/optimizer"
	"github.com/tsawler/go-sweep/training"
)

// recordingOptimizer keeps a copy of the last gradients without updating
// the parameters.
type recordingOptimizer struct {
	grads  [][]float64
	resets int
}

func (r *recordingOptimizer) Step(params, grads [][]float64) error {
	r.grads = make([][]float64, len(grads))
	for i, g := range grads {
		r.grads[i] = append([]float64(nil), g...)
	}
	return nil
}

func (r *recordingOptimizer) Reset() { r.resets++ }
func (r *recordingOptimizer) GetStepCount() uint64 { return 0 }
func (r *recordingOptimizer) UpdateLearningRate(float64) {}

func smallNetwork(t *testing.T, opt optimizer.Optimizer) *Network {
	t.Helper()
	spec, err := NewModelBuilder([]int{4, 3}).
		AddDense(5, true, "fc1").
		AddTanh("tanh").
		AddDense(4, true, "fc2").
		AddLeakyReLU(0.1, "leaky").
		AddDense(3, false, "fc3").
		AddSigmoid("sigmoid").
		AddDense(2, true, "output").
		Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	net, err := NewNetwork("small", spec, opt, 7)
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}
	return net
}

func TestNetworkGradients(t *testing.T) {
	opt := &recordingOptimizer{}
	net := smallNetwork(t, opt)

	x := mat.NewDense(4, 3, []float64{
		0.5, -1, 0.25,
		-0.3, 0.8, 1,
		1, 0.1, -0.6,
		-0.9, -0.2, 0.4,
	})
	labels := []int64{0, 1, 1, 0}

	logits, err := net.Forward(x, true)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if _, err := net.BackwardAndStep(logits, labels); err != nil {
		t.Fatalf("BackwardAndStep failed: %v", err)
	}

	lossAt := func(weights []checkpoints.WeightTensor) float64 {
		if err := net.LoadWeights(weights); err != nil {
			t.Fatalf("LoadWeights failed: %v", err)
		}
		out, err := net.Forward(x, false)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		loss, _, err := training.SoftmaxCrossEntropy(out, labels)
		if err != nil {
			t.Fatalf("SoftmaxCrossEntropy failed: %v", err)
		}
		return loss
	}

	base := net.Weights()
	const h = 1e-6
	for i, w := range base {
		for j := range w.Data {
			plus := checkpoints.CloneWeights(base)
			plus[i].Data[j] += h
			minus := checkpoints.CloneWeights(base)
			minus[i].Data[j] -= h

			numeric := (lossAt(plus) - lossAt(minus)) / (2 * h)
			analytic := opt.grads[i][j]
			if math.Abs(numeric-analytic) > 1e-6 {
				t.Errorf("%s[%d]: analytic %.8f, numeric %.8f", w.Name, j, analytic, numeric)
			}
		}
	}
}

func TestNetworkLearnsSeparableClasses(t *testing.T) {
	config := optimizer.DefaultAdamConfig()
	config.LearningRate = 0.02
	adam, err := optimizer.NewAdamOptimizer(config)
	if err != nil {
		t.Fatalf("NewAdamOptimizer failed: %v", err)
	}
	spec, err := NewMLPSpec(16, 2, []int{8}, 2, 0.1)
	if err != nil {
		t.Fatalf("NewMLPSpec failed: %v", err)
	}
	net, err := NewNetwork("mlp", spec, adam, 1)
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}

	// Class 0 below the diagonal, class 1 above it.
	var data []float64
	var labels []int64
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			if i == j {
				continue
			}
			data = append(data, float64(i)/4-1, float64(j)/4-1)
			if j > i {
				labels = append(labels, 1)
			} else {
				labels = append(labels, 0)
			}
		}
	}
	x := mat.NewDense(len(labels), 2, data)

	for step := 0; step < 500; step++ {
		logits, err := net.Forward(x, true)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if _, err := net.BackwardAndStep(logits, labels); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
	}

	res, err := training.Evaluate(net, x, labels, 2, 10)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Accuracy < 0.95 {
		t.Errorf("Expected accuracy >= 0.95 after training, got %.3f", res.Accuracy)
	}
}

func TestNetworkWeightsRoundTrip(t *testing.T) {
	opt := &recordingOptimizer{}
	a := smallNetwork(t, opt)

	weights := a.Weights()
	if len(weights) != 7 {
		t.Fatalf("Expected 7 tensors, got %d", len(weights))
	}
	if weights[0].Name != "fc1.weight" || weights[1].Name != "fc1.bias" || weights[0].Type != "weight" {
		t.Errorf("Unexpected tensor names %s, %s", weights[0].Name, weights[1].Name)
	}
	for _, b := range weights[1].Data {
		if b != 0 {
			t.Fatal("Biases should start at zero")
		}
	}
	limit := math.Sqrt(6.0 / 8.0)
	for _, w := range weights[0].Data {
		if math.Abs(w) > limit {
			t.Fatalf("Weight %f outside Glorot limit %f", w, limit)
		}
	}

	// Weights returns copies.
	weights[0].Data[0] = 100
	if a.Weights()[0].Data[0] == 100 {
		t.Error("Weights should not alias network parameters")
	}

	// Same seed, same initialization.
	b := smallNetwork(t, &recordingOptimizer{})
	if b.Weights()[0].Data[3] != a.Weights()[0].Data[3] {
		t.Error("Networks with the same seed should start identical")
	}

	if err := b.LoadWeights(weights); err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}
	if b.Weights()[0].Data[0] != 100 {
		t.Error("LoadWeights did not copy the data")
	}
}

func TestNetworkLoadWeightsErrors(t *testing.T) {
	opt := &recordingOptimizer{}
	net := smallNetwork(t, opt)
	weights := net.Weights()

	if err := net.LoadWeights(weights[1:]); err == nil {
		t.Error("Expected error for missing tensor")
	}

	bad := checkpoints.CloneWeights(weights)
	bad[0].Shape = []int{5, 3}
	if err := net.LoadWeights(bad); err == nil {
		t.Error("Expected error for shape mismatch")
	}

	renamed := checkpoints.CloneWeights(weights)
	renamed[0].Name = "other.weight"
	if err := net.LoadWeights(renamed); err == nil {
		t.Error("Expected error for unknown tensor")
	}

	if opt.resets != 0 {
		t.Errorf("Failed loads should not reset the optimizer, got %d resets", opt.resets)
	}
	if err := net.LoadWeights(weights); err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}
	if opt.resets != 1 {
		t.Errorf("Expected one optimizer reset, got %d", opt.resets)
	}
}

func TestNetworkForwardChecks(t *testing.T) {
	net := smallNetwork(t, &recordingOptimizer{})

	if _, err := net.Forward(mat.NewDense(2, 4, nil), false); err == nil {
		t.Error("Expected error for wrong feature count")
	}

	logits, err := net.Forward(mat.NewDense(2, 3, nil), false)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if _, err := net.BackwardAndStep(logits, []int64{0, 1}); err == nil {
		t.Error("Expected error for backward pass after inference-mode forward")
	}
}

func TestDropoutInference(t *testing.T) {
	spec, err := NewModelBuilder([]int{1, 4}).AddDropout(0.5, "drop").Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	net, err := NewNetwork("drop", spec, &recordingOptimizer{}, 3)
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}

	x := mat.NewDense(1, 4, []float64{1, 2, 3, 4})
	out, _ := net.Forward(x, false)
	if !mat.Equal(out, x) {
		t.Error("Dropout should be the identity in inference mode")
	}

	train, _ := net.Forward(onesDense(50, 4), true)
	zeros, twos := 0, 0
	r, c := train.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			switch train.At(i, j) {
			case 0:
				zeros++
			case 2:
				twos++
			default:
				t.Fatalf("Unexpected dropout output %f", train.At(i, j))
			}
		}
	}
	if zeros == 0 || twos == 0 {
		t.Errorf("Expected both dropped and scaled values, got %d zeros and %d twos", zeros, twos)
	}
}

func TestNetworkReseedRepeatsDropoutMasks(t *testing.T) {
	spec, err := NewModelBuilder([]int{1, 4}).AddDropout(0.5, "drop").Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	net, err := NewNetwork("drop", spec, &recordingOptimizer{}, 3)
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}

	x := onesDense(20, 4)
	net.Reseed(16100)
	first, _ := net.Forward(x, true)

	// Consume masks as an earlier run would.
	for i := 0; i < 3; i++ {
		net.Forward(x, true)
	}

	net.Reseed(16100)
	again, _ := net.Forward(x, true)
	if !mat.Equal(first, again) {
		t.Error("Same seed should reproduce the dropout masks regardless of earlier use")
	}

	net.Reseed(16101)
	other, _ := net.Forward(x, true)
	if mat.Equal(first, other) {
		t.Error("Different seeds should produce different dropout masks")
	}
}

func onesDense(r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = 1
	}
	return mat.NewDense(r, c, data)
}
