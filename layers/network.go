package layers

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-sweep/checkpoints"
	"github.com/tsawler/go-sweep/optimizer"
	"github.com/tsawler/go-sweep/sampling"
	"github.com/tsawler/go-sweep/training"
)

// param is one trainable tensor and its gradient buffer.
type param struct {
	name  string
	layer string
	kind  string // "weight" or "bias"
	shape []int
	data  []float64
	grad  []float64
}

type module interface {
	forward(x *mat.Dense, train bool) *mat.Dense
	backward(grad *mat.Dense) *mat.Dense
	params() []*param
}

// Network is a feed-forward classifier built from a compiled ModelSpec. It
// implements training.Model.
type Network struct {
	name    string
	spec    *ModelSpec
	modules []module
	params  []*param
	opt     optimizer.Optimizer

	// set by a training-mode Forward, cleared by BackwardAndStep
	pending bool
}

var (
	_ training.Model    = (*Network)(nil)
	_ training.Reseeder = (*Network)(nil)
)

// NewNetwork instantiates spec with Glorot-uniform weights and zero biases
// drawn from a generator seeded with seed. Dropout masks continue from that
// generator until Reseed is called.
func NewNetwork(name string, spec *ModelSpec, opt optimizer.Optimizer, seed uint32) (*Network, error) {
	if spec == nil || !spec.Compiled {
		return nil, errors.New("model not compiled")
	}
	if opt == nil {
		return nil, errors.New("network needs an optimizer")
	}

	rng := rand.New(sampling.NewSource(seed))
	n := &Network{name: name, spec: spec, opt: opt}
	for _, layer := range spec.Layers {
		var m module
		switch layer.Type {
		case Dense:
			m = newDenseLayer(layer, rng)
		case Dropout:
			m = &dropoutLayer{rate: getFloatParam(layer.Parameters, "rate", 0), rng: rng}
		case ReLU, LeakyReLU, Sigmoid, Tanh:
			m = &activationLayer{kind: layer.Type, slope: getFloatParam(layer.Parameters, "negative_slope", 0.01)}
		default:
			return nil, errors.Errorf("unsupported layer type: %s", layer.Type.String())
		}
		n.modules = append(n.modules, m)
		n.params = append(n.params, m.params()...)
	}
	return n, nil
}

// Name returns the architecture name used in checkpoint paths.
func (n *Network) Name() string {
	return n.name
}

// Reseed restarts the dropout masks from a generator seeded with seed, so a
// run's masks do not depend on the runs before it.
func (n *Network) Reseed(seed uint32) {
	rng := rand.New(sampling.NewSource(seed))
	for _, m := range n.modules {
		if d, ok := m.(*dropoutLayer); ok {
			d.rng = rng
		}
	}
}

// Spec returns the compiled layer configuration.
func (n *Network) Spec() *ModelSpec {
	return n.spec
}

// Forward computes the logits of every row of x.
func (n *Network) Forward(x *mat.Dense, train bool) (*mat.Dense, error) {
	if _, cols := x.Dims(); cols != n.spec.InputFeatures() {
		return nil, errors.Errorf("input has %d features, model expects %d", cols, n.spec.InputFeatures())
	}

	out := x
	for _, m := range n.modules {
		out = m.forward(out, train)
	}
	n.pending = train
	return out, nil
}

// BackwardAndStep backpropagates the softmax cross-entropy of logits, which
// must come from the preceding training-mode Forward, and applies one
// optimizer step.
func (n *Network) BackwardAndStep(logits *mat.Dense, labels []int64) (float64, error) {
	if !n.pending {
		return 0, errors.New("backward pass requires a preceding training-mode forward pass")
	}
	n.pending = false

	loss, grad, err := training.SoftmaxCrossEntropy(logits, labels)
	if err != nil {
		return 0, err
	}
	for i := len(n.modules) - 1; i >= 0; i-- {
		grad = n.modules[i].backward(grad)
	}

	data := make([][]float64, len(n.params))
	grads := make([][]float64, len(n.params))
	for i, p := range n.params {
		data[i], grads[i] = p.data, p.grad
	}
	if err := n.opt.Step(data, grads); err != nil {
		return 0, errors.Wrap(err, "optimizer step failed")
	}
	return loss, nil
}

// Weights returns a copy of every parameter tensor in layer order.
func (n *Network) Weights() []checkpoints.WeightTensor {
	out := make([]checkpoints.WeightTensor, len(n.params))
	for i, p := range n.params {
		out[i] = checkpoints.WeightTensor{
			Name:  p.name,
			Shape: append([]int(nil), p.shape...),
			Data:  append([]float64(nil), p.data...),
			Layer: p.layer,
			Type:  p.kind,
		}
	}
	return out
}

// LoadWeights copies weights into the network by name and resets the
// optimizer. Every parameter must be present with its exact shape.
func (n *Network) LoadWeights(weights []checkpoints.WeightTensor) error {
	byName := make(map[string]checkpoints.WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}
	if len(byName) != len(n.params) {
		return errors.Errorf("checkpoint holds %d tensors, model has %d", len(byName), len(n.params))
	}

	for _, p := range n.params {
		w, ok := byName[p.name]
		if !ok {
			return errors.Errorf("checkpoint is missing tensor %s", p.name)
		}
		if !sameShape(w.Shape, p.shape) || len(w.Data) != len(p.data) {
			return errors.Errorf("tensor %s has shape %v, model expects %v", p.name, w.Shape, p.shape)
		}
	}
	for _, p := range n.params {
		copy(p.data, byName[p.name].Data)
	}

	n.opt.Reset()
	n.pending = false
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type denseLayer struct {
	in, out int
	w, b    *param
	weights *mat.Dense // aliases w.data
	input   *mat.Dense
}

func newDenseLayer(spec LayerSpec, rng *rand.Rand) *denseLayer {
	in := getIntParam(spec.Parameters, "input_size", 0)
	out := getIntParam(spec.Parameters, "output_size", 0)

	d := &denseLayer{in: in, out: out}
	d.w = &param{
		name: spec.Name + ".weight", layer: spec.Name, kind: "weight",
		shape: []int{in, out}, data: make([]float64, in*out), grad: make([]float64, in*out),
	}
	limit := math.Sqrt(6 / float64(in+out))
	for i := range d.w.data {
		d.w.data[i] = (2*rng.Float64() - 1) * limit
	}
	d.weights = mat.NewDense(in, out, d.w.data)

	if getBoolParam(spec.Parameters, "use_bias", true) {
		d.b = &param{
			name: spec.Name + ".bias", layer: spec.Name, kind: "bias",
			shape: []int{out}, data: make([]float64, out), grad: make([]float64, out),
		}
	}
	return d
}

func (d *denseLayer) forward(x *mat.Dense, train bool) *mat.Dense {
	rows, _ := x.Dims()
	out := mat.NewDense(rows, d.out, nil)
	out.Mul(x, d.weights)
	if d.b != nil {
		for i := 0; i < rows; i++ {
			floats.Add(out.RawRowView(i), d.b.data)
		}
	}
	d.input = x
	return out
}

func (d *denseLayer) backward(grad *mat.Dense) *mat.Dense {
	gw := mat.NewDense(d.in, d.out, d.w.grad)
	gw.Mul(d.input.T(), grad)

	rows, _ := grad.Dims()
	if d.b != nil {
		for j := range d.b.grad {
			d.b.grad[j] = 0
		}
		for i := 0; i < rows; i++ {
			floats.Add(d.b.grad, grad.RawRowView(i))
		}
	}

	gradIn := mat.NewDense(rows, d.in, nil)
	gradIn.Mul(grad, d.weights.T())
	return gradIn
}

func (d *denseLayer) params() []*param {
	if d.b == nil {
		return []*param{d.w}
	}
	return []*param{d.w, d.b}
}

type activationLayer struct {
	kind   LayerType
	slope  float64
	input  *mat.Dense
	output *mat.Dense
}

func (a *activationLayer) forward(x *mat.Dense, train bool) *mat.Dense {
	out := mat.DenseCopyOf(x)
	out.Apply(func(_, _ int, v float64) float64 {
		switch a.kind {
		case ReLU:
			return math.Max(v, 0)
		case LeakyReLU:
			if v < 0 {
				return a.slope * v
			}
			return v
		case Sigmoid:
			return 1 / (1 + math.Exp(-v))
		default:
			return math.Tanh(v)
		}
	}, out)
	a.input, a.output = x, out
	return out
}

func (a *activationLayer) backward(grad *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(grad)
	out.Apply(func(i, j int, g float64) float64 {
		switch a.kind {
		case ReLU:
			if a.input.At(i, j) > 0 {
				return g
			}
			return 0
		case LeakyReLU:
			if a.input.At(i, j) < 0 {
				return a.slope * g
			}
			return g
		case Sigmoid:
			y := a.output.At(i, j)
			return g * y * (1 - y)
		default:
			y := a.output.At(i, j)
			return g * (1 - y*y)
		}
	}, out)
	return out
}

func (a *activationLayer) params() []*param { return nil }

// dropoutLayer zeroes inputs with probability rate in training mode and
// scales the survivors by 1/(1-rate).
type dropoutLayer struct {
	rate float64
	rng  *rand.Rand
	mask *mat.Dense
}

func (d *dropoutLayer) forward(x *mat.Dense, train bool) *mat.Dense {
	if !train || d.rate == 0 {
		d.mask = nil
		return x
	}
	rows, cols := x.Dims()
	d.mask = mat.NewDense(rows, cols, nil)
	scale := 1 / (1 - d.rate)
	for i := 0; i < rows; i++ {
		row := d.mask.RawRowView(i)
		for j := range row {
			if d.rng.Float64() >= d.rate {
				row[j] = scale
			}
		}
	}
	out := mat.NewDense(rows, cols, nil)
	out.MulElem(x, d.mask)
	return out
}

func (d *dropoutLayer) backward(grad *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return grad
	}
	rows, cols := grad.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.MulElem(grad, d.mask)
	return out
}

func (d *dropoutLayer) params() []*param { return nil }
