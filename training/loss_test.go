package training

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSoftmaxCrossEntropy(t *testing.T) {
	t.Run("Uniform logits", func(t *testing.T) {
		logits := mat.NewDense(2, 2, nil)
		loss, grad, err := SoftmaxCrossEntropy(logits, []int64{0, 1})
		if err != nil {
			t.Fatalf("SoftmaxCrossEntropy failed: %v", err)
		}
		if math.Abs(loss-math.Ln2) > 1e-12 {
			t.Errorf("Expected loss ln 2, got %f", loss)
		}

		// (softmax - onehot) / batch
		expected := []float64{-0.25, 0.25, 0.25, -0.25}
		for i, want := range expected {
			if got := grad.RawMatrix().Data[i]; math.Abs(got-want) > 1e-12 {
				t.Errorf("grad[%d] = %f, expected %f", i, got, want)
			}
		}
	})

	t.Run("Large logits stay finite", func(t *testing.T) {
		logits := mat.NewDense(1, 3, []float64{1000, 0, -1000})
		loss, grad, err := SoftmaxCrossEntropy(logits, []int64{2})
		if err != nil {
			t.Fatalf("SoftmaxCrossEntropy failed: %v", err)
		}
		if math.IsInf(loss, 0) || math.IsNaN(loss) {
			t.Errorf("Expected finite loss, got %f", loss)
		}
		if math.Abs(grad.At(0, 0)-1) > 1e-12 || math.Abs(grad.At(0, 2)+1) > 1e-12 {
			t.Errorf("Unexpected gradient %v", grad.RawRowView(0))
		}
	})

	t.Run("Known value", func(t *testing.T) {
		logits := mat.NewDense(1, 3, []float64{1, 2, 3})
		loss, _, err := SoftmaxCrossEntropy(logits, []int64{2})
		if err != nil {
			t.Fatalf("SoftmaxCrossEntropy failed: %v", err)
		}
		expected := -3 + math.Log(math.Exp(1)+math.Exp(2)+math.Exp(3))
		if math.Abs(loss-expected) > 1e-12 {
			t.Errorf("Expected loss %f, got %f", expected, loss)
		}
	})

	t.Run("Invalid labels", func(t *testing.T) {
		logits := mat.NewDense(2, 2, nil)
		if _, _, err := SoftmaxCrossEntropy(logits, []int64{0}); err == nil {
			t.Error("Expected error for label count mismatch")
		}
		if _, _, err := SoftmaxCrossEntropy(logits, []int64{0, 2}); err == nil {
			t.Error("Expected error for out-of-range label")
		}
	})
}

func TestPredict(t *testing.T) {
	logits := mat.NewDense(3, 3, []float64{
		0.1, 0.7, 0.2,
		5, -1, 4.9,
		0, 0, 1,
	})
	expected := []int{1, 0, 2}
	for i, got := range Predict(logits) {
		if got != expected[i] {
			t.Errorf("row %d: predicted %d, expected %d", i, got, expected[i])
		}
	}
}
