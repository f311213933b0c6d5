package training

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SoftmaxCrossEntropy returns the mean cross-entropy of logits against labels
// and its gradient with respect to the logits.
func SoftmaxCrossEntropy(logits *mat.Dense, labels []int64) (float64, *mat.Dense, error) {
	rows, classes := logits.Dims()
	if rows != len(labels) {
		return 0, nil, errors.Errorf("logits have %d rows for %d labels", rows, len(labels))
	}

	grad := mat.NewDense(rows, classes, nil)
	loss := 0.0
	for i := 0; i < rows; i++ {
		label := int(labels[i])
		if label < 0 || label >= classes {
			return 0, nil, errors.Errorf("label %d outside [0, %d)", label, classes)
		}

		g := grad.RawRowView(i)
		Softmax(g, logits.RawRowView(i))
		loss -= math.Log(math.Max(g[label], math.SmallestNonzeroFloat64))
		g[label] -= 1
		floats.Scale(1/float64(rows), g)
	}
	return loss / float64(rows), grad, nil
}

// Softmax writes the softmax of src into dst.
func Softmax(dst, src []float64) {
	maxLogit := floats.Max(src)
	sum := 0.0
	for j, v := range src {
		dst[j] = math.Exp(v - maxLogit)
		sum += dst[j]
	}
	floats.Scale(1/sum, dst)
}

// Predict returns the argmax class of every row.
func Predict(logits *mat.Dense) []int {
	rows, _ := logits.Dims()
	pred := make([]int, rows)
	for i := range pred {
		pred[i] = floats.MaxIdx(logits.RawRowView(i))
	}
	return pred
}
