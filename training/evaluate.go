package training

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DefaultEvalBatchSize is the number of rows per evaluation forward pass.
const DefaultEvalBatchSize = 2000

// EvalResult is the outcome of evaluating a model on a labeled matrix.
type EvalResult struct {
	Accuracy  float64
	Confusion *ConfusionMatrix
}

// Evaluate runs the model in inference mode over x in batches of batchSize rows.
func Evaluate(model Model, x *mat.Dense, labels []int64, numClasses, batchSize int) (*EvalResult, error) {
	rows, cols := x.Dims()
	if rows != len(labels) {
		return nil, errors.Errorf("data has %d rows for %d labels", rows, len(labels))
	}
	if rows == 0 {
		return nil, errors.New("cannot evaluate an empty set")
	}
	if batchSize <= 0 {
		batchSize = DefaultEvalBatchSize
	}

	cm := NewConfusionMatrix(numClasses)
	for start := 0; start < rows; start += batchSize {
		end := min(start+batchSize, rows)
		batch := x.Slice(start, end, 0, cols).(*mat.Dense)

		logits, err := model.Forward(batch, false)
		if err != nil {
			return nil, errors.Wrapf(err, "forward pass on rows [%d, %d)", start, end)
		}
		if err := cm.Update(Predict(logits), labels[start:end]); err != nil {
			return nil, err
		}
	}
	return &EvalResult{Accuracy: cm.Accuracy(), Confusion: cm}, nil
}
