package training

import (
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-sweep/checkpoints"
)

// Model is a trainable classifier operating on batches of flattened samples.
type Model interface {
	// Name identifies the architecture in checkpoint paths.
	Name() string

	// Forward returns one row of class logits per input row. train enables
	// stochastic layers such as dropout.
	Forward(x *mat.Dense, train bool) (*mat.Dense, error)

	// BackwardAndStep backpropagates the softmax cross-entropy of the logits
	// returned by the last Forward call and applies one optimizer step.
	BackwardAndStep(logits *mat.Dense, labels []int64) (float64, error)

	// Weights returns a copy of every parameter tensor.
	Weights() []checkpoints.WeightTensor

	// LoadWeights replaces every parameter tensor and clears optimizer state.
	LoadWeights(weights []checkpoints.WeightTensor) error
}

// Reseeder is implemented by models with stochastic layers. The sweep reseeds
// them at the start of every run with the run's seed.
type Reseeder interface {
	Reseed(seed uint32)
}
