package optimizer

import (
	"github.com/pkg/errors"
)

// Optimizer updates parameter buffers in place from their gradients. The
// buffers passed to Step must keep the same order and lengths between calls
// until Reset.
type Optimizer interface {
	// Step performs a single optimization step
	Step(params, grads [][]float64) error

	// Reset discards accumulated state and the step count.
	Reset()

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float64)
}

// checkBuffers validates params against grads and, when state is non-empty,
// against the lengths recorded in state.
func checkBuffers(params, grads, state [][]float64) error {
	if len(params) != len(grads) {
		return errors.Errorf("%d parameter buffers for %d gradient buffers", len(params), len(grads))
	}
	for i := range params {
		if len(params[i]) != len(grads[i]) {
			return errors.Errorf("buffer %d: %d parameters for %d gradients", i, len(params[i]), len(grads[i]))
		}
	}
	if len(state) == 0 {
		return nil
	}
	if len(state) != len(params) {
		return errors.Errorf("optimizer tracks %d buffers, got %d", len(state), len(params))
	}
	for i := range params {
		if len(state[i]) != len(params[i]) {
			return errors.Errorf("buffer %d changed size from %d to %d", i, len(state[i]), len(params[i]))
		}
	}
	return nil
}

func zeroBuffers(like [][]float64) [][]float64 {
	out := make([][]float64, len(like))
	for i, b := range like {
		out[i] = make([]float64, len(b))
	}
	return out
}
