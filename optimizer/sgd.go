package optimizer

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// SGDOptimizerState holds the velocity buffers of SGD with momentum
type SGDOptimizerState struct {
	LearningRate float64
	Momentum     float64 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float64 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	MomentumBuffers [][]float64 // Only allocated if momentum > 0

	StepCount uint64
}

// NewSGDOptimizer creates a new SGD optimizer
func NewSGDOptimizer(config SGDConfig) (*SGDOptimizerState, error) {
	if config.LearningRate <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, errors.Errorf("momentum must be in [0, 1), got %g", config.Momentum)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, errors.New("nesterov momentum requires a positive momentum")
	}
	return &SGDOptimizerState{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
	}, nil
}

// Step performs a single SGD optimization step
func (sgd *SGDOptimizerState) Step(params, grads [][]float64) error {
	if err := checkBuffers(params, grads, sgd.MomentumBuffers); err != nil {
		return err
	}
	if sgd.Momentum > 0 && sgd.MomentumBuffers == nil {
		sgd.MomentumBuffers = zeroBuffers(params)
	}
	sgd.StepCount++

	for i, w := range params {
		g := grads[i]
		if sgd.WeightDecay != 0 {
			g = append([]float64(nil), g...)
			floats.AddScaled(g, sgd.WeightDecay, w)
		}
		if sgd.Momentum == 0 {
			floats.AddScaled(w, -sgd.LearningRate, g)
			continue
		}

		buf := sgd.MomentumBuffers[i]
		floats.Scale(sgd.Momentum, buf)
		floats.Add(buf, g)
		if sgd.Nesterov {
			floats.AddScaled(w, -sgd.LearningRate, g)
			floats.AddScaled(w, -sgd.LearningRate*sgd.Momentum, buf)
		} else {
			floats.AddScaled(w, -sgd.LearningRate, buf)
		}
	}
	return nil
}

// Reset clears the velocity buffers and step count.
func (sgd *SGDOptimizerState) Reset() {
	sgd.MomentumBuffers = nil
	sgd.StepCount = 0
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float64) {
	sgd.LearningRate = newLR
}
