package optimizer

import (
	"math"

	"github.com/pkg/errors"
)

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// Validate checks the hyperparameter ranges.
func (c AdamConfig) Validate() error {
	switch {
	case c.LearningRate <= 0:
		return errors.Errorf("learning rate must be positive, got %g", c.LearningRate)
	case c.Beta1 < 0 || c.Beta1 >= 1:
		return errors.Errorf("beta1 must be in [0, 1), got %g", c.Beta1)
	case c.Beta2 < 0 || c.Beta2 >= 1:
		return errors.Errorf("beta2 must be in [0, 1), got %g", c.Beta2)
	case c.Epsilon <= 0:
		return errors.Errorf("epsilon must be positive, got %g", c.Epsilon)
	case c.WeightDecay < 0:
		return errors.Errorf("weight decay must be non-negative, got %g", c.WeightDecay)
	}
	return nil
}

// AdamOptimizerState holds the moment estimates of Adam
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Beta1        float64 // Momentum decay (typically 0.9)
	Beta2        float64 // Variance decay (typically 0.999)
	Epsilon      float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float64 // L2 regularization coefficient

	MomentumBuffers [][]float64 // First moment for each weight tensor
	VarianceBuffers [][]float64 // Second moment for each weight tensor

	// Step tracking for bias correction
	StepCount uint64
}

// NewAdamOptimizer creates a new Adam optimizer. Moment buffers are allocated
// on the first Step.
func NewAdamOptimizer(config AdamConfig) (*AdamOptimizerState, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AdamOptimizerState{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
	}, nil
}

// Step performs a single Adam optimization step
func (adam *AdamOptimizerState) Step(params, grads [][]float64) error {
	if err := checkBuffers(params, grads, adam.MomentumBuffers); err != nil {
		return err
	}
	if adam.MomentumBuffers == nil {
		adam.MomentumBuffers = zeroBuffers(params)
		adam.VarianceBuffers = zeroBuffers(params)
	}

	adam.StepCount++
	bias1 := 1 - math.Pow(adam.Beta1, float64(adam.StepCount))
	bias2 := 1 - math.Pow(adam.Beta2, float64(adam.StepCount))
	stepSize := adam.LearningRate / bias1

	for i, w := range params {
		m := adam.MomentumBuffers[i]
		v := adam.VarianceBuffers[i]
		for j, g := range grads[i] {
			if adam.WeightDecay != 0 {
				g += adam.WeightDecay * w[j]
			}
			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*g
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*g*g
			w[j] -= stepSize * m[j] / (math.Sqrt(v[j]/bias2) + adam.Epsilon)
		}
	}
	return nil
}

// Reset clears the moment estimates and step count.
func (adam *AdamOptimizerState) Reset() {
	adam.MomentumBuffers = nil
	adam.VarianceBuffers = nil
	adam.StepCount = 0
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float64) {
	adam.LearningRate = newLR
}
