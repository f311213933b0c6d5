package training

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// MetricType represents different evaluation metrics
type MetricType int

const (
	Accuracy MetricType = iota

	// Multi-class Metrics
	MacroPrecision
	MacroRecall
	MacroF1
	MicroPrecision
	MicroRecall
	MicroF1
)

func (mt MetricType) String() string {
	switch mt {
	case Accuracy:
		return "Accuracy"
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroPrecision:
		return "MicroPrecision"
	case MicroRecall:
		return "MicroRecall"
	case MicroF1:
		return "MicroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix represents a confusion matrix for classification tasks
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int

	// Cached metrics to avoid recomputation
	cachedMetrics map[MetricType]float64
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	return &ConfusionMatrix{
		NumClasses:    numClasses,
		Matrix:        matrix,
		cachedMetrics: make(map[MetricType]float64),
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
	cm.cachedMetrics = make(map[MetricType]float64)
}

// Update adds one prediction per label.
func (cm *ConfusionMatrix) Update(predictions []int, trueLabels []int64) error {
	if len(predictions) != len(trueLabels) {
		return errors.Errorf("predictions length mismatch: expected %d, got %d", len(trueLabels), len(predictions))
	}

	for i, pred := range predictions {
		trueClass := int(trueLabels[i])
		if trueClass < 0 || trueClass >= cm.NumClasses {
			return errors.Errorf("label %d outside [0, %d)", trueClass, cm.NumClasses)
		}
		if pred < 0 || pred >= cm.NumClasses {
			return errors.Errorf("prediction %d outside [0, %d)", pred, cm.NumClasses)
		}
		cm.Matrix[trueClass][pred]++
		cm.TotalSamples++
	}

	cm.cachedMetrics = make(map[MetricType]float64)
	return nil
}

// GetMetric calculates and caches evaluation metrics
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	if value, exists := cm.cachedMetrics[metric]; exists {
		return value
	}

	var result float64
	switch metric {
	case Accuracy:
		result = cm.calculateAccuracy()
	case MacroPrecision:
		result = cm.calculateMacroPrecision()
	case MacroRecall:
		result = cm.calculateMacroRecall()
	case MacroF1:
		result = cm.calculateMacroF1()
	case MicroPrecision, MicroRecall, MicroF1:
		// Every misclassification is one false positive and one false
		// negative, so the micro averages equal accuracy.
		result = cm.calculateAccuracy()
	default:
		return 0.0
	}

	cm.cachedMetrics[metric] = result
	return result
}

// Accuracy is the fraction of samples on the diagonal.
func (cm *ConfusionMatrix) Accuracy() float64 {
	return cm.GetMetric(Accuracy)
}

// Precision of one class; zero when the class was never predicted.
func (cm *ConfusionMatrix) Precision(class int) float64 {
	tp := float64(cm.Matrix[class][class])
	predicted := 0.0
	for trueClass := 0; trueClass < cm.NumClasses; trueClass++ {
		predicted += float64(cm.Matrix[trueClass][class])
	}
	if predicted == 0 {
		return 0.0
	}
	return tp / predicted
}

// Recall of one class; zero when the class has no samples.
func (cm *ConfusionMatrix) Recall(class int) float64 {
	tp := float64(cm.Matrix[class][class])
	actual := 0.0
	for _, n := range cm.Matrix[class] {
		actual += float64(n)
	}
	if actual == 0 {
		return 0.0
	}
	return tp / actual
}

// F1 of one class.
func (cm *ConfusionMatrix) F1(class int) float64 {
	p, r := cm.Precision(class), cm.Recall(class)
	if p+r == 0 {
		return 0.0
	}
	return 2 * p * r / (p + r)
}

func (cm *ConfusionMatrix) calculateAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}
	correct := 0
	for class := 0; class < cm.NumClasses; class++ {
		correct += cm.Matrix[class][class]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

func (cm *ConfusionMatrix) calculateMacroPrecision() float64 {
	return cm.macroAverage(cm.Precision)
}

func (cm *ConfusionMatrix) calculateMacroRecall() float64 {
	return cm.macroAverage(cm.Recall)
}

// Macro F1 averages the per-class F1 scores.
func (cm *ConfusionMatrix) calculateMacroF1() float64 {
	return cm.macroAverage(cm.F1)
}

func (cm *ConfusionMatrix) macroAverage(perClass func(int) float64) float64 {
	if cm.NumClasses == 0 {
		return 0.0
	}
	sum := 0.0
	for class := 0; class < cm.NumClasses; class++ {
		sum += perClass(class)
	}
	return sum / float64(cm.NumClasses)
}

// Counts returns a copy of the matrix.
func (cm *ConfusionMatrix) Counts() [][]int {
	out := make([][]int, cm.NumClasses)
	for i, row := range cm.Matrix {
		out[i] = append([]int(nil), row...)
	}
	return out
}

// String renders the matrix one true class per line.
func (cm *ConfusionMatrix) String() string {
	var sb strings.Builder
	for _, row := range cm.Matrix {
		for j, n := range row {
			if j > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%d", n)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
