package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension used for the format.
func (cf CheckpointFormat) Extension() string {
	switch cf {
	case FormatProto:
		return ".pb"
	default:
		return ".json"
	}
}

// ParseFormat maps "json" or "proto" (case-insensitive) to a format.
func ParseFormat(s string) (CheckpointFormat, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "proto", "pb", "protobuf":
		return FormatProto, nil
	default:
		return FormatJSON, errors.Errorf("unsupported checkpoint format %q", s)
	}
}

// Checkpoint is the persisted state of one run: model weights plus the best
// validation result while training, or evaluation results without weights
// once the run is finalized.
type Checkpoint struct {
	Weights []WeightTensor `json:"weights,omitempty"`

	TrainingState TrainingState `json:"training_state"`

	// Set by Finalize
	Evaluation *Evaluation `json:"evaluation,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// TrainingState captures where in the run the checkpoint was taken
type TrainingState struct {
	Epoch           int     `json:"epoch"`
	BestValAccuracy float64 `json:"best_val_acc"`
	Samples         int     `json:"samples"`
	Run             int     `json:"run"`
}

// Evaluation holds the held-out test results of a finalized run
type Evaluation struct {
	TestAccuracy    float64 `json:"test_acc"`
	MacroF1         float64 `json:"macro_f1"`
	ConfusionMatrix [][]int `json:"confusion_matrix"` // [true_class][predicted_class]
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Model       string    `json:"model,omitempty"`
	Dataset     string    `json:"dataset,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Finalize attaches evaluation results and detaches the weights.
func (c *Checkpoint) Finalize(eval Evaluation) {
	c.Weights = nil
	c.Evaluation = &eval
}

// IsFinal reports whether the checkpoint holds evaluation results.
func (c *Checkpoint) IsFinal() bool {
	return c.Evaluation != nil
}

// CloneWeights deep-copies a weight list.
func CloneWeights(weights []WeightTensor) []WeightTensor {
	out := make([]WeightTensor, len(weights))
	for i, w := range weights {
		out[i] = w
		out[i].Shape = append([]int(nil), w.Shape...)
		out[i].Data = append([]float64(nil), w.Data...)
	}
	return out
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the saver's serialization format.
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint saves a checkpoint, replacing any file at path atomically.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-sweep"
		checkpoint.Metadata.Version = "1.0.0"
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now().UTC()
	}

	var (
		data []byte
		err  error
	)
	switch cs.format {
	case FormatJSON:
		data, err = json.MarshalIndent(checkpoint, "", "  ")
	case FormatProto:
		data = marshalCheckpoint(checkpoint)
	default:
		return errors.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
	if err != nil {
		return errors.Wrap(err, "failed to encode checkpoint")
	}

	return writeFileAtomic(path, data)
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}

	var checkpoint Checkpoint
	switch cs.format {
	case FormatJSON:
		err = json.Unmarshal(data, &checkpoint)
	case FormatProto:
		err = unmarshalCheckpoint(data, &checkpoint)
	default:
		return nil, errors.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %s", path)
	}
	return &checkpoint, nil
}

// writeFileAtomic writes data to a temporary file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write checkpoint file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close checkpoint file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "failed to move checkpoint into %s", path)
}
