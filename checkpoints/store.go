package checkpoints

import (
	"fmt"
	"path/filepath"
)

const (
	initialName = "initial"
	reportName  = "report.json"
)

// Store lays out the checkpoints of one sweep on disk:
//
//	<root>/<dataset>/initial-model-<model>.<ext>
//	<root>/<dataset>/samples-<n>-model-<model>/run<r>.<ext>
//	<root>/<dataset>/report.json
type Store struct {
	Root    string
	Dataset string
	saver   *CheckpointSaver
}

// NewStore creates a store under root for one dataset.
func NewStore(root, dataset string, format CheckpointFormat) *Store {
	return &Store{Root: root, Dataset: dataset, saver: NewCheckpointSaver(format)}
}

// Format returns the checkpoint serialization format.
func (s *Store) Format() CheckpointFormat {
	return s.saver.Format()
}

// Dir is the dataset directory of the store.
func (s *Store) Dir() string {
	return filepath.Join(s.Root, s.Dataset)
}

// InitialPath is where the untrained snapshot of model is kept.
func (s *Store) InitialPath(model string) string {
	return filepath.Join(s.Dir(), fmt.Sprintf("%s-model-%s%s", initialName, model, s.Format().Extension()))
}

// RunPath is where the checkpoint of one (samples, run) pair is kept.
func (s *Store) RunPath(samples int, model string, run int) string {
	dir := fmt.Sprintf("samples-%d-model-%s", samples, model)
	return filepath.Join(s.Dir(), dir, fmt.Sprintf("run%d%s", run, s.Format().Extension()))
}

// ReportPath is where the sweep summary is kept.
func (s *Store) ReportPath() string {
	return filepath.Join(s.Dir(), reportName)
}

// SaveInitial persists the untrained weights of model.
func (s *Store) SaveInitial(model string, weights []WeightTensor) error {
	ckpt := &Checkpoint{
		Weights:  weights,
		Metadata: CheckpointMetadata{Model: model, Dataset: s.Dataset, Description: "initial weights"},
	}
	return s.saver.SaveCheckpoint(ckpt, s.InitialPath(model))
}

// LoadInitial reads the untrained snapshot of model.
func (s *Store) LoadInitial(model string) (*Checkpoint, error) {
	return s.saver.LoadCheckpoint(s.InitialPath(model))
}

// SaveBest replaces the run checkpoint with the weights of a new best epoch.
func (s *Store) SaveBest(model string, weights []WeightTensor, state TrainingState) error {
	ckpt := &Checkpoint{
		Weights:       weights,
		TrainingState: state,
		Metadata:      CheckpointMetadata{Model: model, Dataset: s.Dataset},
	}
	return s.saver.SaveCheckpoint(ckpt, s.RunPath(state.Samples, model, state.Run))
}

// LoadRun reads the checkpoint of one (samples, run) pair.
func (s *Store) LoadRun(samples int, model string, run int) (*Checkpoint, error) {
	return s.saver.LoadCheckpoint(s.RunPath(samples, model, run))
}

// Finalize replaces a run checkpoint with its evaluation results. The weights
// are dropped.
func (s *Store) Finalize(ckpt *Checkpoint, eval Evaluation) error {
	ckpt.Finalize(eval)
	path := s.RunPath(ckpt.TrainingState.Samples, ckpt.Metadata.Model, ckpt.TrainingState.Run)
	return s.saver.SaveCheckpoint(ckpt, path)
}
