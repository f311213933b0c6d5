package checkpoints

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testCheckpoint() *Checkpoint {
	checkpoint := &Checkpoint{
		Weights: []WeightTensor{
			{
				Name:  "dense1.weight",
				Shape: []int{784, 16},
				Data:  make([]float64, 784*16),
				Layer: "dense1",
				Type:  "weight",
			},
			{
				Name:  "dense1.bias",
				Shape: []int{16},
				Data:  make([]float64, 16),
				Layer: "dense1",
				Type:  "bias",
			},
		},
		TrainingState: TrainingState{
			Epoch:           7,
			BestValAccuracy: 0.85,
			Samples:         16,
			Run:             3,
		},
		Metadata: CheckpointMetadata{
			Version:     "1.0.0",
			Framework:   "test",
			CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Model:       "mlp",
			Dataset:     "MNIST",
			Description: "Test checkpoint",
			Tags:        []string{"test", "mnist"},
		},
	}

	for i := range checkpoint.Weights[0].Data {
		checkpoint.Weights[0].Data[i] = float64(i%100) * 0.01
	}
	for i := range checkpoint.Weights[1].Data {
		checkpoint.Weights[1].Data[i] = -float64(i%10) * 0.1
	}
	return checkpoint
}

func assertSameCheckpoint(t *testing.T, expected, loaded *Checkpoint) {
	t.Helper()

	if loaded.TrainingState != expected.TrainingState {
		t.Errorf("Training state mismatch: expected %+v, got %+v", expected.TrainingState, loaded.TrainingState)
	}
	if len(loaded.Weights) != len(expected.Weights) {
		t.Fatalf("Weight count mismatch: expected %d, got %d", len(expected.Weights), len(loaded.Weights))
	}
	for i, w := range expected.Weights {
		got := loaded.Weights[i]
		if got.Name != w.Name || got.Layer != w.Layer || got.Type != w.Type {
			t.Errorf("Weight %d header mismatch: expected %s/%s/%s, got %s/%s/%s",
				i, w.Name, w.Layer, w.Type, got.Name, got.Layer, got.Type)
		}
		if len(got.Shape) != len(w.Shape) {
			t.Errorf("Weight %d shape mismatch: expected %v, got %v", i, w.Shape, got.Shape)
		}
		if len(got.Data) != len(w.Data) {
			t.Fatalf("Weight %d data length mismatch: expected %d, got %d", i, len(w.Data), len(got.Data))
		}
		for j := range w.Data {
			if got.Data[j] != w.Data[j] {
				t.Fatalf("Weight %d data mismatch at index %d: expected %f, got %f", i, j, w.Data[j], got.Data[j])
			}
		}
	}
	if loaded.Metadata.Model != expected.Metadata.Model || loaded.Metadata.Dataset != expected.Metadata.Dataset {
		t.Errorf("Metadata mismatch: expected %+v, got %+v", expected.Metadata, loaded.Metadata)
	}
	if !loaded.Metadata.CreatedAt.Equal(expected.Metadata.CreatedAt) {
		t.Errorf("CreatedAt mismatch: expected %v, got %v", expected.Metadata.CreatedAt, loaded.Metadata.CreatedAt)
	}
	if strings.Join(loaded.Metadata.Tags, ",") != strings.Join(expected.Metadata.Tags, ",") {
		t.Errorf("Tags mismatch: expected %v, got %v", expected.Metadata.Tags, loaded.Metadata.Tags)
	}
}

func TestCheckpointSaveLoad(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatJSON, FormatProto} {
		t.Run(format.String(), func(t *testing.T) {
			checkpoint := testCheckpoint()
			saver := NewCheckpointSaver(format)
			testFile := filepath.Join(t.TempDir(), "checkpoint"+format.Extension())

			if err := saver.SaveCheckpoint(checkpoint, testFile); err != nil {
				t.Fatalf("Failed to save checkpoint: %v", err)
			}
			loaded, err := saver.LoadCheckpoint(testFile)
			if err != nil {
				t.Fatalf("Failed to load checkpoint: %v", err)
			}
			assertSameCheckpoint(t, checkpoint, loaded)
			if loaded.IsFinal() {
				t.Error("Checkpoint without evaluation should not be final")
			}
		})
	}
}

func TestFinalizedCheckpointSaveLoad(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatJSON, FormatProto} {
		t.Run(format.String(), func(t *testing.T) {
			checkpoint := testCheckpoint()
			checkpoint.Finalize(Evaluation{
				TestAccuracy:    0.75,
				MacroF1:         0.7,
				ConfusionMatrix: [][]int{{3, 1}, {0, 4}},
			})
			if len(checkpoint.Weights) != 0 {
				t.Fatal("Finalize should drop the weights")
			}

			saver := NewCheckpointSaver(format)
			testFile := filepath.Join(t.TempDir(), "run0"+format.Extension())
			if err := saver.SaveCheckpoint(checkpoint, testFile); err != nil {
				t.Fatalf("Failed to save checkpoint: %v", err)
			}
			loaded, err := saver.LoadCheckpoint(testFile)
			if err != nil {
				t.Fatalf("Failed to load checkpoint: %v", err)
			}

			if !loaded.IsFinal() {
				t.Fatal("Loaded checkpoint should be final")
			}
			if len(loaded.Weights) != 0 {
				t.Errorf("Expected no weights, got %d", len(loaded.Weights))
			}
			eval := loaded.Evaluation
			if eval.TestAccuracy != 0.75 || eval.MacroF1 != 0.7 {
				t.Errorf("Unexpected evaluation %+v", eval)
			}
			if len(eval.ConfusionMatrix) != 2 || eval.ConfusionMatrix[0][1] != 1 || eval.ConfusionMatrix[1][1] != 4 {
				t.Errorf("Unexpected confusion matrix %v", eval.ConfusionMatrix)
			}
			if loaded.TrainingState.BestValAccuracy != 0.85 {
				t.Errorf("Expected best val accuracy 0.85, got %f", loaded.TrainingState.BestValAccuracy)
			}
		})
	}
}

// TestCheckpointFormatString tests the String() and Extension() methods for CheckpointFormat
func TestCheckpointFormatString(t *testing.T) {
	tests := []struct {
		format    CheckpointFormat
		expected  string
		extension string
	}{
		{FormatJSON, "JSON", ".json"},
		{FormatProto, "Proto", ".pb"},
		{CheckpointFormat(999), "Unknown", ".json"},
	}

	for _, test := range tests {
		if result := test.format.String(); result != test.expected {
			t.Errorf("Format %d: expected %s, got %s", test.format, test.expected, result)
		}
		if ext := test.format.Extension(); ext != test.extension {
			t.Errorf("Format %d: expected extension %s, got %s", test.format, test.extension, ext)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected CheckpointFormat
		wantErr  bool
	}{
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"proto", FormatProto, false},
		{"pb", FormatProto, false},
		{"onnx", FormatJSON, true},
	}

	for _, test := range tests {
		format, err := ParseFormat(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
			continue
		}
		if !test.wantErr && format != test.expected {
			t.Errorf("ParseFormat(%q) = %s, expected %s", test.input, format, test.expected)
		}
	}
}

// TestUnsupportedCheckpointFormat tests error handling for unsupported formats
func TestUnsupportedCheckpointFormat(t *testing.T) {
	saver := NewCheckpointSaver(CheckpointFormat(999))
	dir := t.TempDir()

	err := saver.SaveCheckpoint(&Checkpoint{}, filepath.Join(dir, "test.invalid"))
	if err == nil || !strings.Contains(err.Error(), "unsupported checkpoint format") {
		t.Errorf("Expected 'unsupported checkpoint format' error, got: %v", err)
	}

	path := filepath.Join(dir, "present.invalid")
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	_, err = saver.LoadCheckpoint(path)
	if err == nil || !strings.Contains(err.Error(), "unsupported checkpoint format") {
		t.Errorf("Expected 'unsupported checkpoint format' error, got: %v", err)
	}
}

// TestLoadFileErrors tests loading error conditions
func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewCheckpointSaver(FormatJSON).LoadCheckpoint(filepath.Join(dir, "nonexistent.json"))
	if err == nil || !strings.Contains(err.Error(), "failed to open checkpoint file") {
		t.Errorf("Expected 'failed to open checkpoint file' error, got: %v", err)
	}

	invalidJSON := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalidJSON, []byte("{invalid json"), 0644); err != nil {
		t.Fatalf("Failed to create invalid JSON file: %v", err)
	}
	_, err = NewCheckpointSaver(FormatJSON).LoadCheckpoint(invalidJSON)
	if err == nil || !strings.Contains(err.Error(), "failed to decode checkpoint") {
		t.Errorf("Expected 'failed to decode checkpoint' error, got: %v", err)
	}

	// A truncated length-delimited field.
	invalidProto := filepath.Join(dir, "invalid.pb")
	if err := os.WriteFile(invalidProto, []byte{0x0a, 0x7f, 0x01}, 0644); err != nil {
		t.Fatalf("Failed to create invalid proto file: %v", err)
	}
	_, err = NewCheckpointSaver(FormatProto).LoadCheckpoint(invalidProto)
	if err == nil || !strings.Contains(err.Error(), "failed to decode checkpoint") {
		t.Errorf("Expected 'failed to decode checkpoint' error, got: %v", err)
	}
}

// TestCheckpointMetadataDefaults tests automatic metadata setting
func TestCheckpointMetadataDefaults(t *testing.T) {
	saver := NewCheckpointSaver(FormatJSON)
	checkpoint := &Checkpoint{}

	if err := saver.SaveCheckpoint(checkpoint, filepath.Join(t.TempDir(), "meta.json")); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	if checkpoint.Metadata.Framework != "go-sweep" {
		t.Errorf("Expected framework 'go-sweep', got '%s'", checkpoint.Metadata.Framework)
	}
	if checkpoint.Metadata.Version != "1.0.0" {
		t.Errorf("Expected version '1.0.0', got '%s'", checkpoint.Metadata.Version)
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set to current time")
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	saver := NewCheckpointSaver(FormatJSON)
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "run0.json")

	first := testCheckpoint()
	if err := saver.SaveCheckpoint(first, path); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}
	second := testCheckpoint()
	second.TrainingState.Epoch = 12
	if err := saver.SaveCheckpoint(second, path); err != nil {
		t.Fatalf("Failed to overwrite checkpoint: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("Failed to load checkpoint: %v", err)
	}
	if loaded.TrainingState.Epoch != 12 {
		t.Errorf("Expected last write to win, got epoch %d", loaded.TrainingState.Epoch)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only the checkpoint in %s, found %d entries", filepath.Dir(path), len(entries))
	}
}

func TestCloneWeights(t *testing.T) {
	original := testCheckpoint().Weights
	clone := CloneWeights(original)
	clone[0].Data[0] = 42
	clone[0].Shape[0] = 1
	if original[0].Data[0] == 42 || original[0].Shape[0] == 1 {
		t.Error("CloneWeights should not share backing arrays")
	}
}
