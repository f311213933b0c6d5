package checkpoints

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

// SweepReport summarizes a finished sweep.
type SweepReport struct {
	Dataset   string        `json:"dataset"`
	Model     string        `json:"model"`
	CreatedAt time.Time     `json:"created_at"`
	Entries   []ReportEntry `json:"entries"`
	Failures  []RunFailure  `json:"failures,omitempty"`
}

// ReportEntry aggregates the runs of one sample count.
type ReportEntry struct {
	Samples             int       `json:"samples"`
	Runs                int       `json:"runs"`
	MeanTestAccuracy    float64   `json:"mean_test_acc"`
	StdTestAccuracy     float64   `json:"std_test_acc"`
	MeanBestValAccuracy float64   `json:"mean_best_val_acc"`
	TestAccuracies      []float64 `json:"test_accs"`
}

// RunFailure records a run that did not complete.
type RunFailure struct {
	Samples int    `json:"samples"`
	Run     int    `json:"run"`
	Error   string `json:"error"`
}

// SaveReport writes the sweep report as JSON regardless of checkpoint format.
func (s *Store) SaveReport(report *SweepReport) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode sweep report")
	}
	return writeFileAtomic(s.ReportPath(), data)
}

// LoadReport reads the sweep report.
func (s *Store) LoadReport() (*SweepReport, error) {
	data, err := os.ReadFile(s.ReportPath())
	if err != nil {
		return nil, errors.Wrap(err, "failed to read sweep report")
	}
	var report SweepReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, errors.Wrap(err, "failed to decode sweep report")
	}
	return &report, nil
}
