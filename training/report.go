package training

import (
	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-sweep/checkpoints"
)

// Aggregate groups run results by sample count, in order of first
// appearance, and summarizes their test accuracies.
func Aggregate(datasetName, model string, results []RunResult, failures []checkpoints.RunFailure) *checkpoints.SweepReport {
	report := &checkpoints.SweepReport{Dataset: datasetName, Model: model, Failures: failures}

	index := make(map[int]int)
	var bestVals [][]float64
	for _, r := range results {
		i, ok := index[r.Samples]
		if !ok {
			i = len(report.Entries)
			index[r.Samples] = i
			report.Entries = append(report.Entries, checkpoints.ReportEntry{Samples: r.Samples})
			bestVals = append(bestVals, nil)
		}
		e := &report.Entries[i]
		e.Runs++
		e.TestAccuracies = append(e.TestAccuracies, r.TestAccuracy)
		bestVals[i] = append(bestVals[i], r.BestValAccuracy)
	}

	for i := range report.Entries {
		e := &report.Entries[i]
		e.MeanTestAccuracy, e.StdTestAccuracy = stat.MeanStdDev(e.TestAccuracies, nil)
		if e.Runs < 2 {
			e.StdTestAccuracy = 0
		}
		e.MeanBestValAccuracy = stat.Mean(bestVals[i], nil)
	}
	return report
}
