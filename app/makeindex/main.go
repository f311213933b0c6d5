// Command makeindex writes a precomputed index table for the sweep: one
// column of one-based per-class offsets per run.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/tsawler/go-sweep/sampling"
	"github.com/tsawler/go-sweep/vision/dataset"
)

var (
	flagOut      = flag.String("out", "Ind_tr.mat", "Output file")
	flagDataset  = flag.String("dataset", "", "Dataset identifier; sets -rows to its validation boundary plus -val-rows")
	flagMaxIndex = flag.Int("max-index", 0, "Exclusive upper bound of the offsets, normally the smallest class size")
	flagRows     = flag.Int("rows", 0, "Offsets per run")
	flagValRows  = flag.Int("val-rows", 0, "Validation offsets appended after the training rows when -dataset is set")
	flagRuns     = flag.Int("runs", 5, "Number of runs")
	flagVariable = flag.String("variable", sampling.DefaultIndexVariable, "Array name in the output file")
)

func main() {
	flag.Parse()

	rows := *flagRows
	if *flagDataset != "" {
		cfg, err := dataset.Lookup(*flagDataset)
		if err != nil {
			log.Fatalf("%v", err)
		}
		rows = cfg.MaxSamples() + *flagValRows
	}
	if *flagMaxIndex <= 0 || rows <= 0 || *flagRuns <= 0 {
		log.Fatalf("-max-index, -rows (or -dataset) and -runs must be positive")
	}

	table, err := sampling.GenerateIndexTable(*flagMaxIndex, rows, *flagRuns)
	if err != nil {
		log.Fatalf("Failed to generate index table: %v", err)
	}
	if err := table.Save(*flagOut, *flagVariable); err != nil {
		log.Fatalf("Failed to write index table: %v", err)
	}
	fmt.Printf("wrote %d x %d offsets in [1, %d] to %s\n", table.Rows, table.Runs, *flagMaxIndex, *flagOut)
}
