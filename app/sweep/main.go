// Command sweep trains a classifier on growing per-class training subsets of
// a dataset, several times per subset size, and records the test accuracy of
// every run's best validation checkpoint.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tsawler/go-sweep/checkpoints"
	"github.com/tsawler/go-sweep/layers"
	"github.com/tsawler/go-sweep/optimizer"
	"github.com/tsawler/go-sweep/sampling"
	"github.com/tsawler/go-sweep/training"
	"github.com/tsawler/go-sweep/vision/dataset"
)

var (
	flagDataset   = flag.String("dataset", "MNIST", "Dataset identifier: "+strings.Join(dataset.Names(), ", "))
	flagDataDir   = flag.String("datadir", "", "Dataset directory (default data/<dataset>)")
	flagBatchSize = flag.Int("batch-size", 32, "Training batch size")
	flagImgSize   = flag.Int("img-size", 0, "Image height and width; required for datasets without a fixed size")
	flagEpochs    = flag.Int("epochs", 50, "Training epochs per run")
	flagRepeats   = flag.Int("repeats", 5, "Runs per sample count")
	flagSamples   = flag.String("samples", "", "Comma-separated per-class sample counts (default powers of two up to the dataset maximum)")
	flagResults   = flag.String("results", "results", "Root directory for checkpoints and the sweep report")
	flagFormat    = flag.String("format", "json", "Checkpoint format: json or proto")
	flagIndexFile = flag.String("index-file", "", "Precomputed index table; samples are drawn from the generator when empty")
	flagHidden    = flag.String("hidden", "512,256", "Comma-separated hidden layer widths")
	flagDropout   = flag.Float64("dropout", 0, "Dropout rate before the output layer")
	flagOptimizer = flag.String("optimizer", "adam", "Optimizer: adam or sgd")
	flagLR        = flag.Float64("lr", 5e-4, "Learning rate")
	flagChannels  = flag.Int("channels", 3, "Number of times each grayscale image is repeated as an input channel")
	flagLogIters  = flag.Int("log-iterations", 10, "Leading batches per epoch whose loss is logged")
	flagSeed      = flag.Uint("seed", 0, "Seed for the initial weights")
	flagAbort     = flag.Bool("abort-on-error", false, "Stop the sweep at the first failed run")
	flagQuiet     = flag.Bool("quiet", false, "Disable the per-run progress bar")
)

func main() {
	flag.Parse()

	cfg, err := dataset.Lookup(*flagDataset)
	if err != nil {
		log.Fatalf("%v", err)
	}
	cfg = cfg.WithImageSize(*flagImgSize)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	format, err := checkpoints.ParseFormat(*flagFormat)
	if err != nil {
		log.Fatalf("%v", err)
	}
	hidden, err := parseInts(*flagHidden)
	if err != nil {
		log.Fatalf("invalid -hidden: %v", err)
	}
	sampleCounts := cfg.SampleCounts()
	if *flagSamples != "" {
		if sampleCounts, err = parseInts(*flagSamples); err != nil {
			log.Fatalf("invalid -samples: %v", err)
		}
	}
	fmt.Println(cfg)

	dir := *flagDataDir
	if dir == "" {
		dir = "data/" + cfg.Name
	}
	loader := dataset.NewLoader(dir, cfg)
	splits, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}
	fmt.Printf("train %s\ntest %s\n", splits.Train, splits.Test)

	selector, err := newSelector(splits.Train, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	sweepCfg := training.DefaultSweepConfig()
	sweepCfg.SampleCounts = sampleCounts
	sweepCfg.Repeats = *flagRepeats
	sweepCfg.Epochs = *flagEpochs
	sweepCfg.BatchSize = *flagBatchSize
	sweepCfg.NumClasses = cfg.NumClasses
	sweepCfg.Preprocess.Channels = *flagChannels
	sweepCfg.Preprocess.ClearBorder = cfg.RemoveEdge
	sweepCfg.LogIterations = *flagLogIters
	sweepCfg.AbortOnError = *flagAbort
	sweepCfg.Logger = log.Default()
	if !*flagQuiet {
		sweepCfg.Progress = os.Stdout
	}

	inputFeatures := *flagChannels * cfg.ImageSize * cfg.ImageSize
	spec, err := layers.NewMLPSpec(*flagBatchSize, inputFeatures, hidden, cfg.NumClasses, *flagDropout)
	if err != nil {
		log.Fatalf("Failed to compile model: %v", err)
	}
	fmt.Println(spec.Summary())

	opt, err := newOptimizer(*flagOptimizer, *flagLR)
	if err != nil {
		log.Fatalf("%v", err)
	}
	net, err := layers.NewNetwork("MLP", spec, opt, uint32(*flagSeed))
	if err != nil {
		log.Fatalf("Failed to create network: %v", err)
	}

	sweeper := &training.Sweeper{
		Config:   sweepCfg,
		Model:    net,
		Store:    checkpoints.NewStore(*flagResults, cfg.Name, format),
		Selector: selector,
		Test:     splits.Test,
	}
	report, err := sweeper.Run()
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}

	fmt.Printf("\n%-10s %-6s %-10s %-10s\n", "samples", "runs", "test acc", "std")
	for _, e := range report.Entries {
		fmt.Printf("%-10d %-6d %-10.4f %-10.4f\n", e.Samples, e.Runs, e.MeanTestAccuracy, e.StdTestAccuracy)
	}
	if len(report.Failures) > 0 {
		fmt.Printf("%d runs failed\n", len(report.Failures))
	}
	fmt.Printf("report written to %s\n", sweeper.Store.ReportPath())
}

func newSelector(pool *dataset.Set, cfg dataset.Config) (training.Selector, error) {
	if *flagIndexFile == "" {
		return sampling.NewGeneratedSelector(pool, cfg.NumClasses, cfg.MaxSamples()), nil
	}
	table, err := sampling.LoadIndexTable(*flagIndexFile, sampling.DefaultIndexVariable)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load index file")
	}
	return &sampling.IndexFileSelector{
		Pool:            pool,
		Table:           table,
		NumClasses:      cfg.NumClasses,
		ValidationStart: cfg.MaxSamples(),
	}, nil
}

func newOptimizer(name string, lr float64) (optimizer.Optimizer, error) {
	switch strings.ToLower(name) {
	case "adam":
		c := optimizer.DefaultAdamConfig()
		c.LearningRate = lr
		return optimizer.NewAdamOptimizer(c)
	case "sgd":
		c := optimizer.DefaultSGDConfig()
		c.LearningRate = lr
		c.Momentum = 0.9
		return optimizer.NewSGDOptimizer(c)
	default:
		return nil, errors.Errorf("unknown optimizer %q", name)
	}
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, errors.Errorf("%d is not positive", v)
		}
		out = append(out, v)
	}
	return out, nil
}
