package training

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-sweep/checkpoints"
	"github.com/tsawler/go-sweep/sampling"
	"github.com/tsawler/go-sweep/vision/dataset"
	"github.com/tsawler/go-sweep/vision/preprocessing"
)

// Selector chooses the training subset of each run and the validation set
// shared by all runs.
type Selector interface {
	Select(samples, repeat int) (*dataset.Set, error)
	Validation() (*dataset.Set, error)
}

// SweepConfig holds configuration for a sample-efficiency sweep
type SweepConfig struct {
	SampleCounts  []int
	Repeats       int
	Epochs        int
	BatchSize     int
	EvalBatchSize int
	NumClasses    int
	Preprocess    preprocessing.Options

	// LogIterations is the number of leading batches of every epoch whose
	// training loss and accuracy are logged.
	LogIterations int

	// AbortOnError stops the sweep at the first failed run. Out-of-range
	// sample requests always stop it.
	AbortOnError bool

	Logger   *log.Logger
	Progress io.Writer // nil disables the per-run progress bar
}

// DefaultSweepConfig returns the settings of the reference experiments:
// 50 epochs, batches of 32, five repeats per sample count.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Repeats:       5,
		Epochs:        50,
		BatchSize:     32,
		EvalBatchSize: DefaultEvalBatchSize,
		Preprocess:    preprocessing.DefaultOptions(),
		LogIterations: 10,
	}
}

// RunResult is the outcome of one (samples, run) pair.
type RunResult struct {
	Samples         int
	Run             int
	BestEpoch       int
	BestValAccuracy float64
	TestAccuracy    float64
	MacroF1         float64
	Confusion       *ConfusionMatrix
}

// Sweeper trains Model from the same initial weights on every subset the
// Selector yields and records the best-validation checkpoint of each run.
type Sweeper struct {
	Config   SweepConfig
	Model    Model
	Store    *checkpoints.Store
	Selector Selector
	Test     *dataset.Set
}

type labeledMatrix struct {
	x      *mat.Dense
	labels []int64
}

// Run executes every (sample count, repeat) pair in order and writes the
// sweep report.
func (s *Sweeper) Run() (*checkpoints.SweepReport, error) {
	cfg := s.Config
	if err := s.validate(); err != nil {
		return nil, err
	}

	val, err := s.Selector.Validation()
	if err != nil {
		return nil, errors.Wrap(err, "failed to select validation set")
	}
	valData, err := s.tensorize(val)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare validation set")
	}
	testData, err := s.tensorize(s.Test)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare test set")
	}
	s.logf("validation %d samples, test %d samples", val.Len(), s.Test.Len())

	name := s.Model.Name()
	if err := s.Store.SaveInitial(name, s.Model.Weights()); err != nil {
		return nil, errors.Wrap(err, "failed to save initial weights")
	}
	initial, err := s.Store.LoadInitial(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reload initial weights")
	}

	var (
		results  []RunResult
		failures []checkpoints.RunFailure
	)
	for _, samples := range cfg.SampleCounts {
		for run := 0; run < cfg.Repeats; run++ {
			s.logf("============== num samples %d run %d ============", samples, run)
			res, err := s.runOne(samples, run, initial.Weights, valData, testData)
			if err != nil {
				if errors.Cause(err) == sampling.ErrIndexOutOfRange || cfg.AbortOnError {
					return nil, errors.Wrapf(err, "samples %d run %d", samples, run)
				}
				s.logf("samples %d run %d failed: %v", samples, run, err)
				failures = append(failures, checkpoints.RunFailure{Samples: samples, Run: run, Error: err.Error()})
				continue
			}
			results = append(results, *res)
		}
	}

	report := Aggregate(s.Store.Dataset, name, results, failures)
	if err := s.Store.SaveReport(report); err != nil {
		return nil, err
	}
	return report, nil
}

// runOne trains one run from the initial weights, keeps the checkpoint of the
// best validation epoch, then evaluates that checkpoint on the test set and
// finalizes it.
func (s *Sweeper) runOne(samples, run int, initial []checkpoints.WeightTensor, val, test *labeledMatrix) (*RunResult, error) {
	cfg := s.Config
	name := s.Model.Name()

	if err := s.Model.LoadWeights(initial); err != nil {
		return nil, errors.Wrap(err, "failed to load initial weights")
	}

	train, err := s.Selector.Select(samples, run)
	if err != nil {
		return nil, err
	}
	trainData, err := s.tensorize(train)
	if err != nil {
		return nil, err
	}
	seed, err := sampling.Seed(samples, cfg.NumClasses, run)
	if err != nil {
		return nil, err
	}
	if r, ok := s.Model.(Reseeder); ok {
		r.Reseed(seed)
	}
	loader, err := NewDataLoader(trainData.x, trainData.labels, cfg.BatchSize, true, seed)
	if err != nil {
		return nil, err
	}

	bar := NewProgressBar(cfg.Progress, fmt.Sprintf("samples %d run %d", samples, run), cfg.Epochs)
	best := -1.0
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		loss, err := s.trainEpoch(loader, epoch)
		if err != nil {
			return nil, errors.Wrapf(err, "training epoch %d failed", epoch)
		}

		res, err := Evaluate(s.Model, val.x, val.labels, cfg.NumClasses, cfg.EvalBatchSize)
		if err != nil {
			return nil, errors.Wrapf(err, "validation epoch %d failed", epoch)
		}
		s.logf("epoch %d val acc %.5f", epoch, res.Accuracy)

		if res.Accuracy > best {
			best = res.Accuracy
			state := checkpoints.TrainingState{Epoch: epoch, BestValAccuracy: best, Samples: samples, Run: run}
			if err := s.Store.SaveBest(name, s.Model.Weights(), state); err != nil {
				return nil, err
			}
			s.logf("saved to %s", s.Store.RunPath(samples, name, run))
		}
		bar.Update(epoch+1, map[string]float64{"loss": loss, "val_acc": res.Accuracy, "best_val_acc": best})
	}
	bar.Finish()

	ckpt, err := s.Store.LoadRun(samples, name, run)
	if err != nil {
		return nil, err
	}
	if err := s.Model.LoadWeights(ckpt.Weights); err != nil {
		return nil, errors.Wrap(err, "failed to load best weights")
	}
	s.logf("recovered from %s", s.Store.RunPath(samples, name, run))

	res, err := Evaluate(s.Model, test.x, test.labels, cfg.NumClasses, cfg.EvalBatchSize)
	if err != nil {
		return nil, errors.Wrap(err, "test evaluation failed")
	}
	eval := checkpoints.Evaluation{
		TestAccuracy:    res.Accuracy,
		MacroF1:         res.Confusion.GetMetric(MacroF1),
		ConfusionMatrix: res.Confusion.Counts(),
	}
	if err := s.Store.Finalize(ckpt, eval); err != nil {
		return nil, err
	}
	s.logf("samples %d run %d best val acc %.5f, epoch %d test acc %.5f",
		samples, run, ckpt.TrainingState.BestValAccuracy, ckpt.TrainingState.Epoch, res.Accuracy)

	return &RunResult{
		Samples:         samples,
		Run:             run,
		BestEpoch:       ckpt.TrainingState.Epoch,
		BestValAccuracy: ckpt.TrainingState.BestValAccuracy,
		TestAccuracy:    res.Accuracy,
		MacroF1:         eval.MacroF1,
		Confusion:       res.Confusion,
	}, nil
}

// trainEpoch runs one shuffled pass and returns the mean batch loss.
func (s *Sweeper) trainEpoch(loader *DataLoader, epoch int) (float64, error) {
	start := time.Now()
	loader.Reset()

	total := 0.0
	iter := 0
	for batch := loader.Next(); batch != nil; batch = loader.Next() {
		logits, err := s.Model.Forward(batch.Data, true)
		if err != nil {
			return 0, err
		}
		loss, err := s.Model.BackwardAndStep(logits, batch.Labels)
		if err != nil {
			return 0, err
		}
		total += loss

		if iter < s.Config.LogIterations {
			s.logf("epoch %d iter %d train loss %.5f acc %.5f", epoch, iter, loss, batchAccuracy(logits, batch.Labels))
		}
		iter++
	}
	if iter == 0 {
		return 0, errors.New("training set is empty")
	}
	if s.Config.LogIterations > 0 {
		s.logf("epoch %d finished %d batches in %v", epoch, iter, time.Since(start).Round(time.Millisecond))
	}
	return total / float64(iter), nil
}

func (s *Sweeper) validate() error {
	cfg := s.Config
	switch {
	case s.Model == nil:
		return errors.New("sweep has no model")
	case s.Store == nil:
		return errors.New("sweep has no checkpoint store")
	case s.Selector == nil:
		return errors.New("sweep has no sample selector")
	case s.Test.Len() == 0:
		return errors.New("sweep has no test set")
	case cfg.NumClasses <= 0:
		return errors.Errorf("class count must be positive, got %d", cfg.NumClasses)
	case cfg.Epochs <= 0:
		return errors.Errorf("epoch count must be positive, got %d", cfg.Epochs)
	case cfg.Repeats <= 0:
		return errors.Errorf("repeat count must be positive, got %d", cfg.Repeats)
	case len(cfg.SampleCounts) == 0:
		return errors.New("sweep has no sample counts")
	}
	return nil
}

func (s *Sweeper) tensorize(set *dataset.Set) (*labeledMatrix, error) {
	x, err := preprocessing.Tensorize(set, s.Config.Preprocess)
	if err != nil {
		return nil, err
	}
	return &labeledMatrix{x: x, labels: set.Labels}, nil
}

func (s *Sweeper) logf(format string, args ...interface{}) {
	logger := s.Config.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf(format, args...)
}

func batchAccuracy(logits *mat.Dense, labels []int64) float64 {
	correct := 0
	for i, p := range Predict(logits) {
		if int64(p) == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}
