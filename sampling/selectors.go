package sampling

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-sweep/vision/dataset"
)

// GeneratedSelector holds out one fixed validation set, the validation slice
// of the largest sample count at repeat 0, and draws each run's training
// subset with TrainValSplit from the samples that remain.
type GeneratedSelector struct {
	Pool              *dataset.Set
	NumClasses        int
	ValidationSamples int

	val       *dataset.Set
	remaining *dataset.Set
}

// NewGeneratedSelector creates a selector over pool whose fixed validation set
// comes from a split of maxSamples samples per class.
func NewGeneratedSelector(pool *dataset.Set, numClasses, maxSamples int) *GeneratedSelector {
	return &GeneratedSelector{Pool: pool, NumClasses: numClasses, ValidationSamples: maxSamples}
}

// Select returns the training portion of the (samples, repeat) split of the
// pool without the validation samples.
func (s *GeneratedSelector) Select(samples, repeat int) (*dataset.Set, error) {
	if err := s.holdOut(); err != nil {
		return nil, err
	}
	train, _, err := TrainValSplit(s.remaining, samples, s.NumClasses, repeat)
	return train, err
}

// Validation returns the fixed validation set.
func (s *GeneratedSelector) Validation() (*dataset.Set, error) {
	if err := s.holdOut(); err != nil {
		return nil, err
	}
	return s.val, nil
}

// holdOut splits the pool once into the validation set and the remaining
// samples. Offsets drawn more than once are held out once.
func (s *GeneratedSelector) holdOut() error {
	if s.val != nil {
		return nil
	}
	index, err := classIndex(s.Pool, s.ValidationSamples, s.NumClasses, 0)
	if err != nil {
		return errors.Wrap(err, "validation samples")
	}
	trainCount, valCount := SplitCounts(s.ValidationSamples)
	if valCount == 0 {
		return errors.Errorf("%d samples per class leave no validation samples", s.ValidationSamples)
	}
	picks, err := samplePositions(s.Pool, index.Columns(trainCount, s.ValidationSamples), s.NumClasses)
	if err != nil {
		return errors.Wrap(err, "validation samples")
	}

	held := make(map[int]bool, len(picks))
	for _, p := range picks {
		held[p] = true
	}
	rest := make([]int, 0, s.Pool.Len()-len(held))
	for i := 0; i < s.Pool.Len(); i++ {
		if !held[i] {
			rest = append(rest, i)
		}
	}

	val, err := s.Pool.Subset(picks)
	if err != nil {
		return err
	}
	remaining, err := s.Pool.Subset(rest)
	if err != nil {
		return err
	}
	s.val, s.remaining = val, remaining
	return nil
}

// IndexFileSelector selects subsets from a precomputed index table: run r
// trains on rows [0, n) of column r, and rows [ValidationStart, Rows) of
// column 0 form the validation set.
type IndexFileSelector struct {
	Pool            *dataset.Set
	Table           *IndexTable
	NumClasses      int
	ValidationStart int
}

// Select returns the first samples offsets of column repeat for every class.
func (s *IndexFileSelector) Select(samples, repeat int) (*dataset.Set, error) {
	if samples > s.ValidationStart {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "%d samples overlap validation rows starting at %d", samples, s.ValidationStart)
	}
	index, err := s.Table.Matrix(repeat, 0, samples, s.NumClasses)
	if err != nil {
		return nil, err
	}
	return TakeSamples(s.Pool, index, s.NumClasses)
}

// Validation returns the samples addressed by the held-out rows of column 0.
func (s *IndexFileSelector) Validation() (*dataset.Set, error) {
	index, err := s.Table.Matrix(0, s.ValidationStart, s.Table.Rows, s.NumClasses)
	if err != nil {
		return nil, err
	}
	if index.Cols == 0 {
		return nil, errors.Errorf("index table has no rows after %d for validation", s.ValidationStart)
	}
	return TakeSamples(s.Pool, index, s.NumClasses)
}
