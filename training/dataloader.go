package training

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-sweep/sampling"
)

// DataLoader batches an in-memory sample matrix, reshuffling on every Reset.
// The last batch of an epoch may be smaller than the batch size.
type DataLoader struct {
	data      *mat.Dense
	labels    []int64
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
}

// Batch represents a batch of data and labels
type Batch struct {
	Data   *mat.Dense
	Labels []int64
}

// NewDataLoader creates a loader over the rows of data. When shuffle is set
// the order is drawn from a generator seeded with seed.
func NewDataLoader(data *mat.Dense, labels []int64, batchSize int, shuffle bool, seed uint32) (*DataLoader, error) {
	rows, _ := data.Dims()
	if rows != len(labels) {
		return nil, errors.Errorf("data has %d rows for %d labels", rows, len(labels))
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}

	indices := make([]int, rows)
	for i := range indices {
		indices[i] = i
	}
	return &DataLoader{
		data:      data,
		labels:    labels,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(sampling.NewSource(seed)),
		indices:   indices,
	}, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader for a new epoch.
func (dl *DataLoader) Reset() {
	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if epoch is complete
func (dl *DataLoader) Next() *Batch {
	if dl.position >= len(dl.indices) {
		return nil
	}
	end := min(dl.position+dl.batchSize, len(dl.indices))
	idx := dl.indices[dl.position:end]
	dl.position = end

	_, cols := dl.data.Dims()
	batch := &Batch{Data: mat.NewDense(len(idx), cols, nil), Labels: make([]int64, len(idx))}
	for i, src := range idx {
		copy(batch.Data.RawRowView(i), dl.data.RawRowView(src))
		batch.Labels[i] = dl.labels[src]
	}
	return batch
}
