package sampling

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-sweep/vision/dataset"
)

// TakeSamples gathers, for every class, the samples at the offsets listed in
// that class's row of index, addressing the class's samples in their original
// order. Classes are concatenated in class order.
func TakeSamples(set *dataset.Set, index *IndexMatrix, numClasses int) (*dataset.Set, error) {
	picks, err := samplePositions(set, index, numClasses)
	if err != nil {
		return nil, err
	}
	return set.Subset(picks)
}

// samplePositions maps the offsets of index to positions in set.
func samplePositions(set *dataset.Set, index *IndexMatrix, numClasses int) ([]int, error) {
	if index.Rows != numClasses {
		return nil, errors.Errorf("index matrix has %d rows for %d classes", index.Rows, numClasses)
	}

	picks := make([]int, 0, index.Rows*index.Cols)
	for class := 0; class < numClasses; class++ {
		pool := set.ClassIndices(class)
		for _, off := range index.Row(class) {
			if off < 0 || off >= len(pool) {
				return nil, errors.Wrapf(ErrIndexOutOfRange, "class %d offset %d, pool holds %d samples", class, off, len(pool))
			}
			picks = append(picks, pool[off])
		}
	}
	return picks, nil
}

// PoolSize returns the number of samples available in every class, the
// smallest class count.
func PoolSize(set *dataset.Set, numClasses int) int {
	size := -1
	for class := 0; class < numClasses; class++ {
		if n := set.ClassCount(class); size < 0 || n < size {
			size = n
		}
	}
	if size < 0 {
		return 0
	}
	return size
}

// SplitCounts returns the per-class train and validation counts for
// indicesPerClass: the last tenth (rounded down) is held out for validation.
func SplitCounts(indicesPerClass int) (train, val int) {
	val = indicesPerClass / 10
	return indicesPerClass - val, val
}

// TakeTrainSamples draws indicesPerClass samples per class without holding
// out validation data.
func TakeTrainSamples(set *dataset.Set, indicesPerClass, numClasses, repeat int) (*dataset.Set, error) {
	index, err := classIndex(set, indicesPerClass, numClasses, repeat)
	if err != nil {
		return nil, err
	}
	return TakeSamples(set, index, numClasses)
}

// TrainValSplit draws indicesPerClass samples per class and splits the index
// matrix by columns: the trailing indicesPerClass/10 columns form the
// validation set (nil when that is zero) and the rest form the training set.
func TrainValSplit(set *dataset.Set, indicesPerClass, numClasses, repeat int) (train, val *dataset.Set, err error) {
	index, err := classIndex(set, indicesPerClass, numClasses, repeat)
	if err != nil {
		return nil, nil, err
	}

	trainCount, valCount := SplitCounts(indicesPerClass)
	if valCount >= 1 {
		val, err = TakeSamples(set, index.Columns(trainCount, indicesPerClass), numClasses)
		if err != nil {
			return nil, nil, errors.Wrap(err, "validation samples")
		}
	}
	train, err = TakeSamples(set, index.Columns(0, trainCount), numClasses)
	if err != nil {
		return nil, nil, errors.Wrap(err, "training samples")
	}

	if train.Len()+val.Len() != indicesPerClass*numClasses {
		return nil, nil, errors.Errorf("split produced %d+%d samples, expected %d",
			train.Len(), val.Len(), indicesPerClass*numClasses)
	}
	return train, val, nil
}

func classIndex(set *dataset.Set, indicesPerClass, numClasses, repeat int) (*IndexMatrix, error) {
	pool := PoolSize(set, numClasses)
	if indicesPerClass > pool {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "%d samples per class requested, pool holds %d", indicesPerClass, pool)
	}
	if pool == 0 {
		return nil, errors.Errorf("no samples available for %d classes", numClasses)
	}
	return NewIndexMatrix(pool, indicesPerClass, numClasses, repeat)
}
