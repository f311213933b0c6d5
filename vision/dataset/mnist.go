package dataset

import (
	"os"
	"path/filepath"

	"github.com/petar/GoMNIST"
	"github.com/pkg/errors"
)

// mnistTrainImages is one of the four gzip idx files GoMNIST.Load expects.
const mnistTrainImages = "train-images-idx3-ubyte.gz"

func (l *Loader) hasMNISTFiles() bool {
	_, err := os.Stat(filepath.Join(l.Dir, mnistTrainImages))
	return err == nil
}

// readMNIST reads the idx-format MNIST distribution and regroups it by class
// so it follows the same pipeline as per-class source files.
func (l *Loader) readMNIST() ([2][]*classBlock, error) {
	var blocks [2][]*classBlock

	train, test, err := GoMNIST.Load(l.Dir)
	if err != nil {
		return blocks, errors.Wrapf(err, "failed to load idx files from %s", l.Dir)
	}

	for s, set := range []*GoMNIST.Set{train, test} {
		grouped, err := groupByClass(set, l.NumClasses)
		if err != nil {
			return blocks, errors.Wrapf(err, "split %s", splitNames[s])
		}
		blocks[s] = grouped
	}
	return blocks, nil
}

func groupByClass(set *GoMNIST.Set, numClasses int) ([]*classBlock, error) {
	size := set.NRow * set.NCol
	blocks := make([]*classBlock, numClasses)
	for c := range blocks {
		blocks[c] = &classBlock{class: c, height: set.NRow, width: set.NCol}
	}

	for i, img := range set.Images {
		label := int(set.Labels[i])
		if label < 0 || label >= numClasses {
			return nil, errors.Errorf("sample %d has label %d outside [0, %d)", i, label, numClasses)
		}
		if len(img) != size {
			return nil, errors.Errorf("sample %d has %d pixels, expected %d", i, len(img), size)
		}
		b := blocks[label]
		for _, p := range img {
			b.values = append(b.values, float64(p))
		}
		b.count++
	}

	for _, b := range blocks {
		if b.count == 0 {
			return nil, errors.Errorf("class %d has no samples", b.class)
		}
	}
	return blocks, nil
}
