package dataset

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"

	"github.com/tsawler/go-sweep/vision/matfile"
)

// DefaultVariable is the array name inside per-class source files.
const DefaultVariable = "xxO"

var splitNames = [2]string{"training", "testing"}

// Loader builds a dataset from per-class source files, or from the cache
// archive written by a previous load.
type Loader struct {
	Dir        string
	NumClasses int
	ImageSize  int    // expected image height and width; 0 skips the check
	Variable   string // array name in the source files; DefaultVariable when empty
	Logger     *log.Logger
}

// NewLoader creates a loader for the dataset stored in dir.
func NewLoader(dir string, cfg Config) *Loader {
	return &Loader{
		Dir:        dir,
		NumClasses: cfg.NumClasses,
		ImageSize:  cfg.ImageSize,
		Variable:   DefaultVariable,
	}
}

// CachePath returns the location of the cache archive.
func (l *Loader) CachePath() string {
	return filepath.Join(l.Dir, CacheFileName)
}

// SourcePath returns the per-class source file for a split.
func (l *Loader) SourcePath(split string, class int) string {
	return filepath.Join(l.Dir, split, fmt.Sprintf("dataORG_%d.mat", class))
}

// Load returns the training and test sets. The cache archive is used when
// present; otherwise the sources are read, balanced, normalized and cached.
// Nothing is cached when any source file is missing.
func (l *Loader) Load() (*Splits, error) {
	if l.NumClasses <= 0 {
		return nil, errors.Errorf("invalid class count %d", l.NumClasses)
	}

	cache := l.CachePath()
	if _, err := os.Stat(cache); err == nil {
		l.logf("loading data from cache file %s", cache)
		splits, err := LoadArchive(cache)
		if err != nil {
			return nil, err
		}
		if err := l.checkDims(splits); err != nil {
			return nil, err
		}
		return splits, nil
	}

	var (
		blocks [2][]*classBlock
		err    error
	)
	switch {
	case l.hasMATFiles():
		l.logf("loading data from mat files in %s", l.Dir)
		blocks, err = l.readMAT()
	case l.hasMNISTFiles():
		l.logf("loading data from idx files in %s", l.Dir)
		blocks, err = l.readMNIST()
	case l.hasImageFolders():
		l.logf("loading data from image folders in %s", l.Dir)
		blocks, err = l.readImageFolders()
	default:
		l.logf("loading data from mat files in %s", l.Dir)
		blocks, err = l.readMAT()
	}
	if err != nil {
		return nil, err
	}

	balance(blocks[0])

	train, err := assemble(blocks[0])
	if err != nil {
		return nil, errors.Wrap(err, "training split")
	}
	test, err := assemble(blocks[1])
	if err != nil {
		return nil, errors.Wrap(err, "testing split")
	}
	splits := &Splits{Train: train, Test: test}
	l.logf("x_train %s, x_test %s", train, test)

	if err := l.checkDims(splits); err != nil {
		return nil, err
	}
	if err := SaveArchive(cache, splits); err != nil {
		return nil, errors.Wrap(err, "failed to persist dataset cache")
	}
	return splits, nil
}

// classBlock holds every raw sample of one class, sample-major.
type classBlock struct {
	class  int
	count  int
	height int
	width  int
	values []float64
}

func (l *Loader) readMAT() ([2][]*classBlock, error) {
	var blocks [2][]*classBlock
	variable := l.Variable
	if variable == "" {
		variable = DefaultVariable
	}

	for s, split := range splitNames {
		for class := 0; class < l.NumClasses; class++ {
			path := l.SourcePath(split, class)
			arr, err := matfile.ReadFile(path, variable)
			if err != nil {
				return blocks, errors.Wrapf(err, "split %s class %d", split, class)
			}
			block, err := sampleMajor(arr)
			if err != nil {
				return blocks, errors.Wrapf(err, "split %s class %d", split, class)
			}
			block.class = class
			l.logf("split %s class %d data.shape (%d, %d, %d)", split, class, block.count, block.height, block.width)
			blocks[s] = append(blocks[s], block)
		}
	}
	return blocks, nil
}

func (l *Loader) hasMATFiles() bool {
	_, err := os.Stat(l.SourcePath(splitNames[0], 0))
	return err == nil
}

// sampleMajor turns a (height, width, samples) MATLAB array into sample-major
// images. MATLAB's column-major layout of (H, W, N) is the row-major layout of
// (N, W, H), so one axis swap yields (N, H, W).
func sampleMajor(arr *matfile.Array) (*classBlock, error) {
	if len(arr.Dims) != 3 {
		if len(arr.Dims) == 2 {
			// A single-sample array loses its trailing dimension.
			arr = &matfile.Array{Name: arr.Name, Dims: []int{arr.Dims[0], arr.Dims[1], 1}, Data: arr.Data}
		} else {
			return nil, errors.Errorf("expected array of shape (H, W, N), got %v", arr.Dims)
		}
	}
	h, w, n := arr.Dims[0], arr.Dims[1], arr.Dims[2]
	block := &classBlock{count: n, height: h, width: w}

	if n*h*w <= 1 {
		block.values = append([]float64(nil), arr.Data...)
		return block, nil
	}

	t := tensor.New(tensor.WithShape(n, w, h), tensor.WithBacking(arr.Data))
	// Transpose materializes the permutation; tensor.T only returns a view
	// whose Data is still the original backing.
	permuted, err := tensor.Transpose(t, 0, 2, 1)
	if err != nil {
		return nil, errors.Wrap(err, "failed to permute source axes")
	}
	values, ok := permuted.Data().([]float64)
	if !ok {
		return nil, errors.Errorf("unexpected permuted data type %T", permuted.Data())
	}
	block.values = values
	return block, nil
}

// balance truncates every class to the smallest class's sample count.
func balance(blocks []*classBlock) {
	if len(blocks) < 2 {
		return
	}
	minCount := blocks[0].count
	for _, b := range blocks[1:] {
		if b.count < minCount {
			minCount = b.count
		}
	}
	for _, b := range blocks {
		b.count = minCount
		b.values = b.values[:minCount*b.height*b.width]
	}
}

// assemble normalizes each image by its own maximum, rescales to 8 bits and
// concatenates the classes in order.
func assemble(blocks []*classBlock) (*Set, error) {
	sets := make([]*Set, 0, len(blocks))
	for _, b := range blocks {
		set := &Set{
			Images: NewImages(b.count, b.height, b.width),
			Labels: make([]int64, b.count),
		}
		size := b.height * b.width
		for i := 0; i < b.count; i++ {
			NormalizeImage(set.Images.Image(i), b.values[i*size:(i+1)*size])
			set.Labels[i] = int64(b.class)
		}
		sets = append(sets, set)
	}
	return Concat(sets...)
}

// NormalizeImage writes src divided by its maximum and scaled to [0, 255]
// into dst, truncating toward zero. An image whose maximum is not positive
// becomes all zeros.
func NormalizeImage(dst []uint8, src []float64) {
	if len(src) == 0 {
		return
	}
	peak := floats.Max(src)
	for i, v := range src {
		if peak <= 0 || v <= 0 {
			dst[i] = 0
			continue
		}
		scaled := v / peak * 255
		if scaled > 255 {
			scaled = 255
		}
		dst[i] = uint8(scaled)
	}
}

func (l *Loader) checkDims(splits *Splits) error {
	if l.ImageSize <= 0 {
		return nil
	}
	for name, set := range map[string]*Set{"train": splits.Train, "test": splits.Test} {
		if set.Len() == 0 {
			continue
		}
		if set.Images.Height != l.ImageSize || set.Images.Width != l.ImageSize {
			return errors.Errorf("%s images are %dx%d, expected %dx%d",
				name, set.Images.Height, set.Images.Width, l.ImageSize, l.ImageSize)
		}
	}
	return nil
}

func (l *Loader) logf(format string, args ...interface{}) {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf(format, args...)
}
