package dataset

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// ErrUnknownDataset is returned by Lookup for identifiers outside the table.
var ErrUnknownDataset = errors.New("unknown dataset")

// Config describes a dataset's fixed experiment parameters
type Config struct {
	Name              string
	NumClasses        int
	ImageSize         int  // 0 when the size must be supplied externally
	MaxSampleExponent int  // largest sweep sample count is 2^MaxSampleExponent
	RemoveEdge        bool // clear the outer pixel frame before training
}

var configs = map[string]Config{
	"MNIST":     {Name: "MNIST", NumClasses: 10, ImageSize: 28, MaxSampleExponent: 12, RemoveEdge: true},
	"AffMNIST":  {Name: "AffMNIST", NumClasses: 10, ImageSize: 84, MaxSampleExponent: 12, RemoveEdge: true},
	"OAM":       {Name: "OAM", NumClasses: 32, ImageSize: 151, MaxSampleExponent: 9},
	"SignMNIST": {Name: "SignMNIST", NumClasses: 3, ImageSize: 128, MaxSampleExponent: 10},
	"Synthetic": {Name: "Synthetic", NumClasses: 1000, ImageSize: 128, MaxSampleExponent: 7, RemoveEdge: true},
	"LiverN":    {Name: "LiverN", NumClasses: 2, MaxSampleExponent: 8},
}

// Lookup returns the configuration for a dataset identifier.
func Lookup(name string) (Config, error) {
	cfg, ok := configs[name]
	if !ok {
		return Config{}, errors.Wrapf(ErrUnknownDataset, "%q (known: %v)", name, Names())
	}
	return cfg, nil
}

// Names returns every known dataset identifier in sorted order.
func Names() []string {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithImageSize returns a copy of c with the image size replaced when size > 0.
func (c Config) WithImageSize(size int) Config {
	if size > 0 {
		c.ImageSize = size
	}
	return c
}

// Validate checks that every parameter needed by a sweep is set.
func (c Config) Validate() error {
	if c.NumClasses <= 0 {
		return errors.Errorf("dataset %s: invalid class count %d", c.Name, c.NumClasses)
	}
	if c.ImageSize <= 0 {
		return errors.Errorf("dataset %s: image size must be supplied", c.Name)
	}
	if c.MaxSampleExponent < 0 {
		return errors.Errorf("dataset %s: invalid sample exponent %d", c.Name, c.MaxSampleExponent)
	}
	return nil
}

// MaxSamples is the largest per-class sample count in the sweep.
func (c Config) MaxSamples() int {
	return 1 << c.MaxSampleExponent
}

// SampleCounts returns the sweep's per-class sample counts, 2^0 through
// 2^MaxSampleExponent.
func (c Config) SampleCounts() []int {
	counts := make([]int, c.MaxSampleExponent+1)
	for i := range counts {
		counts[i] = 1 << i
	}
	return counts
}

func (c Config) String() string {
	return fmt.Sprintf("%s: %d classes, %dx%d images, up to %d samples/class",
		c.Name, c.NumClasses, c.ImageSize, c.ImageSize, c.MaxSamples())
}
