package preprocessing

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-sweep/vision/dataset"
)

// Options controls how uint8 images become network input.
type Options struct {
	// Channels is the number of times each grayscale plane is repeated.
	Channels int
	// ClearBorder zeroes a one-pixel frame around each image.
	ClearBorder bool
	// Workers bounds the number of goroutines used by Tensorize.
	Workers int
}

// DefaultOptions returns three channels, no border clearing and one worker
// per CPU.
func DefaultOptions() Options {
	return Options{Channels: 3, Workers: runtime.NumCPU()}
}

// Normalize maps a pixel value to [-1, 1].
func Normalize(p uint8) float64 {
	return (float64(p)/255 - 0.5) / 0.5
}

// RowLength is the width of one tensorized sample.
func RowLength(images *dataset.Images, channels int) int {
	return channels * images.Size()
}

// Tensorize converts every sample of set into one row of a matrix laid out
// channel, height, width.
func Tensorize(set *dataset.Set, opts Options) (*mat.Dense, error) {
	if set.Len() == 0 {
		return nil, errors.New("cannot tensorize an empty set")
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if opts.Channels <= 0 {
		return nil, errors.Errorf("channel count must be positive, got %d", opts.Channels)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	n := set.Len()
	out := mat.NewDense(n, RowLength(set.Images, opts.Channels), nil)

	jobs := make(chan int, n)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				FillRow(out.RawRowView(i), set.Images, i, opts)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return out, nil
}

// FillRow writes sample i of images into row.
func FillRow(row []float64, images *dataset.Images, i int, opts Options) {
	size := images.Size()
	src := images.Image(i)
	plane := row[:size]
	for j, p := range src {
		plane[j] = Normalize(p)
	}
	if opts.ClearBorder {
		clearBorder(plane, images.Height, images.Width, Normalize(0))
	}
	for c := 1; c < opts.Channels; c++ {
		copy(row[c*size:(c+1)*size], plane)
	}
}

func clearBorder(plane []float64, height, width int, v float64) {
	for x := 0; x < width; x++ {
		plane[x] = v
		plane[(height-1)*width+x] = v
	}
	for y := 0; y < height; y++ {
		plane[y*width] = v
		plane[y*width+width-1] = v
	}
}
