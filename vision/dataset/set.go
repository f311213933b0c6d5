package dataset

import (
	"fmt"

	"github.com/pkg/errors"
)

// Images holds Count grayscale images of Height x Width pixels, row-major,
// image after image.
type Images struct {
	Count  int
	Height int
	Width  int
	Pix    []uint8
}

// NewImages allocates a zeroed image block.
func NewImages(count, height, width int) *Images {
	return &Images{
		Count:  count,
		Height: height,
		Width:  width,
		Pix:    make([]uint8, count*height*width),
	}
}

// Size is the number of pixels in one image.
func (im *Images) Size() int {
	return im.Height * im.Width
}

// Image returns the pixels of image i. The slice aliases Pix.
func (im *Images) Image(i int) []uint8 {
	n := im.Size()
	return im.Pix[i*n : (i+1)*n]
}

// Set is an ordered collection of labeled images.
type Set struct {
	Images *Images
	Labels []int64
}

// Len returns the number of samples.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Labels)
}

// Validate checks that images and labels agree.
func (s *Set) Validate() error {
	if s.Images == nil {
		return errors.New("set has no images")
	}
	if s.Images.Count != len(s.Labels) {
		return errors.Errorf("image count %d does not match label count %d", s.Images.Count, len(s.Labels))
	}
	if len(s.Images.Pix) != s.Images.Count*s.Images.Size() {
		return errors.Errorf("pixel buffer holds %d bytes, expected %d", len(s.Images.Pix), s.Images.Count*s.Images.Size())
	}
	return nil
}

// ClassIndices returns the positions of every sample labeled class, in order.
func (s *Set) ClassIndices(class int) []int {
	var idx []int
	for i, l := range s.Labels {
		if int(l) == class {
			idx = append(idx, i)
		}
	}
	return idx
}

// ClassCount returns the number of samples labeled class.
func (s *Set) ClassCount(class int) int {
	n := 0
	for _, l := range s.Labels {
		if int(l) == class {
			n++
		}
	}
	return n
}

// Subset copies the samples at the given positions into a new set.
func (s *Set) Subset(indices []int) (*Set, error) {
	out := &Set{
		Images: NewImages(len(indices), s.Images.Height, s.Images.Width),
		Labels: make([]int64, len(indices)),
	}
	for j, i := range indices {
		if i < 0 || i >= s.Len() {
			return nil, errors.Errorf("sample index %d out of range [0, %d)", i, s.Len())
		}
		copy(out.Images.Image(j), s.Images.Image(i))
		out.Labels[j] = s.Labels[i]
	}
	return out, nil
}

// Concat appends the samples of every set, in order. All sets must share
// the same image dimensions.
func Concat(sets ...*Set) (*Set, error) {
	total := 0
	height, width := -1, -1
	for _, s := range sets {
		if s.Len() == 0 {
			continue
		}
		if height >= 0 && (s.Images.Height != height || s.Images.Width != width) {
			return nil, errors.Errorf("cannot concatenate %dx%d images with %dx%d images",
				s.Images.Height, s.Images.Width, height, width)
		}
		height, width = s.Images.Height, s.Images.Width
		total += s.Len()
	}
	if height < 0 {
		height, width = 0, 0
	}

	out := &Set{
		Images: NewImages(total, height, width),
		Labels: make([]int64, 0, total),
	}
	off := 0
	for _, s := range sets {
		if s.Len() == 0 {
			continue
		}
		off += copy(out.Images.Pix[off:], s.Images.Pix)
		out.Labels = append(out.Labels, s.Labels...)
	}
	return out, nil
}

func (s *Set) String() string {
	if s.Len() == 0 {
		return "empty set"
	}
	return fmt.Sprintf("%d samples of %dx%d", s.Len(), s.Images.Height, s.Images.Width)
}

// Splits holds the training and test sets of a dataset.
type Splits struct {
	Train *Set
	Test  *Set
}
