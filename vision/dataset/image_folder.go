package dataset

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ImageExtensions are the file types read from class folders.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}

// ClassFolder returns the directory holding the images of one class of a
// split: <dir>/<split>/class_<class>.
func (l *Loader) ClassFolder(split string, class int) string {
	return filepath.Join(l.Dir, split, fmt.Sprintf("class_%d", class))
}

func (l *Loader) hasImageFolders() bool {
	info, err := os.Stat(l.ClassFolder(splitNames[0], 0))
	return err == nil && info.IsDir()
}

// readImageFolders decodes every image of every class folder to grayscale.
// Files are read in name order. All images of a class must share one size.
func (l *Loader) readImageFolders() ([2][]*classBlock, error) {
	var blocks [2][]*classBlock
	for s, split := range splitNames {
		for class := 0; class < l.NumClasses; class++ {
			dir := l.ClassFolder(split, class)
			block, err := readClassFolder(dir)
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

func readClassFolder(dir string) (*classBlock, error) {
	paths, err := imageFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no images found in %s", dir)
	}

	block := &classBlock{}
	for _, path := range paths {
		img, err := decodeImage(path)
		if err != nil {
			return nil, err
		}
		b := img.Bounds()
		if block.count == 0 {
			block.height, block.width = b.Dy(), b.Dx()
		} else if b.Dy() != block.height || b.Dx() != block.width {
			return nil, errors.Errorf("%s is %dx%d, expected %dx%d", path, b.Dy(), b.Dx(), block.height, block.width)
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
				block.values = append(block.values, float64(g.Y))
			}
		}
		block.count++
	}
	return block, nil
}

func imageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list class folder")
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range ImageExtensions {
			if ext == want {
				paths = append(paths, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return img, nil
}
