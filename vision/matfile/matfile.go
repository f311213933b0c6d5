// Package matfile reads and writes numeric arrays stored in MATLAB level-5
// MAT files. Only the subset needed for image and index arrays is covered:
// real numeric matrices, optionally zlib-compressed.
package matfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

// Data element types
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
)

// Array classes
const (
	mxDOUBLE = 6
	mxSINGLE = 7
	mxINT8   = 8
	mxUINT8  = 9
	mxINT16  = 10
	mxUINT16 = 11
	mxINT32  = 12
	mxUINT32 = 13
	mxINT64  = 14
	mxUINT64 = 15
)

const headerSize = 128

var (
	// ErrNotMATFile is returned when the header is not a level-5 MAT header.
	ErrNotMATFile = errors.New("not a level-5 MAT file")
	// ErrVariableNotFound is returned by ReadFile when the named array is absent.
	ErrVariableNotFound = errors.New("variable not found")
)

// Array is a real numeric MATLAB array. Data is kept in MATLAB's
// column-major order.
type Array struct {
	Name string
	Dims []int
	Data []float64
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return len(a.Data)
}

// At returns the element at the given subscripts (column-major).
func (a *Array) At(idx ...int) float64 {
	return a.Data[a.offset(idx)]
}

func (a *Array) offset(idx []int) int {
	if len(idx) != len(a.Dims) {
		panic("matfile: subscript rank mismatch")
	}
	off, stride := 0, 1
	for k, i := range idx {
		if i < 0 || i >= a.Dims[k] {
			panic("matfile: subscript out of range")
		}
		off += i * stride
		stride *= a.Dims[k]
	}
	return off
}

// ReadFile opens path and returns the array stored under name.
func ReadFile(path, name string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open MAT file %s", path)
	}
	defer f.Close()

	arrays, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read MAT file %s", path)
	}
	arr, ok := arrays[name]
	if !ok {
		return nil, errors.Wrapf(ErrVariableNotFound, "%s in %s", name, path)
	}
	return arr, nil
}

// Read decodes every numeric array in a MAT stream. Arrays of unsupported
// classes (cells, structs, sparse, char) are skipped.
func Read(r io.Reader) (map[string]*Array, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read MAT data")
	}
	if len(raw) < headerSize {
		return nil, ErrNotMATFile
	}

	var order binary.ByteOrder
	switch string(raw[126:128]) {
	case "IM":
		order = binary.LittleEndian
	case "MI":
		order = binary.BigEndian
	default:
		return nil, ErrNotMATFile
	}

	arrays := make(map[string]*Array)
	if err := readElements(raw[headerSize:], order, arrays); err != nil {
		return nil, err
	}
	return arrays, nil
}

func readElements(body []byte, order binary.ByteOrder, arrays map[string]*Array) error {
	for len(body) > 0 {
		typ, data, next, err := readElement(body, order)
		if err != nil {
			return err
		}
		body = next

		switch typ {
		case miCOMPRESSED:
			zr, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				return errors.Wrap(err, "failed to open compressed element")
			}
			inflated, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return errors.Wrap(err, "failed to inflate compressed element")
			}
			if err := readElements(inflated, order, arrays); err != nil {
				return err
			}
		case miMATRIX:
			arr, err := readMatrix(data, order)
			if err != nil {
				return err
			}
			if arr != nil {
				arrays[arr.Name] = arr
			}
		}
	}
	return nil
}

// readElement splits one tagged data element off b.
func readElement(b []byte, order binary.ByteOrder) (typ uint32, data, rest []byte, err error) {
	if len(b) < 8 {
		return 0, nil, nil, errors.Errorf("truncated element tag (%d bytes)", len(b))
	}
	first := order.Uint32(b[0:4])
	if first>>16 != 0 {
		// Small data element: size and type packed into one word.
		size := int(first >> 16)
		if size > 4 {
			return 0, nil, nil, errors.Errorf("invalid small element size %d", size)
		}
		return first & 0xffff, b[4 : 4+size], b[8:], nil
	}

	size := int(order.Uint32(b[4:8]))
	if len(b) < 8+size {
		return 0, nil, nil, errors.Errorf("truncated element: need %d bytes, have %d", size, len(b)-8)
	}
	end := 8 + size
	if first != miCOMPRESSED {
		end = 8 + pad8(size)
		if end > len(b) {
			end = len(b)
		}
	}
	return first, b[8 : 8+size], b[end:], nil
}

func readMatrix(b []byte, order binary.ByteOrder) (*Array, error) {
	if len(b) == 0 {
		return nil, nil
	}

	_, flags, b, err := readElement(b, order)
	if err != nil {
		return nil, errors.Wrap(err, "array flags")
	}
	if len(flags) < 4 {
		return nil, errors.New("array flags too short")
	}
	class := order.Uint32(flags[0:4]) & 0xff
	if class < mxDOUBLE || class > mxUINT64 {
		return nil, nil
	}

	dimType, dimData, b, err := readElement(b, order)
	if err != nil {
		return nil, errors.Wrap(err, "dimensions")
	}
	dimValues, err := decode(dimType, dimData, order)
	if err != nil {
		return nil, errors.Wrap(err, "dimensions")
	}
	dims := make([]int, len(dimValues))
	total := 1
	for i, d := range dimValues {
		dims[i] = int(d)
		total *= dims[i]
	}

	_, name, b, err := readElement(b, order)
	if err != nil {
		return nil, errors.Wrap(err, "array name")
	}

	realType, realData, _, err := readElement(b, order)
	if err != nil {
		return nil, errors.Wrapf(err, "real part of %s", name)
	}
	values, err := decode(realType, realData, order)
	if err != nil {
		return nil, errors.Wrapf(err, "real part of %s", name)
	}
	if len(values) != total {
		return nil, errors.Errorf("array %s: %d values for dims %v", name, len(values), dims)
	}

	return &Array{Name: string(name), Dims: dims, Data: values}, nil
}

func decode(typ uint32, b []byte, order binary.ByteOrder) ([]float64, error) {
	var width int
	switch typ {
	case miINT8, miUINT8:
		width = 1
	case miINT16, miUINT16:
		width = 2
	case miINT32, miUINT32, miSINGLE:
		width = 4
	case miDOUBLE, miINT64, miUINT64:
		width = 8
	default:
		return nil, errors.Errorf("unsupported data type %d", typ)
	}
	if len(b)%width != 0 {
		return nil, errors.Errorf("data length %d is not a multiple of %d", len(b), width)
	}

	out := make([]float64, len(b)/width)
	for i := range out {
		p := b[i*width:]
		switch typ {
		case miINT8:
			out[i] = float64(int8(p[0]))
		case miUINT8:
			out[i] = float64(p[0])
		case miINT16:
			out[i] = float64(int16(order.Uint16(p)))
		case miUINT16:
			out[i] = float64(order.Uint16(p))
		case miINT32:
			out[i] = float64(int32(order.Uint32(p)))
		case miUINT32:
			out[i] = float64(order.Uint32(p))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(order.Uint32(p)))
		case miDOUBLE:
			out[i] = math.Float64frombits(order.Uint64(p))
		case miINT64:
			out[i] = float64(int64(order.Uint64(p)))
		case miUINT64:
			out[i] = float64(order.Uint64(p))
		}
	}
	return out, nil
}

func pad8(n int) int {
	return (n + 7) &^ 7
}
