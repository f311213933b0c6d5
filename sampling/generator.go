// Package sampling derives reproducible per-class sample subsets for the
// sample-efficiency sweep.
//
// Index matrices are drawn from a locally owned MT19937 generator seeded with
// the decimal concatenation of (indices per class, class count, repeat). The
// generator and the masked-rejection bounded draw follow numpy's legacy
// RandomState, so NewIndexMatrix reproduces
//
//	np.random.seed(int(f"{k}{c}{r}"))
//	np.random.randint(0, max_index, (c, k))
//
// bit for bit. Reproducibility is only guaranteed against that algorithm
// family.
package sampling

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mathext/prng"
)

var (
	// ErrSeedOverflow is returned when the concatenated seed does not fit in 32 bits.
	ErrSeedOverflow = errors.New("composite seed exceeds 2^32-1")
	// ErrIndexOutOfRange is returned when an offset does not address a sample
	// in its class pool.
	ErrIndexOutOfRange = errors.New("sample index out of range")
)

// Seed concatenates the decimal digits of the three components into one
// integer, e.g. (16, 10, 0) -> 16100.
func Seed(indicesPerClass, numClasses, repeat int) (uint32, error) {
	if indicesPerClass < 0 || numClasses < 0 || repeat < 0 {
		return 0, errors.Errorf("seed components must be non-negative: %d, %d, %d", indicesPerClass, numClasses, repeat)
	}
	digits := strconv.Itoa(indicesPerClass) + strconv.Itoa(numClasses) + strconv.Itoa(repeat)
	seed, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(ErrSeedOverflow, "seed %s", digits)
	}
	return uint32(seed), nil
}

// NewSource returns an MT19937 generator initialized with seed.
func NewSource(seed uint32) *prng.MT19937 {
	src := prng.NewMT19937()
	src.Seed(uint64(seed))
	return src
}

// IndexMatrix is a Rows x Cols table of per-class sample offsets, row-major.
// Row c lists the offsets drawn for class c.
type IndexMatrix struct {
	Rows int
	Cols int
	Data []int
}

// NewIndexMatrix draws numClasses x indicesPerClass offsets uniformly from
// [0, maxIndex) using the composite seed of (indicesPerClass, numClasses, repeat).
// Identical arguments always yield identical matrices.
func NewIndexMatrix(maxIndex, indicesPerClass, numClasses, repeat int) (*IndexMatrix, error) {
	if maxIndex <= 0 || int64(maxIndex) > math.MaxUint32+1 {
		return nil, errors.Errorf("max index %d outside (0, 2^32]", maxIndex)
	}
	if indicesPerClass < 0 || numClasses <= 0 {
		return nil, errors.Errorf("invalid matrix shape %dx%d", numClasses, indicesPerClass)
	}
	seed, err := Seed(indicesPerClass, numClasses, repeat)
	if err != nil {
		return nil, err
	}

	src := NewSource(seed)
	m := &IndexMatrix{Rows: numClasses, Cols: indicesPerClass, Data: make([]int, numClasses*indicesPerClass)}
	for i := range m.Data {
		m.Data[i] = boundedDraw(src, uint32(maxIndex-1))
	}
	return m, nil
}

// boundedDraw returns a value in [0, rng] by masking 32-bit outputs to the
// smallest covering power of two and rejecting values above rng.
func boundedDraw(src *prng.MT19937, rng uint32) int {
	if rng == 0 {
		return 0
	}
	mask := rng
	mask |= mask >> 1
	mask |= mask >> 2
	mask |= mask >> 4
	mask |= mask >> 8
	mask |= mask >> 16
	for {
		if v := src.Uint32() & mask; v <= rng {
			return int(v)
		}
	}
}

// At returns the offset at row r, column c.
func (m *IndexMatrix) At(r, c int) int {
	return m.Data[r*m.Cols+c]
}

// Row returns the offsets of class r. The slice aliases the matrix.
func (m *IndexMatrix) Row(r int) []int {
	return m.Data[r*m.Cols : (r+1)*m.Cols]
}

// Columns copies columns [from, to) into a new matrix.
func (m *IndexMatrix) Columns(from, to int) *IndexMatrix {
	if from < 0 || to > m.Cols || from > to {
		panic("sampling: column range out of bounds")
	}
	out := &IndexMatrix{Rows: m.Rows, Cols: to - from, Data: make([]int, 0, m.Rows*(to-from))}
	for r := 0; r < m.Rows; r++ {
		out.Data = append(out.Data, m.Row(r)[from:to]...)
	}
	return out
}

// Equal reports whether both matrices have the same shape and offsets.
func (m *IndexMatrix) Equal(o *IndexMatrix) bool {
	if m.Rows != o.Rows || m.Cols != o.Cols {
		return false
	}
	for i, v := range m.Data {
		if o.Data[i] != v {
			return false
		}
	}
	return true
}

// Replicate builds a matrix whose every one of numClasses rows holds offsets.
func Replicate(offsets []int, numClasses int) *IndexMatrix {
	m := &IndexMatrix{Rows: numClasses, Cols: len(offsets), Data: make([]int, 0, numClasses*len(offsets))}
	for r := 0; r < numClasses; r++ {
		m.Data = append(m.Data, offsets...)
	}
	return m
}
