package sampling

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tsawler/go-sweep/vision/matfile"
)

// DefaultIndexVariable is the array name in precomputed index files.
const DefaultIndexVariable = "indtr"

// IndexTable is a precomputed table of per-class offsets: one column per
// repeat run, one row per offset. The same offset addresses the same position
// in every class pool. Offsets are zero-based in memory and one-based on disk.
type IndexTable struct {
	Rows    int
	Runs    int
	columns [][]int
}

// LoadIndexTable reads a (rows, runs) array of one-based offsets.
func LoadIndexTable(path, variable string) (*IndexTable, error) {
	if variable == "" {
		variable = DefaultIndexVariable
	}
	arr, err := matfile.ReadFile(path, variable)
	if err != nil {
		return nil, err
	}
	if len(arr.Dims) != 2 {
		return nil, errors.Errorf("index array %s has shape %v, expected (rows, runs)", variable, arr.Dims)
	}

	t := &IndexTable{Rows: arr.Dims[0], Runs: arr.Dims[1], columns: make([][]int, arr.Dims[1])}
	for run := 0; run < t.Runs; run++ {
		col := make([]int, t.Rows)
		for row := 0; row < t.Rows; row++ {
			v := arr.At(row, run)
			if v != math.Trunc(v) || v < 1 {
				return nil, errors.Errorf("index %v at (%d, %d) is not a one-based offset", v, row, run)
			}
			col[row] = int(v) - 1
		}
		t.columns[run] = col
	}
	return t, nil
}

// GenerateIndexTable draws rows offsets in [0, maxIndex) for each of runs
// repeats, column r seeded as a single-class matrix with repeat r.
func GenerateIndexTable(maxIndex, rows, runs int) (*IndexTable, error) {
	t := &IndexTable{Rows: rows, Runs: runs, columns: make([][]int, runs)}
	for run := 0; run < runs; run++ {
		m, err := NewIndexMatrix(maxIndex, rows, 1, run)
		if err != nil {
			return nil, errors.Wrapf(err, "run %d", run)
		}
		t.columns[run] = m.Row(0)
	}
	return t, nil
}

// Save writes the table as one-based offsets.
func (t *IndexTable) Save(path, variable string) error {
	if variable == "" {
		variable = DefaultIndexVariable
	}
	data := make([]float64, 0, t.Rows*t.Runs)
	for _, col := range t.columns {
		for _, off := range col {
			data = append(data, float64(off+1))
		}
	}
	return matfile.WriteFile(path, &matfile.Array{Name: variable, Dims: []int{t.Rows, t.Runs}, Data: data})
}

// Offsets returns rows [from, to) of column run.
func (t *IndexTable) Offsets(run, from, to int) ([]int, error) {
	if run < 0 || run >= t.Runs {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "run %d, table has %d runs", run, t.Runs)
	}
	if from < 0 || to > t.Rows || from > to {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "rows [%d, %d), table has %d rows", from, to, t.Rows)
	}
	return append([]int(nil), t.columns[run][from:to]...), nil
}

// Matrix returns rows [from, to) of column run replicated for every class.
func (t *IndexTable) Matrix(run, from, to, numClasses int) (*IndexMatrix, error) {
	offsets, err := t.Offsets(run, from, to)
	if err != nil {
		return nil, err
	}
	return Replicate(offsets, numClasses), nil
}
