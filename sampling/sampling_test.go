package sampling

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/tsawler/go-sweep/vision/dataset"
)

// makePool builds perClass samples for each class with labels interleaved
// (0, 1, ..., C-1, 0, 1, ...). Each 1x2 image stores (class, position in class).
func makePool(numClasses, perClass int) *dataset.Set {
	n := numClasses * perClass
	set := &dataset.Set{Images: dataset.NewImages(n, 1, 2), Labels: make([]int64, n)}
	for i := 0; i < n; i++ {
		class := i % numClasses
		set.Labels[i] = int64(class)
		img := set.Images.Image(i)
		img[0] = uint8(class)
		img[1] = uint8(i / numClasses)
	}
	return set
}

func TestBoundedDrawMatchesNumpy(t *testing.T) {
	// np.random.seed(0); np.random.randint(0, 10, 5) -> [5 0 3 3 7]
	src := NewSource(0)
	expected := []int{5, 0, 3, 3, 7}
	for i, want := range expected {
		if got := boundedDraw(src, 9); got != want {
			t.Errorf("draw %d = %d, expected %d", i, got, want)
		}
	}
}

func TestSeed(t *testing.T) {
	tests := []struct {
		k, c, r  int
		expected uint32
	}{
		{16, 10, 0, 16100},
		{1, 1000, 4, 110004},
		{4096, 10, 2, 4096102},
		{0, 2, 0, 20},
	}
	for _, test := range tests {
		got, err := Seed(test.k, test.c, test.r)
		if err != nil {
			t.Errorf("Seed(%d, %d, %d) failed: %v", test.k, test.c, test.r, err)
			continue
		}
		if got != test.expected {
			t.Errorf("Seed(%d, %d, %d) = %d, expected %d", test.k, test.c, test.r, got, test.expected)
		}
	}

	if _, err := Seed(99999, 99999, 9); errors.Cause(err) != ErrSeedOverflow {
		t.Errorf("expected ErrSeedOverflow, got %v", err)
	}
	if _, err := Seed(-1, 2, 0); err == nil {
		t.Error("expected error for negative component")
	}
}

func TestNewIndexMatrixDeterminism(t *testing.T) {
	a, err := NewIndexMatrix(100, 16, 10, 0)
	if err != nil {
		t.Fatalf("NewIndexMatrix failed: %v", err)
	}
	b, _ := NewIndexMatrix(100, 16, 10, 0)
	if !a.Equal(b) {
		t.Error("identical arguments produced different matrices")
	}
	if a.Rows != 10 || a.Cols != 16 {
		t.Errorf("shape = %dx%d, expected 10x16", a.Rows, a.Cols)
	}
	for i, v := range a.Data {
		if v < 0 || v >= 100 {
			t.Fatalf("offset %d = %d outside [0, 100)", i, v)
		}
	}
}

func TestNewIndexMatrixSeedSensitivity(t *testing.T) {
	base, _ := NewIndexMatrix(1000, 16, 10, 0)

	// Changing the repeat changes the matrix.
	other, _ := NewIndexMatrix(1000, 16, 10, 1)
	if base.Equal(other) {
		t.Error("repeat change produced an identical matrix")
	}

	// Changing the indices per class changes the leading columns too.
	wider, _ := NewIndexMatrix(1000, 17, 10, 0)
	if base.Equal(wider.Columns(0, 16)) {
		t.Error("indices-per-class change produced identical leading columns")
	}

	// Changing the class count changes the first row.
	fewer, _ := NewIndexMatrix(1000, 16, 9, 0)
	same := true
	for c := 0; c < 16; c++ {
		if fewer.At(0, c) != base.At(0, c) {
			same = false
		}
	}
	if same {
		t.Error("class-count change produced an identical first row")
	}
}

func TestNewIndexMatrixInvalid(t *testing.T) {
	if _, err := NewIndexMatrix(0, 4, 2, 0); err == nil {
		t.Error("expected error for zero max index")
	}
	if _, err := NewIndexMatrix(10, 4, 0, 0); err == nil {
		t.Error("expected error for zero classes")
	}
}

func TestTakeSamplesClassBalance(t *testing.T) {
	pool := makePool(3, 5)
	index := &IndexMatrix{Rows: 3, Cols: 2, Data: []int{4, 0, 1, 1, 2, 3}}

	sub, err := TakeSamples(pool, index, 3)
	if err != nil {
		t.Fatalf("TakeSamples failed: %v", err)
	}
	if sub.Len() != 6 {
		t.Fatalf("expected 6 samples, got %d", sub.Len())
	}

	expected := [][2]uint8{{0, 4}, {0, 0}, {1, 1}, {1, 1}, {2, 2}, {2, 3}}
	for i, want := range expected {
		img := sub.Images.Image(i)
		if img[0] != want[0] || img[1] != want[1] {
			t.Errorf("sample %d = %v, expected %v", i, img, want)
		}
		if sub.Labels[i] != int64(want[0]) {
			t.Errorf("label %d = %d, expected %d", i, sub.Labels[i], want[0])
		}
	}
}

func TestTakeSamplesOutOfRange(t *testing.T) {
	pool := makePool(2, 3)
	index := &IndexMatrix{Rows: 2, Cols: 1, Data: []int{0, 3}}
	if _, err := TakeSamples(pool, index, 2); errors.Cause(err) != ErrIndexOutOfRange {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}

	wrongRows := &IndexMatrix{Rows: 1, Cols: 1, Data: []int{0}}
	if _, err := TakeSamples(pool, wrongRows, 2); err == nil {
		t.Error("expected error for row/class mismatch")
	}
}

func TestTrainValSplitScenario(t *testing.T) {
	pool := makePool(10, 40)

	train, val, err := TrainValSplit(pool, 16, 10, 0)
	if err != nil {
		t.Fatalf("TrainValSplit failed: %v", err)
	}
	if train.Len() != 150 {
		t.Errorf("train rows = %d, expected 150", train.Len())
	}
	if val.Len() != 10 {
		t.Errorf("val rows = %d, expected 10", val.Len())
	}
	for class := 0; class < 10; class++ {
		if n := train.ClassCount(class); n != 15 {
			t.Errorf("class %d has %d training samples, expected 15", class, n)
		}
	}

	// The split is a column partition of one generated matrix.
	index, _ := NewIndexMatrix(40, 16, 10, 0)
	for class := 0; class < 10; class++ {
		if got, want := val.Images.Image(class)[1], uint8(index.At(class, 15)); got != want {
			t.Errorf("class %d validation sample at offset %d, expected %d", class, got, want)
		}
		if got, want := train.Images.Image(class*15)[1], uint8(index.At(class, 0)); got != want {
			t.Errorf("class %d first training sample at offset %d, expected %d", class, got, want)
		}
	}
}

func TestTrainValSplitCompleteness(t *testing.T) {
	pool := makePool(4, 64)
	for k := 1; k <= 64; k++ {
		train, val, err := TrainValSplit(pool, k, 4, 1)
		if err != nil {
			t.Fatalf("k=%d: %v", k, err)
		}
		if train.Len()+val.Len() != k*4 {
			t.Errorf("k=%d: %d+%d != %d", k, train.Len(), val.Len(), k*4)
		}
		if k < 10 && val != nil {
			t.Errorf("k=%d: expected no validation set", k)
		}
	}
}

func TestTrainValSplitTooManySamples(t *testing.T) {
	pool := makePool(2, 8)
	_, _, err := TrainValSplit(pool, 9, 2, 0)
	if errors.Cause(err) != ErrIndexOutOfRange {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := TakeTrainSamples(pool, 9, 2, 0); errors.Cause(err) != ErrIndexOutOfRange {
		t.Errorf("expected ErrIndexOutOfRange from TakeTrainSamples, got %v", err)
	}
}

func TestTakeTrainSamples(t *testing.T) {
	pool := makePool(3, 10)
	sub, err := TakeTrainSamples(pool, 4, 3, 2)
	if err != nil {
		t.Fatalf("TakeTrainSamples failed: %v", err)
	}
	if sub.Len() != 12 {
		t.Errorf("expected 12 samples, got %d", sub.Len())
	}
}

func TestIndexTableRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Ind_tr.mat")

	table, err := GenerateIndexTable(50, 12, 3)
	if err != nil {
		t.Fatalf("GenerateIndexTable failed: %v", err)
	}
	if err := table.Save(path, ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadIndexTable(path, DefaultIndexVariable)
	if err != nil {
		t.Fatalf("LoadIndexTable failed: %v", err)
	}
	if loaded.Rows != 12 || loaded.Runs != 3 {
		t.Fatalf("shape = %dx%d, expected 12x3", loaded.Rows, loaded.Runs)
	}
	for run := 0; run < 3; run++ {
		a, _ := table.Offsets(run, 0, 12)
		b, _ := loaded.Offsets(run, 0, 12)
		for i := range a {
			if a[i] != b[i] {
				t.Errorf("run %d row %d: %d vs %d", run, i, a[i], b[i])
			}
		}
	}

	if _, err := loaded.Offsets(3, 0, 1); errors.Cause(err) != ErrIndexOutOfRange {
		t.Errorf("expected ErrIndexOutOfRange for missing run, got %v", err)
	}
}

func TestSelectors(t *testing.T) {
	pool := makePool(2, 64)

	gen := NewGeneratedSelector(pool, 2, 64)
	val, err := gen.Validation()
	if err != nil {
		t.Fatalf("Validation failed: %v", err)
	}
	if val.Len() != 12 {
		t.Errorf("validation rows = %d, expected 12", val.Len())
	}
	train, err := gen.Select(16, 1)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if train.Len() != 30 {
		t.Errorf("training rows = %d, expected 30", train.Len())
	}
	if _, err := gen.Select(65, 0); errors.Cause(err) != ErrIndexOutOfRange {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}

	table, _ := GenerateIndexTable(64, 40, 2)
	fileSel := &IndexFileSelector{Pool: pool, Table: table, NumClasses: 2, ValidationStart: 32}
	val, err = fileSel.Validation()
	if err != nil {
		t.Fatalf("index file Validation failed: %v", err)
	}
	if val.Len() != 16 {
		t.Errorf("validation rows = %d, expected 16", val.Len())
	}
	train, err = fileSel.Select(8, 1)
	if err != nil {
		t.Fatalf("index file Select failed: %v", err)
	}
	if train.Len() != 16 || train.ClassCount(0) != 8 {
		t.Errorf("unexpected training subset %s", train)
	}
	if _, err := fileSel.Select(33, 0); errors.Cause(err) != ErrIndexOutOfRange {
		t.Errorf("expected ErrIndexOutOfRange for overlap, got %v", err)
	}
}

func TestGeneratedSelectorHoldsOutValidation(t *testing.T) {
	pool := makePool(2, 64)
	gen := NewGeneratedSelector(pool, 2, 64)

	val, err := gen.Validation()
	if err != nil {
		t.Fatalf("Validation failed: %v", err)
	}
	held := make(map[[2]uint8]bool)
	for i := 0; i < val.Len(); i++ {
		img := val.Images.Image(i)
		held[[2]uint8{img[0], img[1]}] = true
	}

	for _, n := range []int{1, 16, 32, 50} {
		for repeat := 0; repeat < 3; repeat++ {
			train, err := gen.Select(n, repeat)
			if err != nil {
				t.Fatalf("Select(%d, %d) failed: %v", n, repeat, err)
			}
			for i := 0; i < train.Len(); i++ {
				img := train.Images.Image(i)
				if held[[2]uint8{img[0], img[1]}] {
					t.Errorf("Select(%d, %d) trains on validation sample %v", n, repeat, img)
				}
				if train.Labels[i] != int64(img[0]) {
					t.Errorf("Select(%d, %d) sample %d carries label %d", n, repeat, i, train.Labels[i])
				}
			}
		}
	}

	// The validation set is drawn once and reused.
	again, _ := gen.Validation()
	if again != val {
		t.Error("expected the same validation set on every call")
	}
}
