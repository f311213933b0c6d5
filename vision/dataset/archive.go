package dataset

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// CacheFileName is the archive written into a dataset directory after the
// first load from source files.
const CacheFileName = "dataset_cache.pb"

// Archive array names
const (
	arrayTrainImages = "x_train"
	arrayTrainLabels = "y_train"
	arrayTestImages  = "x_test"
	arrayTestLabels  = "y_test"
)

// Wire field numbers. The archive is a repeated NamedArray message:
//
//	message Archive    { repeated NamedArray arrays = 1; }
//	message NamedArray { string name = 1; repeated int64 shape = 2; DType dtype = 3; bytes data = 4; }
const (
	fieldArchiveArray protowire.Number = 1

	fieldArrayName  protowire.Number = 1
	fieldArrayShape protowire.Number = 2
	fieldArrayDType protowire.Number = 3
	fieldArrayData  protowire.Number = 4
)

type dtype uint64

const (
	dtypeUint8 dtype = 1
	dtypeInt64 dtype = 2
)

type namedArray struct {
	name  string
	shape []int
	dtype dtype
	data  []byte
}

// WriteArchive encodes both splits as four named arrays.
func WriteArchive(w io.Writer, splits *Splits) error {
	if err := splits.Train.Validate(); err != nil {
		return errors.Wrap(err, "invalid training set")
	}
	if err := splits.Test.Validate(); err != nil {
		return errors.Wrap(err, "invalid test set")
	}

	var b []byte
	for _, arr := range []namedArray{
		imageArray(arrayTrainImages, splits.Train.Images),
		labelArray(arrayTrainLabels, splits.Train.Labels),
		imageArray(arrayTestImages, splits.Test.Images),
		labelArray(arrayTestLabels, splits.Test.Labels),
	} {
		b = appendArray(b, arr)
	}

	_, err := w.Write(b)
	return errors.Wrap(err, "failed to write archive")
}

// ReadArchive decodes an archive written by WriteArchive.
func ReadArchive(r io.Reader) (*Splits, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read archive")
	}

	arrays := make(map[string]namedArray)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "archive tag")
		}
		b = b[n:]

		if num == fieldArchiveArray && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "archive array")
			}
			arr, err := parseArray(msg)
			if err != nil {
				return nil, err
			}
			arrays[arr.name] = arr
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "archive field")
		}
		b = b[n:]
	}

	train, err := setFromArrays(arrays, arrayTrainImages, arrayTrainLabels)
	if err != nil {
		return nil, err
	}
	test, err := setFromArrays(arrays, arrayTestImages, arrayTestLabels)
	if err != nil {
		return nil, err
	}
	return &Splits{Train: train, Test: test}, nil
}

// SaveArchive writes the archive to path atomically.
func SaveArchive(path string, splits *Splits) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary archive in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if err := WriteArchive(tmp, splits); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temporary archive")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "failed to move archive into %s", path)
}

// LoadArchive reads the archive at path.
func LoadArchive(path string) (*Splits, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open archive %s", path)
	}
	defer f.Close()

	splits, err := ReadArchive(f)
	return splits, errors.Wrapf(err, "archive %s", path)
}

func imageArray(name string, im *Images) namedArray {
	return namedArray{
		name:  name,
		shape: []int{im.Count, im.Height, im.Width},
		dtype: dtypeUint8,
		data:  im.Pix,
	}
}

func labelArray(name string, labels []int64) namedArray {
	data := make([]byte, 8*len(labels))
	for i, l := range labels {
		binary.LittleEndian.PutUint64(data[8*i:], uint64(l))
	}
	return namedArray{name: name, shape: []int{len(labels)}, dtype: dtypeInt64, data: data}
}

func appendArray(b []byte, arr namedArray) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, fieldArrayName, protowire.BytesType)
	msg = protowire.AppendString(msg, arr.name)

	var shape []byte
	for _, d := range arr.shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	msg = protowire.AppendTag(msg, fieldArrayShape, protowire.BytesType)
	msg = protowire.AppendBytes(msg, shape)

	msg = protowire.AppendTag(msg, fieldArrayDType, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(arr.dtype))

	msg = protowire.AppendTag(msg, fieldArrayData, protowire.BytesType)
	msg = protowire.AppendBytes(msg, arr.data)

	b = protowire.AppendTag(b, fieldArchiveArray, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func parseArray(b []byte) (namedArray, error) {
	var arr namedArray
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return arr, errors.Wrap(protowire.ParseError(n), "array tag")
		}
		b = b[n:]

		switch {
		case num == fieldArrayName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return arr, errors.Wrap(protowire.ParseError(n), "array name")
			}
			arr.name, b = v, b[n:]
		case num == fieldArrayShape && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return arr, errors.Wrap(protowire.ParseError(n), "array shape")
			}
			for len(v) > 0 {
				d, m := protowire.ConsumeVarint(v)
				if m < 0 {
					return arr, errors.Wrap(protowire.ParseError(m), "array dimension")
				}
				arr.shape = append(arr.shape, int(d))
				v = v[m:]
			}
			b = b[n:]
		case num == fieldArrayDType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return arr, errors.Wrap(protowire.ParseError(n), "array dtype")
			}
			arr.dtype, b = dtype(v), b[n:]
		case num == fieldArrayData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return arr, errors.Wrap(protowire.ParseError(n), "array data")
			}
			arr.data = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return arr, errors.Wrap(protowire.ParseError(n), "array field")
			}
			b = b[n:]
		}
	}
	return arr, nil
}

func setFromArrays(arrays map[string]namedArray, imagesName, labelsName string) (*Set, error) {
	images, ok := arrays[imagesName]
	if !ok {
		return nil, errors.Errorf("archive is missing %s", imagesName)
	}
	labels, ok := arrays[labelsName]
	if !ok {
		return nil, errors.Errorf("archive is missing %s", labelsName)
	}
	if images.dtype != dtypeUint8 || len(images.shape) != 3 {
		return nil, errors.Errorf("%s: expected uint8 array of rank 3, got dtype %d shape %v", imagesName, images.dtype, images.shape)
	}
	if labels.dtype != dtypeInt64 || len(labels.shape) != 1 {
		return nil, errors.Errorf("%s: expected int64 vector, got dtype %d shape %v", labelsName, labels.dtype, labels.shape)
	}
	if len(labels.data) != 8*labels.shape[0] {
		return nil, errors.Errorf("%s: %d bytes for %d labels", labelsName, len(labels.data), labels.shape[0])
	}

	set := &Set{
		Images: &Images{
			Count:  images.shape[0],
			Height: images.shape[1],
			Width:  images.shape[2],
			Pix:    images.data,
		},
		Labels: make([]int64, labels.shape[0]),
	}
	for i := range set.Labels {
		set.Labels[i] = int64(binary.LittleEndian.Uint64(labels.data[8*i:]))
	}
	if set.Images.Pix == nil {
		set.Images.Pix = []uint8{}
	}
	return set, errors.Wrapf(set.Validate(), "archive arrays %s/%s", imagesName, labelsName)
}
