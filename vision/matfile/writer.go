package matfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const headerText = "MATLAB 5.0 MAT-file, Platform: GLNXA64, Created by: go-sweep"

// Write encodes arrays as uncompressed double matrices in little-endian
// level-5 format.
func Write(w io.Writer, arrays ...*Array) error {
	var buf bytes.Buffer

	header := make([]byte, headerSize)
	for i := range header[:116] {
		header[i] = ' '
	}
	copy(header, headerText)
	binary.LittleEndian.PutUint16(header[124:126], 0x0100)
	copy(header[126:128], "IM")
	buf.Write(header)

	for _, arr := range arrays {
		total := 1
		for _, d := range arr.Dims {
			total *= d
		}
		if total != len(arr.Data) {
			return errors.Errorf("array %s: %d values for dims %v", arr.Name, len(arr.Data), arr.Dims)
		}
		buf.Write(encodeMatrix(arr))
	}

	_, err := w.Write(buf.Bytes())
	return errors.Wrap(err, "failed to write MAT data")
}

// WriteFile writes arrays to path, creating parent directories.
func WriteFile(path string, arrays ...*Array) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create MAT file %s", path)
	}
	if err := Write(f, arrays...); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "failed to close MAT file %s", path)
}

func encodeMatrix(arr *Array) []byte {
	var body []byte

	flags := make([]byte, 8)
	binary.LittleEndian.PutUint32(flags, mxDOUBLE)
	body = appendElement(body, miUINT32, flags)

	dims := make([]byte, 4*len(arr.Dims))
	for i, d := range arr.Dims {
		binary.LittleEndian.PutUint32(dims[4*i:], uint32(int32(d)))
	}
	body = appendElement(body, miINT32, dims)

	body = appendElement(body, miINT8, []byte(arr.Name))

	data := make([]byte, 8*len(arr.Data))
	for i, v := range arr.Data {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	body = appendElement(body, miDOUBLE, data)

	return appendElement(nil, miMATRIX, body)
}

func appendElement(b []byte, typ uint32, data []byte) []byte {
	tag := make([]byte, 8)
	binary.LittleEndian.PutUint32(tag[0:4], typ)
	binary.LittleEndian.PutUint32(tag[4:8], uint32(len(data)))
	b = append(b, tag...)
	b = append(b, data...)
	return append(b, make([]byte, pad8(len(data))-len(data))...)
}
