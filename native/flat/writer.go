package flat

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Document is one vector and its doc ID.
type Document struct {
	ID     uint32
	Vector []float32
}

// Encode serializes docs into the flat graph format. All vectors must share
// the same non-zero dimension.
func Encode(w io.Writer, docs []Document, c Compression) (int64, error) {
	dim := 0
	if len(docs) > 0 {
		dim = len(docs[0].Vector)
		if dim == 0 {
			return 0, fmt.Errorf("%w: empty vector for doc %d", ErrInvalidDocument, docs[0].ID)
		}
	}
	if uint64(len(docs)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: too many documents", ErrInvalidDocument)
	}

	ids := make([]byte, 4*len(docs))
	vecs := make([]byte, 4*dim*len(docs))
	for i, d := range docs {
		if len(d.Vector) != dim {
			return 0, fmt.Errorf("%w: doc %d has dimension %d, want %d", ErrInvalidDocument, d.ID, len(d.Vector), dim)
		}
		binary.LittleEndian.PutUint32(ids[4*i:], d.ID)
		off := 4 * dim * i
		for j, v := range d.Vector {
			binary.LittleEndian.PutUint32(vecs[off+4*j:], math.Float32bits(v))
		}
	}

	block, err := encodeBlock(vecs, c)
	if err != nil {
		return 0, err
	}

	crc := crc32.New(castagnoli)
	_, _ = crc.Write(ids)
	_, _ = crc.Write(block)

	h := FileHeader{
		Magic:       Magic,
		Version:     Version,
		Compression: c,
		Dim:         uint32(dim),
		Count:       uint32(len(docs)),
		Checksum:    crc.Sum32(),
	}

	var written int64
	for _, part := range [][]byte{h.Encode(), ids, block} {
		n, err := w.Write(part)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// WriteFile writes docs to path atomically through a temporary file.
func WriteFile(path string, docs []Document, c Compression) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := Encode(tmp, docs, c); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
