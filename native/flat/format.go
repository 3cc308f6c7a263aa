package flat

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	// Magic spells "KNNF" in little-endian byte order.
	Magic      = 0x464E4E4B
	Version    = 1
	HeaderSize = 32
	// Extension is the graph file extension served by this engine.
	Extension = ".knnf"
	// EngineName is the registry name of this engine.
	EngineName = "flat"
)

var (
	ErrInvalidMagic    = errors.New("flat: invalid magic number")
	ErrInvalidVersion  = errors.New("flat: unsupported version")
	ErrCorrupt         = errors.New("flat: corrupt graph file")
	ErrChecksum        = errors.New("flat: checksum mismatch")
	ErrInvalidDocument = errors.New("flat: invalid document")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Compression selects how the vector block is stored.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, errors.New("flat: unknown compression " + s)
	}
}

// FileHeader is stored at offset 0.
type FileHeader struct {
	Magic       uint32
	Version     uint32
	Compression Compression
	_           [3]byte
	Dim         uint32
	Count       uint32
	// Checksum is the CRC32C of everything after the header.
	Checksum uint32
	_        [8]byte
}

func (h *FileHeader) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	buf[8] = byte(h.Compression)
	binary.LittleEndian.PutUint32(buf[12:], h.Dim)
	binary.LittleEndian.PutUint32(buf[16:], h.Count)
	binary.LittleEndian.PutUint32(buf[20:], h.Checksum)
	return buf
}

func DecodeHeader(buf []byte) (*FileHeader, error) {
	if len(buf) < HeaderSize {
		return nil, ErrCorrupt
	}
	h := &FileHeader{}
	h.Magic = binary.LittleEndian.Uint32(buf[0:])
	if h.Magic != Magic {
		return nil, ErrInvalidMagic
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:])
	if h.Version != Version {
		return nil, ErrInvalidVersion
	}
	h.Compression = Compression(buf[8])
	h.Dim = binary.LittleEndian.Uint32(buf[12:])
	h.Count = binary.LittleEndian.Uint32(buf[16:])
	h.Checksum = binary.LittleEndian.Uint32(buf[20:])
	return h, nil
}
