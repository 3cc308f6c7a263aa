package flat

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Block layout: [UncompressedSize uint32][CompressedSize uint32][Data...].
// CompressedSize == 0 means Data is stored uncompressed.
const blockHeaderSize = 8

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// encodeBlock frames data, compressing it when that saves at least 10%.
func encodeBlock(data []byte, c Compression) ([]byte, error) {
	var compressed []byte

	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	case CompressionNone:
	default:
		return nil, errors.New("flat: unknown compression")
	}

	stored := data
	if len(compressed) > 0 && float64(len(compressed)) <= float64(len(data))*0.9 {
		stored = compressed
	} else {
		compressed = nil
	}

	out := make([]byte, blockHeaderSize+len(stored))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], stored)
	return out, nil
}

// blockSizes reads the frame header of a block.
func blockSizes(block []byte) (uncompressed, compressed int, err error) {
	if len(block) < blockHeaderSize {
		return 0, 0, ErrCorrupt
	}
	uncompressed = int(binary.LittleEndian.Uint32(block[0:]))
	compressed = int(binary.LittleEndian.Uint32(block[4:]))

	stored := uncompressed
	if compressed != 0 {
		stored = compressed
	}
	if len(block) < blockHeaderSize+stored {
		return 0, 0, ErrCorrupt
	}
	return uncompressed, compressed, nil
}

// decodeBlockInto decompresses a block payload into dst, which must be exactly
// the uncompressed size.
func decodeBlockInto(dst, payload []byte, c Compression) error {
	if len(dst) == 0 {
		return nil
	}
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return err
		}
		if n != len(dst) {
			return errors.New("flat: decompressed size mismatch")
		}
		return nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		decoded, err := dec.DecodeAll(payload, dst[:0])
		if err != nil {
			return err
		}
		if len(decoded) != len(dst) {
			return errors.New("flat: decompressed size mismatch")
		}
		if &decoded[0] != &dst[0] {
			copy(dst, decoded)
		}
		return nil
	default:
		return errors.New("flat: unknown compression")
	}
}
