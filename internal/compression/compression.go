// Package compression decodes compressed frame payloads carried inside the
// CBOR compression tag.
package compression

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// MaxDecodedSize bounds a single decompressed payload.
const MaxDecodedSize = 64 << 20

var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(MaxDecodedSize))

// Decompress expands encoded with the named algorithm. The result length
// must be a multiple of elemSize.
func Decompress(encoded []byte, algorithm string, elemSize int) ([]byte, error) {
	if elemSize <= 0 {
		return nil, fmt.Errorf("invalid element size %d", elemSize)
	}
	if len(encoded) == 0 {
		return []byte{}, nil
	}

	var (
		out []byte
		err error
	)
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "lz4":
		out, err = decompressLZ4(encoded)
	case "zstd":
		out, err = zstdDecoder.DecodeAll(encoded, nil)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("%s decompression failed: %w", algorithm, err)
	}
	if len(out)%elemSize != 0 {
		return nil, fmt.Errorf("decompressed size %d is not a multiple of element size %d", len(out), elemSize)
	}
	return out, nil
}

// decompressLZ4 reads a raw LZ4 block, growing the destination until the
// block fits.
func decompressLZ4(encoded []byte) ([]byte, error) {
	size := len(encoded) * 4
	if size < 64<<10 {
		size = 64 << 10
	}
	for size <= MaxDecodedSize {
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(encoded, dst)
		if err == nil {
			return dst[:n], nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			return nil, err
		}
		size *= 2
	}
	return nil, errors.New("lz4 block exceeds maximum decoded size")
}

// Compress is the inverse of Decompress, used by tests and tools that
// produce frame messages.
func Compress(raw []byte, algorithm string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "lz4":
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		var c lz4.Compressor
		n, err := c.CompressBlock(raw, dst)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, errors.New("lz4: input is not compressible")
		}
		return dst[:n], nil
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algorithm)
	}
}
