package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"dvs-emu-go/internal/compression"
)

const (
	tagMultiDimArray = 40
	tagUint8         = 64
	tagUint16LE      = 69
	tagCompressed    = 56500
)

// decodeMultiDimArray unpacks tag 40 [[rows, cols], typed array] into an
// 8-bit row-major pixel slice.
func decodeMultiDimArray(value any) (int, int, []uint8, error) {
	tag, ok := value.(cbor.Tag)
	if !ok || tag.Number != tagMultiDimArray {
		return 0, 0, nil, fmt.Errorf("expected multidim tag 40")
	}

	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return 0, 0, nil, fmt.Errorf("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) != 2 {
		return 0, 0, nil, fmt.Errorf("invalid multidim dimensions")
	}

	rows, err := toInt(dimsRaw[0])
	if err != nil {
		return 0, 0, nil, err
	}
	cols, err := toInt(dimsRaw[1])
	if err != nil {
		return 0, 0, nil, err
	}
	if rows <= 0 || cols <= 0 {
		return 0, 0, nil, fmt.Errorf("invalid multidim shape %dx%d", rows, cols)
	}

	pixels, err := decodeTypedArray(items[1])
	if err != nil {
		return 0, 0, nil, err
	}
	if len(pixels) != rows*cols {
		return 0, 0, nil, errors.New("dimension mismatch")
	}
	return rows, cols, pixels, nil
}

func decodeTypedArray(value any) ([]uint8, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return nil, fmt.Errorf("expected typed array tag")
	}

	switch tag.Number {
	case tagUint8:
		return extractBytes(tag, 1)
	case tagUint16LE:
		data, err := extractBytes(tag, 2)
		if err != nil {
			return nil, err
		}
		return downscaleUint16(data), nil
	default:
		return nil, fmt.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

func extractBytes(tag cbor.Tag, elemSize int) ([]byte, error) {
	switch v := tag.Content.(type) {
	case []byte:
		if len(v)%elemSize != 0 {
			return nil, fmt.Errorf("typed array length %d not a multiple of %d", len(v), elemSize)
		}
		return v, nil
	case cbor.Tag:
		if v.Number != tagCompressed {
			return nil, fmt.Errorf("unsupported nested tag %d", v.Number)
		}
		return decompress(v, elemSize)
	default:
		return nil, fmt.Errorf("unsupported typed array content %T", v)
	}
}

func decompress(tag cbor.Tag, elemSize int) ([]byte, error) {
	items, ok := tag.Content.([]any)
	if !ok || len(items) != 3 {
		return nil, errors.New("invalid compression tag content")
	}
	algorithm, ok := items[0].(string)
	if !ok {
		return nil, errors.New("invalid compression algorithm")
	}
	declared, err := toInt(items[1])
	if err != nil {
		return nil, err
	}
	if declared != elemSize {
		return nil, fmt.Errorf("compressed element size %d, want %d", declared, elemSize)
	}
	encoded, ok := items[2].([]byte)
	if !ok {
		return nil, errors.New("invalid compressed payload")
	}
	return compression.Decompress(encoded, algorithm, elemSize)
}

// downscaleUint16 keeps the high byte of each little-endian sample.
func downscaleUint16(data []byte) []uint8 {
	out := make([]uint8, len(data)/2)
	for i := range out {
		out[i] = uint8(binary.LittleEndian.Uint16(data[i*2:i*2+2]) >> 8)
	}
	return out
}

// encodeMultiDimArray is the inverse of decodeMultiDimArray for 8-bit data.
// With a non-empty algorithm the payload is wrapped in the compression tag.
func encodeMultiDimArray(rows, cols int, pixels []uint8, algorithm string) (cbor.Tag, error) {
	var content any = pixels
	if algorithm != "" {
		encoded, err := compression.Compress(pixels, algorithm)
		if err != nil {
			return cbor.Tag{}, err
		}
		content = cbor.Tag{Number: tagCompressed, Content: []any{algorithm, 1, encoded}}
	}
	return cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{rows, cols},
			cbor.Tag{Number: tagUint8, Content: content},
		},
	}, nil
}
