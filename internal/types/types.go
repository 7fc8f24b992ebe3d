package types

import "errors"

// ErrDimensionMismatch is returned when a frame does not match the
// configured height and width.
var ErrDimensionMismatch = errors.New("dimension mismatch")

const (
	PolarityOn  int8 = 1
	PolarityOff int8 = -1
)

// Frame is one 8-bit grayscale capture, row-major.
type Frame struct {
	Height      int     `json:"height"`
	Width       int     `json:"width"`
	Data        []uint8 `json:"-"`
	TimestampUs float64 `json:"timestamp_us"`
	Index       uint64  `json:"frame_index"`
}

// LogFrame holds log-domain intensities with the same layout as Frame.
type LogFrame struct {
	Height int
	Width  int
	Data   []float32
}

type Event struct {
	_           struct{} `cbor:",toarray"`
	X           int16    `json:"x"`
	Y           int16    `json:"y"`
	Polarity    int8     `json:"polarity"`
	TimestampUs float64  `json:"timestamp_us"`
}

// CheckShape reports whether data of length n fits a height x width grid.
func CheckShape(height, width, wantHeight, wantWidth, n int) bool {
	return height == wantHeight && width == wantWidth && n == wantHeight*wantWidth
}
