package processing

import (
	"fmt"
	"math"

	"dvs-emu-go/internal/types"
)

// LogConverter maps 8-bit intensity to L = ln(I/255 + eps). Working in the
// log domain turns a fixed contrast threshold into a relative one.
type LogConverter struct {
	height int
	width  int
	eps    float32
	lut    [256]float32
	out    []float32
}

func NewLogConverter(height, width int, epsilon float32) *LogConverter {
	c := &LogConverter{
		height: height,
		width:  width,
		eps:    epsilon,
		out:    make([]float32, height*width),
	}
	for i := range c.lut {
		c.lut[i] = logIntensity(uint8(i), epsilon)
	}
	return c
}

func logIntensity(v uint8, eps float32) float32 {
	scaled := float32(v)*float32(1.0/255.0) + eps
	return float32(math.Log(float64(scaled)))
}

// Convert returns a LogFrame backed by the converter's scratch buffer. The
// result is overwritten by the next call.
func (c *LogConverter) Convert(frame types.Frame) (types.LogFrame, error) {
	if !types.CheckShape(frame.Height, frame.Width, c.height, c.width, len(frame.Data)) {
		return types.LogFrame{}, fmt.Errorf("log convert: frame %dx%d (%d samples), want %dx%d: %w",
			frame.Height, frame.Width, len(frame.Data), c.height, c.width, types.ErrDimensionMismatch)
	}
	for i, v := range frame.Data {
		c.out[i] = c.lut[v]
	}
	return types.LogFrame{Height: c.height, Width: c.width, Data: c.out}, nil
}

func (c *LogConverter) Epsilon() float32 {
	return c.eps
}
