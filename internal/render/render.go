// Package render draws event frames: mid-grey background, white for ON
// events and black for OFF events.
package render

import (
	"bytes"
	"image"
	"image/jpeg"

	"dvs-emu-go/internal/types"
)

const (
	grey  = 128
	white = 255
	black = 0
)

type Renderer struct {
	height  int
	width   int
	canvas  *image.Gray
	quality int
}

func New(height, width, quality int) *Renderer {
	return &Renderer{
		height:  height,
		width:   width,
		canvas:  image.NewGray(image.Rect(0, 0, width, height)),
		quality: quality,
	}
}

// Draw repaints the canvas from events. Later events overwrite earlier ones
// at the same pixel. The returned image is reused by the next call.
func (r *Renderer) Draw(events []types.Event) *image.Gray {
	for i := range r.canvas.Pix {
		r.canvas.Pix[i] = grey
	}
	for _, ev := range events {
		x, y := int(ev.X), int(ev.Y)
		if x < 0 || x >= r.width || y < 0 || y >= r.height {
			continue
		}
		v := uint8(black)
		if ev.Polarity > 0 {
			v = white
		}
		r.canvas.Pix[y*r.canvas.Stride+x] = v
	}
	return r.canvas
}

// JPEG draws events and encodes the result.
func (r *Renderer) JPEG(events []types.Event) ([]byte, error) {
	img := r.Draw(events)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
