// Package eventbuf holds the fixed-capacity circular event store with
// windowed retrieval, rate measurement and a per-pixel density map.
package eventbuf

import (
	"fmt"
	"time"

	"dvs-emu-go/internal/clock"
	"dvs-emu-go/internal/types"
)

const minRateInterval = 500 * time.Millisecond

// Ring is a single-writer circular buffer of events. Callers that read from
// another goroutine must serialise access themselves.
type Ring struct {
	capacity int
	height   int
	width    int

	buf          []types.Event
	cursor       int
	totalWritten int64
	truncations  int64

	now          func() float64
	rateNow      func() time.Time
	rateInterval time.Duration
	rateStart    time.Time
	rateCount    int64
	rate         float64

	density []float32
}

type Option func(*Ring)

// WithClock sets the microsecond clock used as "now" by Recent.
func WithClock(now func() float64) Option {
	return func(r *Ring) { r.now = now }
}

// WithRateClock sets the wall clock used by the rate estimator.
func WithRateClock(now func() time.Time) Option {
	return func(r *Ring) { r.rateNow = now }
}

// WithRateInterval sets the rate measurement interval, floored at 500ms.
func WithRateInterval(d time.Duration) Option {
	return func(r *Ring) {
		if d < minRateInterval {
			d = minRateInterval
		}
		r.rateInterval = d
	}
}

func New(capacity, height, width int, opts ...Option) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("event buffer: capacity must be positive, got %d", capacity)
	}
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("event buffer: invalid resolution %dx%d", height, width)
	}
	r := &Ring{
		capacity:     capacity,
		height:       height,
		width:        width,
		buf:          make([]types.Event, capacity),
		now:          clock.Micros,
		rateNow:      time.Now,
		rateInterval: minRateInterval,
		density:      make([]float32, height*width),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.rateStart = r.rateNow()
	return r, nil
}

// Append stores events at the write cursor. A batch larger than the
// capacity is cut down to its newest capacity events; the counters and the
// density map still see the whole batch.
func (r *Ring) Append(events []types.Event) {
	n := len(events)
	if n == 0 {
		return
	}

	stored := events
	if n > r.capacity {
		stored = events[n-r.capacity:]
		r.truncations++
	}
	m := len(stored)
	first := copy(r.buf[r.cursor:], stored)
	if first < m {
		copy(r.buf, stored[first:])
	}
	r.cursor = (r.cursor + m) % r.capacity
	r.totalWritten += int64(n)

	r.rateCount += int64(n)
	now := r.rateNow()
	if elapsed := now.Sub(r.rateStart); elapsed >= r.rateInterval {
		r.rate = float64(r.rateCount) / elapsed.Seconds()
		r.rateCount = 0
		r.rateStart = now
	}

	for _, ev := range events {
		x, y := int(ev.X), int(ev.Y)
		if x < 0 || x >= r.width || y < 0 || y >= r.height {
			continue
		}
		r.density[y*r.width+x]++
	}
}

// Recent returns a copy of the retained events stamped within windowUs of
// now, oldest first.
func (r *Ring) Recent(windowUs float64) []types.Event {
	if r.totalWritten == 0 {
		return nil
	}
	cutoff := r.now() - windowUs

	var live []types.Event
	if r.totalWritten < int64(r.capacity) {
		live = make([]types.Event, r.totalWritten)
		copy(live, r.buf[:r.totalWritten])
	} else {
		live = make([]types.Event, 0, r.capacity)
		live = append(live, r.buf[r.cursor:]...)
		live = append(live, r.buf[:r.cursor]...)
	}

	out := live[:0]
	for _, ev := range live {
		if ev.TimestampUs >= cutoff {
			out = append(out, ev)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// DensityMap returns a copy of the accumulated per-pixel counts, indexed
// [y][x]. With reset the accumulator is zeroed after the copy.
func (r *Ring) DensityMap(reset bool) [][]float32 {
	out := make([][]float32, r.height)
	for y := range out {
		row := make([]float32, r.width)
		copy(row, r.density[y*r.width:(y+1)*r.width])
		out[y] = row
	}
	if reset {
		clear(r.density)
	}
	return out
}

// EventRate is the events-per-second figure of the last completed interval.
func (r *Ring) EventRate() float64 {
	return r.rate
}

// EventCount is the number of events ever appended.
func (r *Ring) EventCount() int64 {
	return r.totalWritten
}

func (r *Ring) Len() int {
	if r.totalWritten < int64(r.capacity) {
		return int(r.totalWritten)
	}
	return r.capacity
}

func (r *Ring) Capacity() int {
	return r.capacity
}

func (r *Ring) Truncations() int64 {
	return r.truncations
}

func (r *Ring) Dims() (int, int) {
	return r.height, r.width
}
