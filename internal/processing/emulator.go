package processing

import (
	"errors"
	"fmt"
	"math"

	"dvs-emu-go/internal/types"
)

// BorderMode selects how the noise filter treats neighbours beyond the
// image edge.
type BorderMode int

const (
	// BorderWrap makes edge pixels consult the opposite edge.
	BorderWrap BorderMode = iota
	// BorderClamp treats out-of-image neighbours as not firing.
	BorderClamp
)

func ParseBorderMode(s string) (BorderMode, error) {
	switch s {
	case "", "wrap":
		return BorderWrap, nil
	case "clamp":
		return BorderClamp, nil
	default:
		return BorderWrap, fmt.Errorf("unknown border mode %q", s)
	}
}

func (m BorderMode) String() string {
	if m == BorderClamp {
		return "clamp"
	}
	return "wrap"
}

type EmulatorConfig struct {
	Height      int
	Width       int
	Threshold   float32
	NoiseFilter bool
	Border      BorderMode
}

// EventEmulator compares each log frame against a per-pixel reference and
// emits an event wherever the change reaches the contrast threshold. It is
// not safe for concurrent use.
type EventEmulator struct {
	cfg    EmulatorConfig
	ref    []float32
	fire   []int8
	keep   []bool
	seeded bool
	total  int64
}

func NewEventEmulator(cfg EmulatorConfig) (*EventEmulator, error) {
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, fmt.Errorf("emulator: invalid resolution %dx%d", cfg.Height, cfg.Width)
	}
	if !(cfg.Threshold > 0) {
		return nil, errors.New("emulator: contrast threshold must be positive")
	}
	n := cfg.Height * cfg.Width
	e := &EventEmulator{
		cfg:  cfg,
		ref:  make([]float32, n),
		fire: make([]int8, n),
		keep: make([]bool, n),
	}
	nan := float32(math.NaN())
	for i := range e.ref {
		e.ref[i] = nan
	}
	return e, nil
}

func (e *EventEmulator) checkShape(lf types.LogFrame) error {
	if !types.CheckShape(lf.Height, lf.Width, e.cfg.Height, e.cfg.Width, len(lf.Data)) {
		return fmt.Errorf("emulator: log frame %dx%d (%d samples), want %dx%d: %w",
			lf.Height, lf.Width, len(lf.Data), e.cfg.Height, e.cfg.Width, types.ErrDimensionMismatch)
	}
	return nil
}

// Process returns the events fired by lf, in row-major order. The first call
// only seeds the reference.
func (e *EventEmulator) Process(lf types.LogFrame, timestampUs float64) ([]types.Event, error) {
	if err := e.checkShape(lf); err != nil {
		return nil, err
	}
	if !e.seeded {
		copy(e.ref, lf.Data)
		e.seeded = true
		return nil, nil
	}

	c := e.cfg.Threshold
	fired := 0
	for i, v := range lf.Data {
		delta := v - e.ref[i]
		switch {
		case delta >= c:
			e.fire[i] = types.PolarityOn
			fired++
		case delta <= -c:
			e.fire[i] = types.PolarityOff
			fired++
		default:
			e.fire[i] = 0
		}
	}
	if fired == 0 {
		return nil, nil
	}

	if e.cfg.NoiseFilter {
		fired = e.suppressIsolated()
		if fired == 0 {
			return nil, nil
		}
	}

	events := make([]types.Event, 0, fired)
	w := e.cfg.Width
	for i, p := range e.fire {
		if p == 0 {
			continue
		}
		events = append(events, types.Event{
			X:           int16(i % w),
			Y:           int16(i / w),
			Polarity:    p,
			TimestampUs: timestampUs,
		})
		if p > 0 {
			e.ref[i] += c
		} else {
			e.ref[i] -= c
		}
	}
	e.total += int64(len(events))
	return events, nil
}

// suppressIsolated clears fire entries without a firing 4-neighbour and
// returns how many survive.
func (e *EventEmulator) suppressIsolated() int {
	h, w := e.cfg.Height, e.cfg.Width
	wrap := e.cfg.Border == BorderWrap
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if e.fire[i] == 0 {
				e.keep[i] = false
				continue
			}
			e.keep[i] = e.neighbourFired(y-1, x, wrap) ||
				e.neighbourFired(y+1, x, wrap) ||
				e.neighbourFired(y, x-1, wrap) ||
				e.neighbourFired(y, x+1, wrap)
		}
	}
	survivors := 0
	for i, k := range e.keep {
		if !k {
			e.fire[i] = 0
			continue
		}
		survivors++
	}
	return survivors
}

func (e *EventEmulator) neighbourFired(y, x int, wrap bool) bool {
	h, w := e.cfg.Height, e.cfg.Width
	if y < 0 || y >= h || x < 0 || x >= w {
		if !wrap {
			return false
		}
		y = (y + h) % h
		x = (x + w) % w
	}
	return e.fire[y*w+x] != 0
}

// ResetReference re-baselines the reference surface without emitting events.
func (e *EventEmulator) ResetReference(lf types.LogFrame) error {
	if err := e.checkShape(lf); err != nil {
		return err
	}
	copy(e.ref, lf.Data)
	e.seeded = true
	return nil
}

func (e *EventEmulator) TotalEvents() int64 {
	return e.total
}

func (e *EventEmulator) Seeded() bool {
	return e.seeded
}

// Reference returns a copy of the reference surface.
func (e *EventEmulator) Reference() []float32 {
	out := make([]float32, len(e.ref))
	copy(out, e.ref)
	return out
}

func (e *EventEmulator) Config() EmulatorConfig {
	return e.cfg
}
