// Package pipeline wires the log converter, event emulator and event buffer
// together and runs the frame-driven processing loop.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"dvs-emu-go/internal/eventbuf"
	"dvs-emu-go/internal/processing"
	"dvs-emu-go/internal/types"
)

type EngineConfig struct {
	Height         int
	Width          int
	Threshold      float32
	LogEpsilon     float32
	BufferCapacity int
	NoiseFilter    bool
	Border         processing.BorderMode
}

// Result describes one Ingest call.
type Result struct {
	Skipped  bool
	Index    uint64
	Events   []types.Event
	Duration time.Duration
}

// Engine owns the processing components. Ingest and ResetReference are
// meant for a single driving goroutine; the read accessors may be called
// from any goroutine.
type Engine struct {
	mu        sync.RWMutex
	cfg       EngineConfig
	converter *processing.LogConverter
	emulator  *processing.EventEmulator
	ring      *eventbuf.Ring
	lastIndex uint64
	frames    uint64
	latest    types.Frame
}

func NewEngine(cfg EngineConfig, ringOpts ...eventbuf.Option) (*Engine, error) {
	emulator, err := processing.NewEventEmulator(processing.EmulatorConfig{
		Height:      cfg.Height,
		Width:       cfg.Width,
		Threshold:   cfg.Threshold,
		NoiseFilter: cfg.NoiseFilter,
		Border:      cfg.Border,
	})
	if err != nil {
		return nil, err
	}
	if !(cfg.LogEpsilon > 0) {
		return nil, errors.New("engine: log epsilon must be positive")
	}
	ring, err := eventbuf.New(cfg.BufferCapacity, cfg.Height, cfg.Width, ringOpts...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		converter: processing.NewLogConverter(cfg.Height, cfg.Width, cfg.LogEpsilon),
		emulator:  emulator,
		ring:      ring,
	}, nil
}

// Ingest processes frame unless its index is not newer than the last one
// processed.
func (e *Engine) Ingest(frame types.Frame) (Result, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.frames > 0 && frame.Index <= e.lastIndex {
		return Result{Skipped: true, Index: frame.Index}, nil
	}

	lf, err := e.converter.Convert(frame)
	if err != nil {
		return Result{}, err
	}
	events, err := e.emulator.Process(lf, frame.TimestampUs)
	if err != nil {
		return Result{}, err
	}
	e.ring.Append(events)
	e.lastIndex = frame.Index
	e.frames++
	e.latest = frame

	return Result{Index: frame.Index, Events: events, Duration: time.Since(start)}, nil
}

// ResetReference re-baselines the emulator from frame, or from the last
// processed frame when frame is nil.
func (e *Engine) ResetReference(frame *types.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	src := frame
	if src == nil {
		if e.frames == 0 {
			return errors.New("no frame processed yet")
		}
		src = &e.latest
	}
	lf, err := e.converter.Convert(*src)
	if err != nil {
		return fmt.Errorf("reset reference: %w", err)
	}
	return e.emulator.ResetReference(lf)
}

func (e *Engine) Recent(windowUs float64) []types.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ring.Recent(windowUs)
}

// DensityMap copies the density accumulator. A reset mutates the buffer, so
// it takes the write lock.
func (e *Engine) DensityMap(reset bool) [][]float32 {
	if reset {
		e.mu.Lock()
		defer e.mu.Unlock()
	} else {
		e.mu.RLock()
		defer e.mu.RUnlock()
	}
	return e.ring.DensityMap(reset)
}

type Snapshot struct {
	Frames         uint64  `json:"frames"`
	LastIndex      uint64  `json:"last_frame_index"`
	TotalEvents    int64   `json:"total_events"`
	EventCount     int64   `json:"event_count"`
	EventRate      float64 `json:"event_rate"`
	Retained       int     `json:"retained"`
	Capacity       int     `json:"capacity"`
	Truncations    int64   `json:"truncations"`
	Seeded         bool    `json:"seeded"`
	ContrastThresh float32 `json:"contrast_threshold"`
	NoiseFilter    bool    `json:"noise_filter"`
	Border         string  `json:"border"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		Frames:         e.frames,
		LastIndex:      e.lastIndex,
		TotalEvents:    e.emulator.TotalEvents(),
		EventCount:     e.ring.EventCount(),
		EventRate:      e.ring.EventRate(),
		Retained:       e.ring.Len(),
		Capacity:       e.ring.Capacity(),
		Truncations:    e.ring.Truncations(),
		Seeded:         e.emulator.Seeded(),
		ContrastThresh: e.cfg.Threshold,
		NoiseFilter:    e.cfg.NoiseFilter,
		Border:         e.cfg.Border.String(),
	}
}

func (e *Engine) EventRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ring.EventRate()
}

func (e *Engine) EventCount() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ring.EventCount()
}

func (e *Engine) TotalEvents() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.emulator.TotalEvents()
}

func (e *Engine) Dims() (int, int) {
	return e.cfg.Height, e.cfg.Width
}
