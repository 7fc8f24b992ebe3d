// Package perf tracks per-iteration pipeline latency over a rolling window.
package perf

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"dvs-emu-go/internal/logger"
)

const DefaultWindow = 120

type Stats struct {
	Samples      int     `json:"samples"`
	FPS          float64 `json:"fps"`
	MeanMs       float64 `json:"mean_ms"`
	P95Ms        float64 `json:"p95_ms"`
	MaxMs        float64 `json:"max_ms"`
	EventsPerSec float64 `json:"events_per_sec"`
	HeapMB       float64 `json:"heap_mb"`
}

// Monitor is safe for one writer (Observe) and concurrent Stats callers.
type Monitor struct {
	mu        sync.Mutex
	durations []float64
	events    []float64
	next      int
	filled    bool

	interval   time.Duration
	lastReport time.Time
	now        func() time.Time
	log        *logger.Logger
}

func NewMonitor(window int, interval time.Duration) *Monitor {
	if window < 1 {
		window = DefaultWindow
	}
	return &Monitor{
		durations:  make([]float64, window),
		events:     make([]float64, window),
		interval:   interval,
		lastReport: time.Now(),
		now:        time.Now,
		log:        logger.Named("perf"),
	}
}

// Observe records one iteration and logs a report when the interval has
// passed.
func (m *Monitor) Observe(d time.Duration, eventCount int) {
	m.mu.Lock()
	m.durations[m.next] = float64(d.Nanoseconds()) / 1e6
	m.events[m.next] = float64(eventCount)
	m.next++
	if m.next == len(m.durations) {
		m.next = 0
		m.filled = true
	}
	due := m.interval > 0 && m.now().Sub(m.lastReport) >= m.interval
	if due {
		m.lastReport = m.now()
	}
	m.mu.Unlock()

	if due {
		m.Report()
	}
}

func (m *Monitor) samples() ([]float64, []float64) {
	n := m.next
	if m.filled {
		n = len(m.durations)
	}
	d := make([]float64, n)
	e := make([]float64, n)
	copy(d, m.durations[:n])
	copy(e, m.events[:n])
	return d, e
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	durations, events := m.samples()
	m.mu.Unlock()

	if len(durations) == 0 {
		return Stats{HeapMB: heapMB()}
	}
	mean := stat.Mean(durations, nil)
	sort.Float64s(durations)
	s := Stats{
		Samples: len(durations),
		MeanMs:  mean,
		P95Ms:   stat.Quantile(0.95, stat.Empirical, durations, nil),
		MaxMs:   durations[len(durations)-1],
		HeapMB:  heapMB(),
	}
	if mean > 0 {
		s.FPS = 1000 / mean
		var total float64
		for _, v := range events {
			total += v
		}
		s.EventsPerSec = total / (mean * float64(len(durations)) / 1000)
	}
	return s
}

func (m *Monitor) Report() {
	s := m.Stats()
	if s.Samples == 0 {
		return
	}
	m.log.Info().
		Float64("fps", s.FPS).
		Float64("mean_ms", s.MeanMs).
		Float64("p95_ms", s.P95Ms).
		Float64("max_ms", s.MaxMs).
		Float64("events_per_sec", s.EventsPerSec).
		Float64("heap_mb", s.HeapMB).
		Msg("pipeline latency")
}

func heapMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (1024 * 1024)
}
