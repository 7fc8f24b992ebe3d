package simulator

import (
	"context"
	"math"
	"math/rand"
	"time"

	"dvs-emu-go/internal/clock"
	"dvs-emu-go/internal/logger"
	"dvs-emu-go/internal/mailbox"
	"dvs-emu-go/internal/types"
)

type Config struct {
	Height int
	Width  int
	FPS    float64
	// NoiseSigma is the standard deviation of per-pixel sensor noise in
	// 8-bit levels.
	NoiseSigma float64
	Seed       int64
}

// Scene is a static gradient with a bright disc orbiting the centre.
type Scene struct {
	height int
	width  int
	base   []float64
	radius float64
	orbit  float64
	period time.Duration
	noise  float64
	rng    *rand.Rand
}

func NewScene(cfg Config) *Scene {
	h, w := cfg.Height, cfg.Width
	base := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base[y*w+x] = 40 + 60*float64(x)/math.Max(1, float64(w-1))
		}
	}
	minDim := math.Min(float64(h), float64(w))
	return &Scene{
		height: h,
		width:  w,
		base:   base,
		radius: math.Max(1, minDim/10),
		orbit:  minDim / 3,
		period: 4 * time.Second,
		noise:  cfg.NoiseSigma,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Render draws the scene at elapsed time t into dst.
func (s *Scene) Render(t time.Duration, dst []uint8) {
	phase := 2 * math.Pi * float64(t%s.period) / float64(s.period)
	cx := float64(s.width)/2 + s.orbit*math.Cos(phase)
	cy := float64(s.height)/2 + s.orbit*math.Sin(phase)
	r2 := s.radius * s.radius

	for y := 0; y < s.height; y++ {
		dy := float64(y) - cy
		for x := 0; x < s.width; x++ {
			i := y*s.width + x
			v := s.base[i]
			dx := float64(x) - cx
			if dx*dx+dy*dy <= r2 {
				v = 230
			}
			if s.noise > 0 {
				v += s.rng.NormFloat64() * s.noise
			}
			dst[i] = clampByte(v)
		}
	}
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

// Run publishes synthetic frames to mb at cfg.FPS until ctx is done.
func Run(ctx context.Context, cfg Config, mb *mailbox.Mailbox) {
	log := logger.Named("simulator")
	scene := NewScene(cfg)
	interval := time.Duration(float64(time.Second) / cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Int("height", cfg.Height).Int("width", cfg.Width).Float64("fps", cfg.FPS).Msg("simulator started")
	start := time.Now()
	var index uint64
	for {
		select {
		case <-ctx.Done():
			log.Info().Uint64("frames", index).Msg("simulator stopped")
			return
		case now := <-ticker.C:
			data := make([]uint8, cfg.Height*cfg.Width)
			scene.Render(now.Sub(start), data)
			index++
			mb.Publish(types.Frame{
				Height:      cfg.Height,
				Width:       cfg.Width,
				Data:        data,
				TimestampUs: clock.FromTime(now),
				Index:       index,
			})
		}
	}
}
