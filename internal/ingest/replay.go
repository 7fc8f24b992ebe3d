package ingest

import (
	"context"
	"errors"
	"io"
	"time"

	"dvs-emu-go/internal/logger"
	"dvs-emu-go/internal/mailbox"
	"dvs-emu-go/internal/output"
)

// Replayer feeds a recorded raw log back through the frame decoder. Speed
// scales the recorded inter-arrival gaps; 0 replays as fast as possible.
type Replayer struct {
	path      string
	speed     float64
	publisher *framePublisher
	log       *logger.Logger
	sleep     func(ctx context.Context, d time.Duration) bool
}

func NewReplayer(path string, speed float64, height, width int, mb *mailbox.Mailbox) *Replayer {
	return &Replayer{
		path:      path,
		speed:     speed,
		publisher: &framePublisher{height: height, width: width, mb: mb},
		log:       logger.Named("replay"),
		sleep:     sleepCtx,
	}
}

// Run replays the whole log once and returns nil at its end.
func (r *Replayer) Run(ctx context.Context) error {
	reader, err := output.OpenRawLog(r.path)
	if err != nil {
		return err
	}
	defer reader.Close()
	r.log.Info().Str("path", r.path).Float64("speed", r.speed).Msg("replay started")

	var prev time.Time
	skipped := 0
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if !prev.IsZero() && r.speed > 0 {
			gap := time.Duration(float64(rec.Received.Sub(prev)) / r.speed)
			if gap >= 0 && !r.sleep(ctx, gap) {
				return nil
			}
		}
		prev = rec.Received
		if ctx.Err() != nil {
			return nil
		}
		if err := r.publisher.publish(rec.Payload); err != nil {
			skipped++
			r.log.Debug().Err(err).Msg("replay skipped record")
		}
	}
	r.log.Info().Uint64("frames", r.publisher.count()).Int("skipped", skipped).Msg("replay finished")
	return nil
}

func (r *Replayer) Replayed() uint64 {
	return r.publisher.count()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
