package pipeline

import (
	"context"
	"errors"
	"time"

	"dvs-emu-go/internal/logger"
	"dvs-emu-go/internal/mailbox"
	"dvs-emu-go/internal/perf"
	"dvs-emu-go/internal/types"
)

// EventSink receives every non-empty event batch after it is buffered.
type EventSink interface {
	Publish(frameIndex uint64, timestampUs float64, events []types.Event)
}

// FrameSource is the consumer side of the frame mailbox.
type FrameSource interface {
	Wait(ctx context.Context, after uint64) (types.Frame, error)
	Published() uint64
}

type LoopConfig struct {
	DiagInterval time.Duration
}

type Loop struct {
	cfg    LoopConfig
	engine *Engine
	source FrameSource
	sinks  []EventSink
	perf   *perf.Monitor
	log    *logger.Logger
}

func NewLoop(cfg LoopConfig, engine *Engine, source FrameSource, monitor *perf.Monitor, sinks ...EventSink) *Loop {
	return &Loop{
		cfg:    cfg,
		engine: engine,
		source: source,
		sinks:  sinks,
		perf:   monitor,
		log:    logger.Named("pipeline"),
	}
}

// Run drives the engine until ctx is done or the source is closed. A frame
// that fails processing is logged and dropped.
func (l *Loop) Run(ctx context.Context) error {
	h, w := l.engine.Dims()
	l.log.Info().Int("height", h).Int("width", w).Msg("pipeline running")

	var (
		lastIndex     uint64
		frames        uint64
		lastEvents    int
		diagAt        = time.Now()
		diagPublished = l.source.Published()
	)
	for {
		frame, err := l.source.Wait(ctx, lastIndex)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, mailbox.ErrClosed) {
				l.log.Info().Uint64("frames", frames).Int64("total_events", l.engine.TotalEvents()).Msg("pipeline stopped")
				return nil
			}
			return err
		}

		res, err := l.engine.Ingest(frame)
		lastIndex = frame.Index
		if err != nil {
			l.log.Error().Err(err).Uint64("frame_index", frame.Index).Msg("frame dropped")
			continue
		}
		if res.Skipped {
			continue
		}
		frames++
		lastEvents = len(res.Events)

		if len(res.Events) > 0 {
			for _, sink := range l.sinks {
				sink.Publish(frame.Index, frame.TimestampUs, res.Events)
			}
		}
		if l.perf != nil {
			l.perf.Observe(res.Duration, len(res.Events))
		}

		if l.cfg.DiagInterval > 0 {
			if elapsed := time.Since(diagAt); elapsed >= l.cfg.DiagInterval {
				published := l.source.Published()
				camFPS := float64(published-diagPublished) / elapsed.Seconds()
				l.log.Info().
					Uint64("frames", frames).
					Int("events_frame", lastEvents).
					Int64("total", l.engine.TotalEvents()).
					Float64("cam_fps", camFPS).
					Msg("diagnostics")
				diagAt = time.Now()
				diagPublished = published
			}
		}
	}
}
