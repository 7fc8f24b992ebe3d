package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dvs-emu-go/internal/config"
	"dvs-emu-go/internal/ingest"
	"dvs-emu-go/internal/logger"
	"dvs-emu-go/internal/mailbox"
	"dvs-emu-go/internal/output"
	"dvs-emu-go/internal/perf"
	"dvs-emu-go/internal/pipeline"
	"dvs-emu-go/internal/processing"
	"dvs-emu-go/internal/publish"
	"dvs-emu-go/internal/server"
	"dvs-emu-go/internal/simulator"
)

const simNoiseSigma = 2.0

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the emulator with the configured frame source",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEmulator(cmd.Context(), cfg)
	},
}

func init() {
	f := runCmd.Flags()
	f.IntVar(&cfg.Height, "height", cfg.Height, "Frame height in pixels")
	f.IntVar(&cfg.Width, "width", cfg.Width, "Frame width in pixels")
	f.Float64Var(&cfg.ContrastThreshold, "threshold", cfg.ContrastThreshold, "Contrast threshold in log-intensity units")
	f.Float64Var(&cfg.LogEpsilon, "log-epsilon", cfg.LogEpsilon, "Offset added before the log so black pixels stay finite")
	f.IntVar(&cfg.BufferCapacity, "buffer", cfg.BufferCapacity, "Event ring buffer capacity")
	f.BoolVar(&cfg.NoiseFilter, "noise-filter", cfg.NoiseFilter, "Suppress events without a firing 4-neighbour")
	f.StringVar(&cfg.Border, "border", cfg.Border, "Noise filter border handling (wrap or clamp)")

	f.StringVar(&cfg.Source, "source", cfg.Source, "Frame source (sim, zmq or replay)")
	f.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "ZMQ PUSH endpoint to pull frames from")
	f.StringVar(&cfg.ReplayPath, "replay", cfg.ReplayPath, "Raw log to replay")
	f.Float64Var(&cfg.ReplaySpeed, "replay-speed", cfg.ReplaySpeed, "Replay speed factor, 0 replays as fast as possible")
	f.Float64Var(&cfg.SimFPS, "sim-fps", cfg.SimFPS, "Simulated camera frame rate")
	f.IntVar(&cfg.IngestLogEvery, "ingest-log-every", cfg.IngestLogEvery, "Log every Nth ingest error")
	f.StringVar(&cfg.PublishAddr, "publish", cfg.PublishAddr, "Bind address for the ZMQ event PUB socket, empty disables")

	f.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port for telemetry")
	f.DurationVar(&cfg.VizWindow, "viz-window", cfg.VizWindow, "Render window for the event view")
	f.DurationVar(&cfg.UIRate, "ui-rate", cfg.UIRate, "Websocket push interval")
	f.DurationVar(&cfg.PerfReportInterval, "perf-interval", cfg.PerfReportInterval, "Performance report interval")
	f.DurationVar(&cfg.DiagInterval, "diag-interval", cfg.DiagInterval, "Diagnostics log interval")
	f.IntVar(&cfg.JPEGQuality, "jpeg-quality", cfg.JPEGQuality, "MJPEG stream quality")

	f.BoolVar(&cfg.RawLogEnabled, "raw-log", cfg.RawLogEnabled, "Record raw ZMQ payloads to disk")
	f.StringVar(&cfg.RawLogDir, "raw-log-dir", cfg.RawLogDir, "Directory for raw logs")

	rootCmd.AddCommand(runCmd)
}

func runEmulator(ctx context.Context, cfg config.AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	border, err := processing.ParseBorderMode(cfg.Border)
	if err != nil {
		return err
	}
	log := logger.Named("main")

	engine, err := pipeline.NewEngine(pipeline.EngineConfig{
		Height:         cfg.Height,
		Width:          cfg.Width,
		Threshold:      float32(cfg.ContrastThreshold),
		LogEpsilon:     float32(cfg.LogEpsilon),
		BufferCapacity: cfg.BufferCapacity,
		NoiseFilter:    cfg.NoiseFilter,
		Border:         border,
	})
	if err != nil {
		return err
	}

	var sinks []pipeline.EventSink
	if cfg.PublishAddr != "" {
		pub, err := publish.New(cfg.PublishAddr)
		if err != nil {
			return fmt.Errorf("event publisher: %w", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mb := mailbox.New()
	monitor := perf.NewMonitor(perf.DefaultWindow, cfg.PerfReportInterval)

	sourceDone := make(chan error, 1)
	go func() {
		err := runSource(ctx, cfg, mb)
		mb.Close()
		sourceDone <- err
	}()

	srv := server.New(server.Deps{
		Config:  cfg,
		Engine:  engine,
		Mailbox: mb,
		Perf:    monitor,
		RunID:   runID,
	})
	serverDone := make(chan error, 1)
	go func() {
		err := srv.Run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
			cancel()
		}
		serverDone <- err
	}()

	log.Info().
		Str("source", cfg.Source).
		Int("height", cfg.Height).
		Int("width", cfg.Width).
		Float64("threshold", cfg.ContrastThreshold).
		Bool("noise_filter", cfg.NoiseFilter).
		Str("border", border.String()).
		Msg("emulator starting")

	loop := pipeline.NewLoop(pipeline.LoopConfig{DiagInterval: cfg.DiagInterval}, engine, mb, monitor, sinks...)
	if err := loop.Run(ctx); err != nil {
		return err
	}
	if err := <-sourceDone; err != nil && !errors.Is(err, context.Canceled) {
		cancel()
		<-serverDone
		return fmt.Errorf("%s source: %w", cfg.Source, err)
	}

	if ctx.Err() == nil {
		log.Info().Msg("source finished, telemetry stays up until interrupted")
		<-ctx.Done()
	}
	cancel()
	monitor.Report()
	return <-serverDone
}

func runSource(ctx context.Context, cfg config.AppConfig, mb *mailbox.Mailbox) error {
	switch cfg.Source {
	case "sim":
		simulator.Run(ctx, simulator.Config{
			Height:     cfg.Height,
			Width:      cfg.Width,
			FPS:        cfg.SimFPS,
			NoiseSigma: simNoiseSigma,
			Seed:       1,
		}, mb)
		return nil
	case "replay":
		return ingest.NewReplayer(cfg.ReplayPath, cfg.ReplaySpeed, cfg.Height, cfg.Width, mb).Run(ctx)
	case "zmq":
		icfg := ingest.Config{
			Endpoint: cfg.Endpoint,
			Height:   cfg.Height,
			Width:    cfg.Width,
			LogEvery: cfg.IngestLogEvery,
		}
		if cfg.RawLogEnabled {
			writer, err := output.NewRawLogWriter(cfg.RawLogDir, "frames")
			if err != nil {
				return fmt.Errorf("raw log: %w", err)
			}
			defer func() {
				if err := writer.Close(); err != nil {
					logger.Named("rawlog").Error().Err(err).Msg("raw log close failed")
				}
			}()
			logger.Named("rawlog").Info().Str("path", writer.Path()).Msg("recording raw payloads")
			icfg.Recorder = writer
		}
		return ingest.NewReceiver(icfg, mb).Run(ctx)
	default:
		return fmt.Errorf("unknown source %q", cfg.Source)
	}
}
