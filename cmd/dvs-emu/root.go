package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dvs-emu-go/internal/config"
	"dvs-emu-go/internal/logger"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg starts from the defaults with DVS_* overrides; flags apply on top.
	cfg   = config.Default().ApplyEnv()
	runID string
)

var rootCmd = &cobra.Command{
	Use:          "dvs-emu",
	Short:        "Event camera emulator for conventional frame streams",
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		runID = uuid.NewString()
		logger.Init(logger.Options{
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Service: "dvs-emu",
			RunID:   runID,
		})
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (console or json)")
}
