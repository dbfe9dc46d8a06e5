package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/uuid"
	"github.com/spf13/cobra"

	"github.com/qdbp/empty-status/base/log"
	"github.com/qdbp/empty-status/service"
	"github.com/qdbp/empty-status/service/config"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:           "empty-status",
		Short:         "empty-status is an i3bar status line engine",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "config file path (defaults to the user config dir)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.Setup(level)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	instance, err := service.New(cfg)
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}

	runID, _ := uuid.NewV4()
	slog.Info("starting", "run_id", runID, "units", len(cfg.Units))

	if err := instance.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalCh
	slog.Info("shutting down", "signal", sig.String())

	if !instance.Stop() {
		return errors.New("failed to stop cleanly")
	}
	return nil
}
