package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0gfoundation/cipo/internal/config"
)

const defaultConfigPath = "/etc/cipo.toml"

type rootOptions struct {
	configPath string
	journalDir string
	debug      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "cipo",
		Short:         "Sell metered electricity for Monero",
		Long:          "cipo watches a Monero wallet for incoming transfers and switches the paid-for smart plug on until the purchased energy has been delivered.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "f", defaultConfigPath, "path to the TOML config file")
	cmd.PersistentFlags().StringVarP(&opts.journalDir, "journal", "j", defaultJournalDir(), "journal directory")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "development logging")

	cmd.AddCommand(newJournalCommand(opts))
	return cmd
}

func defaultJournalDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "journal"
	}
	return filepath.Join(wd, "journal")
}

func newLogger(debug bool) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if debug {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func serve(ctx context.Context, opts *rootOptions) error {
	log := newLogger(opts.debug)
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Error("config load failed", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(cfg, opts.journalDir, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.close()

	if err := a.run(ctx); err != nil {
		log.Error("fatal error, exiting", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}
