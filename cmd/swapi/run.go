package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapi-archive/internal/config"
	"swapi-archive/internal/logger"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion and replace the stored snapshot",
		Long: `
Runs the ingestion pipeline once. Exits non-zero when the listing yields no
characters or the store rejects the snapshot; the previous snapshot is kept
in both cases.
`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, c)
		},
	}
}

func runOnce(ctx context.Context, c *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.App.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := openStore(cfg.Store, log)
	if err != nil {
		log.Error("failed to open store", zap.String("type", cfg.Store.Type), zap.Error(err))
		return err
	}
	defer store.Close()

	p := newPipeline(cfg, store, prometheus.NewRegistry(), log)
	defer p.Close()

	result, err := p.runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Fprintf(c.OutOrStdout(), "run %s: discovered=%d persisted=%d dropped=%d duration=%s\n",
		result.RunID, result.Discovered, result.Persisted, result.Dropped, result.Duration().Round(time.Millisecond))
	return nil
}
