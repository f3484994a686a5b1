package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapi-archive/internal/config"
	"swapi-archive/internal/handler"
	"swapi-archive/internal/logger"
	"swapi-archive/internal/middleware"
	"swapi-archive/internal/router"
	"swapi-archive/internal/service"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the snapshot over HTTP",
		Long: `
Serves the stored snapshot, health checks, admin endpoints and Prometheus
metrics. When REFRESH_INTERVAL is set the snapshot is rebuilt on that
schedule, starting immediately.
`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.App.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting", zap.String("app", cfg.App.Name), zap.String("version", cfg.App.Version),
		zap.String("env", cfg.App.Environment))

	store, err := openStore(cfg.Store, log)
	if err != nil {
		log.Error("failed to open store", zap.String("type", cfg.Store.Type), zap.Error(err))
		return err
	}
	defer store.Close()

	p := newPipeline(cfg, store, prometheus.DefaultRegisterer, log)
	defer p.Close()

	if cfg.App.AdminKey == "" && cfg.App.IsProduction() {
		log.Warn("ADMIN_KEY is not set; admin endpoints are open")
	}

	// runs is cancelled before the server drains, so admin-triggered runs stop
	// before the deferred store.Close.
	runs, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	r := router.New(router.Config{
		Handler:          handler.New(cfg.App.Name, cfg.App.Version, store),
		CharacterHandler: handler.NewCharacterHandler(store, log),
		AdminHandler: handler.NewAdminHandler(handler.AdminConfig{
			Store:     store,
			StoreType: cfg.Store.Type,
			Runner:    p.runner,
			Runs:      p.ingestor,
			Gate:      p.fetcher,
			Lifetime:  runs,
		}, log),
		AdminMiddleware: middleware.NewAdminAuth(cfg.App.AdminKey),
		Metrics:         promhttp.Handler(),
		Logger:          log,
	})

	var scheduler *service.RefreshScheduler
	if cfg.Server.RefreshInterval > 0 {
		scheduler = service.NewRefreshScheduler(p.runner, service.RefreshConfig{
			Interval: cfg.Server.RefreshInterval,
		}, log)
		scheduler.Start()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err := <-serveErr:
		if err != nil {
			log.Error("server error", zap.Error(err))
			if scheduler != nil {
				scheduler.Stop()
			}
			return err
		}
	}

	// Stop the scheduler and admin runs first so no run is in flight when the store closes.
	if scheduler != nil {
		scheduler.Stop()
	}
	cancelRuns()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
