package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/timmy/goldmine/internal/api"
	"github.com/timmy/goldmine/internal/api/stream"
	"github.com/timmy/goldmine/internal/app"
	"github.com/timmy/goldmine/internal/config"
	"github.com/timmy/goldmine/internal/logger"
	"github.com/timmy/goldmine/internal/service"
	"github.com/timmy/goldmine/internal/supervisor"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Log.LoggerConfig("goldmine-api"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	// Render jobs run the render CLI as a child process
	sup := supervisor.New(a.Jobs, a.Documents, &supervisor.ExecLauncher{
		Command: cfg.Supervisor.Command,
		Args:    cfg.Supervisor.CommandArgs,
	}, supervisor.Config{
		FlushInterval: cfg.Supervisor.FlushInterval,
		LogLimit:      cfg.Supervisor.LogLimit,
	})
	hub := stream.NewHub()
	sup.Subscribe(hub.Publish)
	if err := sup.Recover(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to recover render jobs")
	}

	sqlDB, err := a.DB.DB()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to get database handle")
	}

	router := api.SetupRouter(api.Dependencies{
		Jobs:      sup,
		Hub:       hub,
		Documents: a.Documents,
		Searcher:  a.Index,
		Assets: &service.AssetLocator{
			DocumentRoot: cfg.Documents.Root,
			AssetRoot:    cfg.Documents.AssetRoot,
		},
		Preview: service.NewPreviewService(service.PreviewConfig{
			Binary:   cfg.Preview.Binary,
			Timeout:  cfg.Preview.Timeout,
			CacheDir: cfg.Documents.PreviewCache,
			MaxWidth: cfg.Preview.MaxWidth,
		}),
		Mirror:       a.Mirror,
		DocumentRoot: cfg.Documents.Root,
		Logger:       appLogger,
		Ping:         sqlDB.PingContext,
	}, &cfg.Server)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		httpErr := srv.Shutdown(shutdownCtx)
		if err := sup.Shutdown(shutdownCtx); err != nil {
			appLogger.WithError(err).Warn("Render jobs did not finish before shutdown")
		}
		return httpErr
	})

	if err := g.Wait(); err != nil {
		appLogger.WithError(err).Error("Server exited with error")
		return
	}
	appLogger.Info("Server exited")
}
