package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pagefront/internal/cache"
	"pagefront/internal/config"
	httphandlers "pagefront/internal/http"
	"pagefront/internal/invalidate"
	"pagefront/internal/logger"
	"pagefront/internal/metrics"
	"pagefront/internal/render"
	"pagefront/internal/server"
	"pagefront/internal/telemetry"
	"pagefront/internal/template"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the page server",
		Long:  "Run the page server: cache lookups, rendering through the upstream renderer and tag invalidation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
	cmd.Flags().IntVar(&port, "port", 3000, "Listen port (overrides config)")

	return cmd
}

func run(cfg *config.Config) error {
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	if err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
	}); err != nil {
		log.Warn("Tracing disabled", zap.Error(err))
	}

	m := metrics.New("pagefront")

	store, err := cache.NewStore(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	writer := cache.NewWriter(store, cache.WriteMode(cfg.Cache.WriteMode),
		cfg.Cache.WriteConcurrency, cfg.Cache.WriteTimeout, log, m)

	templates := template.New()
	loader := template.NewLoader(cfg.Render.TemplatesDir, log)
	loadTemplates(loader, templates, log)

	registry := render.NewRegistry()
	engine := render.NewHTTPEngine(cfg.Render.UpstreamURL, cfg.Render.Timeout)
	readyCtx, cancelReady := context.WithCancel(context.Background())
	defer cancelReady()
	go func() {
		if err := render.RegisterWhenReady(readyCtx, registry, engine, cfg.Render.ReadyPoll, log); err != nil {
			log.Debug("Stopped waiting for renderer", zap.Error(err))
		}
	}()

	coordinator := render.NewCoordinator(registry, templates, writer, render.Options{
		DefaultTemplate:  cfg.Render.DefaultTemplate,
		StoreCodeHeader:  cfg.Render.StoreCodeHeader,
		DefaultStoreCode: cfg.Render.DefaultStoreCode,
		CacheEnabled:     cfg.CacheEnabled(),
		TaggingEnabled:   cfg.Cache.UseTagging,
		TTL:              cfg.Cache.TTL,
	}, log, m)

	invalidator := invalidate.NewService(store, invalidate.NewRegistry(cfg.Cache.AvailableTags), invalidate.Options{
		Enabled: cfg.CacheEnabled(),
		Key:     cfg.Cache.InvalidateKey,
		Workers: cfg.Cache.InvalidateWorkers,
	}, log, m)
	if cfg.CacheEnabled() && cfg.Cache.InvalidateKey == "" {
		log.Warn("No cache invalidation key configured, /invalidate rejects every request")
	}

	handlers := httphandlers.New(cfg, log, store, registry, coordinator, invalidator, m)

	ln, err := server.Listen(context.Background(), cfg.Server.Host, cfg.Server.Port, cfg.Server.PortRetries, log)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Handler:           telemetry.Middleware(handlers.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("Server started",
		zap.String("addr", ln.Addr().String()),
		zap.String("renderer", cfg.Render.UpstreamURL),
		zap.Bool("output_cache", cfg.CacheEnabled()),
		zap.Bool("tagging", cfg.Cache.UseTagging),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				loadTemplates(loader, templates, log)
				continue
			}
			log.Info("Shutting down server...", zap.String("signal", sig.String()))
			return shutdown(cfg, httpServer, writer, store, cancelReady, log)
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		}
	}
}

func loadTemplates(loader *template.Loader, templates *template.Compositor, log *zap.Logger) {
	if err := loader.LoadInto(templates); err != nil {
		log.Warn("Failed to load output templates, keeping the current set", zap.Error(err))
	}
}

func shutdown(cfg *config.Config, httpServer *http.Server, writer *cache.Writer, store cache.Store, cancelReady context.CancelFunc, log *zap.Logger) error {
	cancelReady()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := writer.Drain(ctx); err != nil {
		log.Warn("Pending cache writes dropped", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		log.Warn("Failed to close cache", zap.Error(err))
	}
	if err := telemetry.Shutdown(ctx); err != nil {
		log.Warn("Failed to flush traces", zap.Error(err))
	}

	log.Info("Server stopped")
	return nil
}
