package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sahidur/ams-sub001/internal/approval"
	"github.com/sahidur/ams-sub001/internal/config"
	"github.com/sahidur/ams-sub001/internal/idempotency"
	"github.com/sahidur/ams-sub001/internal/observability"
	"github.com/sahidur/ams-sub001/internal/openapi"
	"github.com/sahidur/ams-sub001/internal/transport"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "approvals", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return err
	}

	a, err := buildApp(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("OpenAPI document invalid", zap.Error(err))
		return err
	}

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	if err := jwks.Refresh(ctx); err != nil {
		// Keys are fetched again on the first unknown kid.
		logger.Warn("initial JWKS fetch failed", zap.Error(err))
	}

	writeError := transport.ErrorWriter(logger)
	var idem *idempotency.Middleware
	if store := a.idempotencyStore(); store != nil {
		idem = idempotency.NewMiddleware(store, cfg.Idempotency.TTL, a.metrics, logger, writeError)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Engine:       a.engine,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Idempotency:  idem,
		Metrics:      a.metrics,
		Gatherer:     prometheus.DefaultGatherer,
		Readiness:    a.readiness(),
		OpenAPI:      doc.Handler(),
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	if cfg.SLA.MonitorInterval > 0 {
		go approval.NewMonitor(a.engine).Run(bgCtx, cfg.SLA.MonitorInterval)
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("templates", a.templates.Len()),
		zap.String("openapi_version", doc.Version()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
