// Package app wires the coordinator's dependencies — state store,
// authentication, session/queue/push fabric, HTTP surface — and runs the
// process until its context is cancelled (spec.md §4 "Coordinator").
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kubently/kubently/internal/audit"
	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/config"
	"github.com/kubently/kubently/internal/httpserver"
	"github.com/kubently/kubently/internal/platform"
	"github.com/kubently/kubently/internal/push"
	"github.com/kubently/kubently/internal/queue"
	"github.com/kubently/kubently/internal/session"
	"github.com/kubently/kubently/internal/telemetry"
)

// Version is set at build time via -ldflags; defaults to "dev".
var Version = "dev"

// Run is the coordinator's entry point: given the loaded config, it connects
// to the state store, wires the auth/session/queue/push fabric, and serves HTTP
// until ctx is cancelled (spec.md §4.5 "Coordinator HTTP surface").
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting kubently coordinator", "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "kubently-coordinator", Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	metricsReg := telemetry.NewRegistry(telemetry.All()...)

	apiKeyAuth := auth.NewAPIKeyAuthenticator(cfg.APIKeys)

	var oidcAuth *auth.OIDCAuthenticator
	if cfg.OIDCEnabled {
		if cfg.OIDCJWKSURI == "" || cfg.OIDCIssuer == "" {
			return fmt.Errorf("OIDC_ENABLED is true but OIDC_ISSUER or OIDC_JWKS_URI is unset")
		}
		oidcAuth = auth.NewOIDCAuthenticator(rdb, cfg.OIDCJWKSURI, cfg.OIDCIssuer, cfg.OIDCAudience)
		logger.Info("OIDC authentication enabled", "issuer", cfg.OIDCIssuer)
	} else {
		logger.Info("OIDC authentication disabled (OIDC_ENABLED not set)")
	}

	executorTokens := auth.NewTokenRegistry(rdb)
	sessions := session.NewStore(rdb)
	q := queue.New(rdb, cfg.MaxCommandsPerFetch)

	auditWriter := audit.NewWriter(rdb, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	pingInterval := time.Duration(cfg.PingIntervalSeconds) * time.Second
	streamHandler := push.NewHandler(ctx, rdb, q, logger, pingInterval)
	longPollHandler := push.NewLongPollHandler(q, logger)

	srv := httpserver.NewServer(
		cfg,
		logger,
		rdb,
		sessions,
		q,
		executorTokens,
		auditWriter,
		streamHandler,
		longPollHandler,
		metricsReg,
		apiKeyAuth,
		oidcAuth,
	)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the SSE stream is long-lived; bound writes at the handler level instead.
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down coordinator")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
