// Package app wires the gateway's components together and runs the
// process in either api or worker mode.
package app

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/promptgate/internal/adminauth"
	"github.com/wisbric/promptgate/internal/auth"
	"github.com/wisbric/promptgate/internal/chatapi"
	"github.com/wisbric/promptgate/internal/config"
	"github.com/wisbric/promptgate/internal/httpserver"
	"github.com/wisbric/promptgate/internal/platform"
	"github.com/wisbric/promptgate/internal/telemetry"
	"github.com/wisbric/promptgate/pkg/configresolver"
	"github.com/wisbric/promptgate/pkg/conversation"
	"github.com/wisbric/promptgate/pkg/crypto"
	"github.com/wisbric/promptgate/pkg/mcp"
	"github.com/wisbric/promptgate/pkg/tenant"
	"github.com/wisbric/promptgate/pkg/tenantcache"
	"github.com/wisbric/promptgate/pkg/trace"
)

// Run is the main application entry point. Given the loaded config, it
// connects to infrastructure and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting promptgate", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// masterKey resolves the AES-256 master key from config: base64-decoded
// ENCRYPTION_MASTER_KEY in production, or a random key with a warning in
// dev mode when unset.
func masterKey(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.EncryptionMasterKey == "" {
		if !cfg.DevMode {
			return nil, fmt.Errorf("ENCRYPTION_MASTER_KEY is required outside dev mode")
		}
		logger.Warn("ENCRYPTION_MASTER_KEY not set; generating an ephemeral dev key (ciphertexts will not survive a restart)")
		key := make([]byte, crypto.KeySize)
		if _, err := cryptorand.Read(key); err != nil {
			return nil, fmt.Errorf("generating dev master key: %w", err)
		}
		return key, nil
	}

	key, err := base64.StdEncoding.DecodeString(cfg.EncryptionMasterKey)
	if err != nil {
		return nil, fmt.Errorf("decoding ENCRYPTION_MASTER_KEY: %w", err)
	}
	return key, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	key, err := masterKey(cfg, logger)
	if err != nil {
		return err
	}
	cryptoSvc, err := crypto.NewService(key, cfg.EncryptionKeyVersion)
	if err != nil {
		return fmt.Errorf("creating crypto service: %w", err)
	}

	cache := tenantcache.New(cfg.TenantCacheSize)

	invalidator := tenantcache.NewInvalidator(rdb, cache, logger)
	go func() {
		if err := invalidator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("tenant cache invalidator stopped", "error", err)
		}
	}()

	tenantStore := tenant.NewStore(db)
	resolver := configresolver.New(tenantStore, logger)

	rateLimiter := auth.NewRateLimiter(rdb, 10, 15*time.Minute)

	mcpTimeout, err := time.ParseDuration(cfg.MCPCallTimeout)
	if err != nil {
		return fmt.Errorf("parsing MCP_CALL_TIMEOUT %q: %w", cfg.MCPCallTimeout, err)
	}
	mcpCaller := mcp.New(mcpTimeout)

	convManager := conversation.New(db, cryptoSvc)
	coordinator := conversation.NewCoordinator(convManager, newSummarizer(cfg), logger)

	traceFlushInterval, err := time.ParseDuration(cfg.TraceFlushInterval)
	if err != nil {
		return fmt.Errorf("parsing TRACE_FLUSH_INTERVAL %q: %w", cfg.TraceFlushInterval, err)
	}
	tracer := trace.NewRecorder(db, cryptoSvc, logger, cfg.TraceQueueSize, traceFlushInterval)
	tracer.Start(ctx)
	defer tracer.Close()

	srv := httpserver.NewServer(httpserver.Config{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsPath:        cfg.MetricsPath,
	}, logger, db, rdb, metricsReg)

	srv.Router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cache, resolver, rateLimiter, logger))

		chatHandler := chatapi.New(logger, mcpCaller, convManager, coordinator, tracer)
		r.Post("/v1/chat/completions", chatHandler.ServeHTTP)

		r.Mount("/v1/admin", adminauth.Routes())
		r.Mount("/v1/portal", adminauth.Routes())
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming responses (C7) must not be cut off
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker exists for deployments that split GATEWAY_MODE=worker onto its
// own process. The gateway has no background batch job today — conversation
// snapshotting (C9) and trace flushing (C10) both run inline in api mode —
// so this mode only keeps the process alive for future use and to validate
// infrastructure connectivity on deploy.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	logger.Info("worker mode has no background jobs in this gateway; idling until shutdown")
	<-ctx.Done()
	return nil
}
