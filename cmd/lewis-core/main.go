// Command lewis-core runs the authorized execution and extension
// orchestration service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yashab-cyber/lewis-core/pkg/api"
	"github.com/yashab-cyber/lewis-core/pkg/audit"
	"github.com/yashab-cyber/lewis-core/pkg/authz"
	"github.com/yashab-cyber/lewis-core/pkg/config"
	"github.com/yashab-cyber/lewis-core/pkg/engine"
	"github.com/yashab-cyber/lewis-core/pkg/extension"
	"github.com/yashab-cyber/lewis-core/pkg/normalize"
	"github.com/yashab-cyber/lewis-core/pkg/observability"
	"github.com/yashab-cyber/lewis-core/pkg/orchestrator"
	"github.com/yashab-cyber/lewis-core/pkg/policy"
	"github.com/yashab-cyber/lewis-core/pkg/scope"
	"github.com/yashab-cyber/lewis-core/pkg/tools"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	logger := slog.Default().With("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:  "lewis-core",
		Environment:  "production",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1.0,
		Enabled:      cfg.Telemetry,
		Insecure:     true,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	policies, err := policy.NewStore(cfg.PolicyPath)
	if err != nil {
		return err
	}

	store, err := audit.OpenSQLite(cfg.AuditDB)
	if err != nil {
		return err
	}
	recorder, err := audit.NewRecorder(ctx, store)
	if err != nil {
		return err
	}
	defer func() { _ = recorder.Close() }()

	registry := extension.NewRegistry(cfg.ExtensionPaths)
	for _, builtin := range tools.Builtins() {
		if err := registry.RegisterBuiltin(builtin); err != nil {
			return err
		}
	}
	registry.Discover()
	registry.LoadAll(ctx)

	for _, avail := range tools.ProbeAll(ctx) {
		if !avail.Available {
			logger.Warn("tool unavailable", "tool", avail.Tool, "error", avail.Error)
		}
	}

	var limiter authz.RateLimiter
	if cfg.RedisAddr != "" {
		rl := authz.NewRedisRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer func() { _ = rl.Close() }()
		limiter = rl
		logger.Info("rate limiting via redis", "addr", cfg.RedisAddr)
	} else {
		limiter = authz.NewMemoryRateLimiter()
	}

	guard := authz.NewGuard(policies, registry, scope.NewValidator(), limiter)

	eng := engine.New(
		engine.WithWorkers(cfg.Workers),
		engine.WithQueueSize(cfg.QueueSize),
	)

	orch := orchestrator.New(guard, registry, eng, normalize.New(), recorder, policies,
		orchestrator.WithTelemetry(telemetry))

	server := api.NewServer(orch, recorder, registry)
	httpServer := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: server.Handler(
			api.NewJWTValidator(cfg.JWTSecret),
			api.NewGlobalRateLimiter(cfg.APIRateRPS, cfg.APIRateBurst),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// SIGHUP reloads the policy document without dropping connections.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := policies.Reload(); err != nil {
				logger.Error("policy reload failed, previous policy stays active", "error", err)
				continue
			}
			logger.Info("policy reloaded")
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown", "error", err)
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown", "error", err)
	}
	registry.Shutdown(shutdownCtx)
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
