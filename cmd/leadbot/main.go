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

	"go.uber.org/zap"

	"github.com/ent0n29/leadbot/internal/chat"
	"github.com/ent0n29/leadbot/internal/config"
	"github.com/ent0n29/leadbot/internal/conversation"
	"github.com/ent0n29/leadbot/internal/httpapi"
	"github.com/ent0n29/leadbot/internal/intent"
	"github.com/ent0n29/leadbot/internal/observability"
	"github.com/ent0n29/leadbot/internal/session"
	"github.com/ent0n29/leadbot/internal/store"
	"github.com/ent0n29/leadbot/internal/textgen"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("leadbot stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	gateway, err := store.NewGateway(runCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("persistence gateway init failed: %w", err)
	}
	defer gateway.Close()

	gen, err := textgen.NewGenerator(textgen.Config{
		Mode:          cfg.TextGenMode,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		HTTPURL:       cfg.TextGenHTTPURL,
		Timeout:       cfg.TextGenTimeout,
		MaxRetries:    cfg.TextGenMaxRetries,
	})
	if err != nil {
		return fmt.Errorf("text generator init failed: %w", err)
	}
	gen = textgen.Observe(gen, func(d time.Duration, err error) {
		metrics.ObserveGeneration(d, err, textgen.Kind(err))
	})

	machine := conversation.NewMachine(gen, intent.NewClassifier(gen), conversation.Config{
		MaxAssistantTurns: cfg.MaxAssistantTurns,
		MaxStepsPerTurn:   cfg.MaxStepsPerTurn,
		OnStep: func(step conversation.Step, d time.Duration, _ error) {
			metrics.ObserveStep(string(step), d)
		},
	})

	sessions, locker, err := newSessionBackend(runCtx, cfg, metrics)
	if err != nil {
		return err
	}
	defer sessions.Close()

	service := chat.NewService(machine, sessions, locker, gateway, metrics, logger.Named("chat"))
	api := httpapi.New(cfg, service, metrics, logger.Named("http"))
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.BindAddr),
			zap.String("session_store", cfg.SessionStore),
			zap.String("textgen_mode", cfg.TextGenMode),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return nil
}

// newSessionBackend picks the snapshot store and the matching per-session lock.
func newSessionBackend(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (session.Store, session.Locker, error) {
	switch cfg.SessionStore {
	case "redis":
		rs, err := session.NewRedisStore(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis session store init failed: %w", err)
		}
		// A lock outlives the slowest possible turn.
		lease := cfg.TextGenTimeout * time.Duration(cfg.MaxStepsPerTurn*(cfg.TextGenMaxRetries+1))
		return rs, session.NewRedisLocker(rs.Client(), lease), nil
	default:
		ms := session.NewMemoryStore(cfg.SessionTTL)
		ms.SetExpireHook(func(string) {
			metrics.SessionEvents.WithLabelValues("expired").Inc()
			metrics.ActiveSessions.Set(float64(ms.Len()))
		})
		ms.StartJanitor(ctx, 5*time.Second)
		return ms, session.NewKeyLocker(), nil
	}
}
