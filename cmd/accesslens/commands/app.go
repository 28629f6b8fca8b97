package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/accesslens/accesslens/internal/config"
	"github.com/accesslens/accesslens/internal/explain"
	"github.com/accesslens/accesslens/internal/lock"
	"github.com/accesslens/accesslens/internal/notify"
	"github.com/accesslens/accesslens/internal/recompute"
	"github.com/accesslens/accesslens/internal/store"
	"github.com/accesslens/accesslens/internal/telemetry"
	"github.com/accesslens/accesslens/internal/triage"
)

// app is the fully wired local backend shared by serve, mcp and the
// offline subcommands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	redis     *redis.Client
	metrics   *telemetry.Metrics
	tracing   *telemetry.Tracing
	traceOut  io.Closer
	notifier  *notify.Webhook
	recompute *recompute.Service
	svc       *triage.Service
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: telemetry.NewMetrics()}

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}
	a.store = st

	var w io.Writer
	if cfg.Tracing.Enabled {
		w, a.traceOut, err = traceWriter(cfg.Tracing.Output)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.tracing, err = telemetry.NewTracing("accesslens", w)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.tracing.Install()

	locker, client, err := lock.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("recompute lock falling back to in-process", "error", err)
	}
	a.redis = client

	explainer, err := explain.New(cfg.Explain.Provider)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.notifier = notify.NewWebhook(cfg.Webhooks, logger)
	tracer := a.tracing.Tracer()

	a.recompute = recompute.New(recompute.Options{
		Facts:                    st,
		Sink:                     st,
		Locker:                   locker,
		Notifier:                 a.notifier,
		Metrics:                  a.metrics,
		Tracer:                   tracer,
		Logger:                   logger,
		PrivilegeWeightThreshold: cfg.Risk.PrivilegeWeightThreshold,
		Workers:                  cfg.Risk.Workers,
		LockTTL:                  time.Duration(cfg.Redis.LockTTLSeconds) * time.Second,
	})
	a.svc = triage.New(triage.Options{
		Store:      st,
		Recomputer: a.recompute,
		Explainer:  explainer,
		Notifier:   a.notifier,
		Metrics:    a.metrics,
		Tracer:     tracer,
		Logger:     logger,
	})
	return a, nil
}

// reload applies the hot-reloadable parts of a changed config file.
func (a *app) reload(cfg *config.Config) {
	a.recompute.SetTuning(cfg.Risk.PrivilegeWeightThreshold, cfg.Risk.Workers)
	a.notifier.SetWebhooks(cfg.Webhooks)
	a.logger.Info("applied reloaded config",
		"privilege_weight_threshold", cfg.Risk.PrivilegeWeightThreshold,
		"workers", cfg.Risk.Workers,
		"webhooks", len(cfg.Webhooks),
	)
}

// Close waits for in-flight webhooks, flushes spans and closes
// connections. Safe on a partially opened app.
func (a *app) Close() {
	if a.notifier != nil {
		a.notifier.Wait()
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("flushing spans", "error", err)
		}
		cancel()
	}
	if a.traceOut != nil {
		_ = a.traceOut.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func traceWriter(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening trace output: %w", err)
	}
	return f, f, nil
}
