// Package recompute runs the rule engine for one tenant: it gathers the
// tenant's facts, computes candidates and swaps them in for the open
// findings, serialized per tenant by a lock.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/accesslens/accesslens/internal/lock"
	"github.com/accesslens/accesslens/internal/model"
	"github.com/accesslens/accesslens/internal/notify"
	"github.com/accesslens/accesslens/internal/risk"
	"github.com/accesslens/accesslens/internal/telemetry"
)

// FactSource supplies a tenant's engine inputs.
type FactSource interface {
	Identities(ctx context.Context, tenantID string) ([]model.Identity, error)
	Applications(ctx context.Context, tenantID string) ([]model.Application, error)
	Entitlements(ctx context.Context, tenantID string) ([]model.Entitlement, error)
	Grants(ctx context.Context, tenantID string) ([]model.Grant, error)
	// LoginEvents may return only successful login events; the engine
	// ignores everything else.
	LoginEvents(ctx context.Context, tenantID string) ([]model.AccessEvent, error)
}

// Sink replaces a tenant's open findings with fresh candidates.
type Sink interface {
	ReplaceFindings(ctx context.Context, tenantID string, candidates []risk.Candidate) (int, error)
}

// Result summarises one run.
type Result struct {
	TenantID   string                    `json:"tenant_id"`
	Inserted   int                       `json:"inserted"`
	ByType     map[model.FindingType]int `json:"by_type"`
	BySeverity map[model.Severity]int    `json:"by_severity"`
	Duration   time.Duration             `json:"duration_ns"`
}

// Options configures a Service. Facts and Sink are required.
type Options struct {
	Facts    FactSource
	Sink     Sink
	Locker   lock.Locker
	Notifier notify.Notifier
	Metrics  *telemetry.Metrics
	Tracer   trace.Tracer
	Logger   *slog.Logger

	PrivilegeWeightThreshold int
	Workers                  int
	LockTTL                  time.Duration

	// Now anchors detector windows; defaults to time.Now.
	Now func() time.Time
}

// Service runs recomputes.
type Service struct {
	facts    FactSource
	sink     Sink
	locker   lock.Locker
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	lockTTL  time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	threshold int
	workers   int
}

// New builds a Service, filling unset collaborators with no-op versions.
func New(opts Options) *Service {
	s := &Service{
		facts:     opts.Facts,
		sink:      opts.Sink,
		locker:    opts.Locker,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		logger:    opts.Logger,
		lockTTL:   opts.LockTTL,
		now:       opts.Now,
		threshold: opts.PrivilegeWeightThreshold,
		workers:   opts.Workers,
	}
	if s.locker == nil {
		s.locker = lock.NewMemory()
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer(telemetry.TracerName)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 5 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetTuning updates the threshold and worker count for later runs.
func (s *Service) SetTuning(threshold, workers int) {
	s.mu.Lock()
	s.threshold, s.workers = threshold, workers
	s.mu.Unlock()
}

func (s *Service) tuning() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold, s.workers
}

// Run recomputes tenantID. A concurrent run for the same tenant fails
// with lock.ErrLocked.
func (s *Service) Run(ctx context.Context, tenantID string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "recompute", trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	res, err := s.run(ctx, tenantID)
	switch {
	case errors.Is(err, lock.ErrLocked):
		s.count("locked")
		span.SetStatus(codes.Error, "locked")
		return nil, err
	case err != nil:
		s.count("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("recompute failed", "tenant", tenantID, "error", err)
		return nil, err
	}

	s.count("ok")
	if s.metrics != nil {
		s.metrics.RecomputeDuration.Observe(res.Duration.Seconds())
	}
	span.SetAttributes(attribute.Int("findings.inserted", res.Inserted))
	s.logger.Info("recompute finished",
		"tenant", tenantID,
		"inserted", res.Inserted,
		"critical", res.BySeverity[model.SeverityCritical],
		"duration", res.Duration,
	)
	return res, nil
}

func (s *Service) run(ctx context.Context, tenantID string) (*Result, error) {
	release, err := s.locker.Acquire(ctx, tenantID, s.lockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Release even if ctx was cancelled mid-run.
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("releasing recompute lock", "tenant", tenantID, "error", err)
		}
	}()

	start := s.now()
	threshold, workers := s.tuning()

	snap, err := s.snapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	snap.Now = start.UTC()
	snap.PrivilegeWeightThreshold = threshold

	_, engineSpan := s.tracer.Start(ctx, "risk.compute")
	candidates, err := risk.ComputeFindingsParallel(ctx, snap, workers)
	engineSpan.SetAttributes(attribute.Int("identities", len(snap.Identities)), attribute.Int("candidates", len(candidates)))
	engineSpan.End()
	if err != nil {
		return nil, fmt.Errorf("computing findings: %w", err)
	}

	inserted, err := s.sink.ReplaceFindings(ctx, tenantID, candidates)
	if err != nil {
		return nil, fmt.Errorf("replacing findings: %w", err)
	}

	res := &Result{
		TenantID:   tenantID,
		Inserted:   inserted,
		ByType:     make(map[model.FindingType]int),
		BySeverity: make(map[model.Severity]int),
	}
	for _, c := range candidates {
		res.ByType[c.FindingType]++
		res.BySeverity[c.Severity]++
		if s.metrics != nil {
			s.metrics.FindingsGenerated.WithLabelValues(string(c.FindingType), string(c.Severity)).Inc()
		}
	}
	res.Duration = s.now().Sub(start)

	if n := res.BySeverity[model.SeverityCritical]; n > 0 {
		s.notifier.Notify(notify.Event{
			Event:    notify.EventCriticalFindings,
			TenantID: tenantID,
			Severity: string(model.SeverityCritical),
			Count:    n,
		})
	}
	return res, nil
}

// snapshot fetches the five fact sets concurrently.
func (s *Service) snapshot(ctx context.Context, tenantID string) (risk.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "recompute.snapshot")
	defer span.End()

	var snap risk.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Identities, err = s.facts.Identities(gctx, tenantID)
		return wrap("identities", err)
	})
	g.Go(func() (err error) {
		snap.Applications, err = s.facts.Applications(gctx, tenantID)
		return wrap("applications", err)
	})
	g.Go(func() (err error) {
		snap.Entitlements, err = s.facts.Entitlements(gctx, tenantID)
		return wrap("entitlements", err)
	})
	g.Go(func() (err error) {
		snap.Grants, err = s.facts.Grants(gctx, tenantID)
		return wrap("grants", err)
	})
	g.Go(func() (err error) {
		snap.Events, err = s.facts.LoginEvents(gctx, tenantID)
		return wrap("access events", err)
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return risk.Snapshot{}, err
	}
	return snap, nil
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("fetching %s: %w", what, err)
	}
	return nil
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.RecomputeRuns.WithLabelValues(outcome).Inc()
	}
}
