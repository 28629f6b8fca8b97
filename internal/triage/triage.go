// Package triage is the analyst-facing use-case layer shared by the HTTP
// API, the MCP tool server and the CLI. It resolves the acting tenant
// member, enforces roles, and fans results out to metrics and webhooks.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/accesslens/accesslens/internal/explain"
	"github.com/accesslens/accesslens/internal/findings"
	"github.com/accesslens/accesslens/internal/model"
	"github.com/accesslens/accesslens/internal/notify"
	"github.com/accesslens/accesslens/internal/recompute"
	"github.com/accesslens/accesslens/internal/risk"
	"github.com/accesslens/accesslens/internal/store"
	"github.com/accesslens/accesslens/internal/telemetry"
)

// Store is the persistence the use cases need. *store.Store implements it.
type Store interface {
	GetProfileByID(ctx context.Context, tenantID, profileID string) (*model.Profile, error)
	ListFindings(ctx context.Context, f store.ListFilter) ([]model.Finding, error)
	GetFindingByID(ctx context.Context, tenantID, findingID string) (*model.Finding, error)
	ListReviewActions(ctx context.Context, tenantID, findingID string) ([]model.ReviewAction, error)
	IdentityByID(ctx context.Context, tenantID, id string) (*model.Identity, error)
	ApplicationByID(ctx context.Context, tenantID, id string) (*model.Application, error)
	SetExplanation(ctx context.Context, tenantID, findingID, text string, confidence float64) error
	ApplyFindingAction(ctx context.Context, in findings.ActionInput) (*findings.ActionResult, error)
}

// Recomputer runs the rule engine for a tenant.
type Recomputer interface {
	Run(ctx context.Context, tenantID string) (*recompute.Result, error)
}

// Actor identifies who is calling.
type Actor struct {
	TenantID string
	UserID   string
}

// View is a finding with its display labels.
type View struct {
	model.Finding
	TypeLabel   string `json:"type_label"`
	StatusLabel string `json:"status_label"`
}

// Detail is everything a reviewer sees on one finding.
type Detail struct {
	View
	IdentityName    string               `json:"identity_name"`
	ApplicationName *string              `json:"application_name"`
	Guidance        string               `json:"guidance"`
	Recommendation  risk.Recommendation  `json:"recommendation"`
	Rationale       []string             `json:"rationale,omitempty"`
	NextStatuses    []model.Status       `json:"next_statuses"`
	ReviewActions   []model.ReviewAction `json:"review_actions"`
}

// Options wires a Service. Store is required.
type Options struct {
	Store      Store
	Recomputer Recomputer
	Explainer  explain.Provider
	Notifier   notify.Notifier
	Metrics    *telemetry.Metrics
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Service implements the analyst operations.
type Service struct {
	store      Store
	recomputer Recomputer
	explainer  explain.Provider
	notifier   notify.Notifier
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
}

// ErrRecomputeUnavailable is returned by Recompute when no Recomputer is wired.
var ErrRecomputeUnavailable = errors.New("recompute is not available")

// New builds a Service.
func New(opts Options) *Service {
	s := &Service{
		store:      opts.Store,
		recomputer: opts.Recomputer,
		explainer:  opts.Explainer,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     opts.Logger,
	}
	if s.explainer == nil {
		s.explainer = explain.Mock{}
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
	return s
}

// member resolves the actor to a tenant profile. Unknown actors are
// FORBIDDEN rather than NOT_FOUND so membership cannot be discovered.
func (s *Service) member(ctx context.Context, a Actor) (*model.Profile, error) {
	if a.TenantID == "" || a.UserID == "" {
		return nil, &findings.Error{Kind: findings.KindForbidden, Message: "tenant and actor are required"}
	}
	p, err := s.store.GetProfileByID(ctx, a.TenantID, a.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading actor profile: %w", err)
	}
	if p == nil {
		return nil, &findings.Error{Kind: findings.KindForbidden, Message: "actor is not a member of this tenant"}
	}
	return p, nil
}

// List returns the tenant's findings, highest score first.
func (s *Service) List(ctx context.Context, a Actor, f store.ListFilter) ([]View, error) {
	if _, err := s.member(ctx, a); err != nil {
		return nil, err
	}
	f.TenantID = a.TenantID
	rows, err := s.store.ListFindings(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(rows))
	for _, r := range rows {
		out = append(out, viewOf(r))
	}
	return out, nil
}

// Detail loads one finding with names, guidance, timeline and an
// explanation, generating and saving the explanation on first view.
func (s *Service) Detail(ctx context.Context, a Actor, findingID string) (*Detail, error) {
	if _, err := s.member(ctx, a); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "triage.detail", trace.WithAttributes(attribute.String("finding.id", findingID)))
	defer span.End()

	f, err := s.store.GetFindingByID(ctx, a.TenantID, findingID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, &findings.Error{Kind: findings.KindNotFound, Message: fmt.Sprintf("finding %s not found", findingID)}
	}

	d := &Detail{Guidance: f.FindingType.Guidance()}
	if id, err := s.store.IdentityByID(ctx, a.TenantID, f.IdentityID); err != nil {
		return nil, err
	} else if id != nil {
		d.IdentityName = id.Name
	}
	if f.ApplicationID != nil {
		app, err := s.store.ApplicationByID(ctx, a.TenantID, *f.ApplicationID)
		if err != nil {
			return nil, err
		}
		if app != nil {
			d.ApplicationName = &app.Name
		}
	}

	e, err := explain.ForFinding(ctx, s.explainer, s.store, f, d.IdentityName, d.ApplicationName)
	if err != nil {
		return nil, err
	}
	d.Recommendation = e.Recommendation
	d.Rationale = e.Rationale

	actions, err := s.store.ListReviewActions(ctx, a.TenantID, f.ID)
	if err != nil {
		return nil, err
	}
	d.ReviewActions = actions
	d.NextStatuses = findings.NextStatuses(f.Status)
	d.View = viewOf(*f)
	return d, nil
}

// Act applies an analyst action. The actor's role comes from their
// profile, never from the caller.
func (s *Service) Act(ctx context.Context, a Actor, findingID string, p findings.Payload) (*findings.ActionResult, error) {
	ctx, span := s.tracer.Start(ctx, "triage.act", trace.WithAttributes(attribute.String("finding.id", findingID)))
	defer span.End()

	profile, err := s.member(ctx, a)
	if err != nil {
		s.countAction(err)
		return nil, err
	}
	res, err := s.store.ApplyFindingAction(ctx, findings.ActionInput{
		TenantID:    a.TenantID,
		FindingID:   findingID,
		ActorUserID: a.UserID,
		ActorRole:   profile.Role,
		Payload:     p,
	})
	s.countAction(err)
	if err != nil {
		if errors.Is(err, findings.ErrAuditInsertFailed) {
			s.logger.Error("finding action audit insert failed",
				"tenant", a.TenantID, "finding", findingID, "actor", a.UserID, "error", err)
		}
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("status.previous", string(res.PreviousStatus)), attribute.String("status.new", string(res.NewStatus)))
	if res.NewStatus != res.PreviousStatus && res.NewStatus.Closing() {
		s.notifier.Notify(notify.Event{
			Event:       notify.EventFindingClosed,
			TenantID:    a.TenantID,
			FindingID:   res.Finding.ID,
			FindingType: string(res.Finding.FindingType),
			Severity:    string(res.Finding.Severity),
			Status:      string(res.NewStatus),
			Actor:       a.UserID,
		})
	}
	return res, nil
}

// Explain returns the finding's explanation, generating it if needed.
func (s *Service) Explain(ctx context.Context, a Actor, findingID string) (explain.Explanation, error) {
	d, err := s.Detail(ctx, a, findingID)
	if err != nil {
		return explain.Explanation{}, err
	}
	e := explain.Explanation{Recommendation: d.Recommendation, Rationale: d.Rationale}
	if d.Explanation != nil {
		e.Explanation = *d.Explanation
	}
	if d.Confidence != nil {
		e.Confidence = *d.Confidence
	}
	return e, nil
}

// Recompute runs the engine for the actor's tenant. Admins only.
func (s *Service) Recompute(ctx context.Context, a Actor) (*recompute.Result, error) {
	profile, err := s.member(ctx, a)
	if err != nil {
		return nil, err
	}
	if profile.Role != model.RoleAdmin {
		return nil, &findings.Error{Kind: findings.KindForbidden, Message: "only admins may recompute findings"}
	}
	if s.recomputer == nil {
		return nil, ErrRecomputeUnavailable
	}
	return s.recomputer.Run(ctx, a.TenantID)
}

func (s *Service) countAction(err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(findings.KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	s.metrics.FindingActions.WithLabelValues(result).Inc()
}

func viewOf(f model.Finding) View {
	f.Status = f.Status.Normalize()
	return View{Finding: f, TypeLabel: f.FindingType.Label(), StatusLabel: f.Status.Label()}
}
