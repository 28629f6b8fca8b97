package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/accesslens/accesslens/internal/findings"
	"github.com/accesslens/accesslens/internal/model"
	"github.com/accesslens/accesslens/internal/store"
	"github.com/accesslens/accesslens/internal/triage"
	"github.com/accesslens/accesslens/sdk"
)

// backend is what the findings, act, explain and recompute subcommands
// talk to: either the database directly or a running server.
// *sdk.Client implements it.
type backend interface {
	ListFindings(ctx context.Context, opts sdk.ListOptions) ([]sdk.Finding, error)
	GetFinding(ctx context.Context, id string) (*sdk.FindingDetail, error)
	ApplyAction(ctx context.Context, id string, action sdk.Action) (*sdk.ActionResult, error)
	Recompute(ctx context.Context) (*sdk.RecomputeResult, error)
}

// openBackend returns a remote client when --server is set, otherwise
// a local app. The returned func releases it.
func openBackend(ctx context.Context) (backend, func(), error) {
	if err := requireActor(); err != nil {
		return nil, nil, err
	}
	if serverURL != "" {
		return sdk.NewClient(serverURL, tenantID, actorID), func() {}, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := openApp(ctx, cfg, newLogger(cfg.Server.LogLevel))
	if err != nil {
		return nil, nil, err
	}
	return &localBackend{svc: a.svc, actor: triage.Actor{TenantID: tenantID, UserID: actorID}}, a.Close, nil
}

// localBackend runs the triage service in process and reshapes its
// results into the same wire types the server returns.
type localBackend struct {
	svc   *triage.Service
	actor triage.Actor
}

func (b *localBackend) ListFindings(ctx context.Context, opts sdk.ListOptions) ([]sdk.Finding, error) {
	if opts.Severity != "" {
		if _, err := model.ParseSeverity(opts.Severity); err != nil {
			return nil, err
		}
	}
	views, err := b.svc.List(ctx, b.actor, store.ListFilter{
		Status:      model.Status(opts.Status),
		Severity:    model.Severity(opts.Severity),
		FindingType: model.FindingType(opts.Type),
		IdentityID:  opts.Identity,
		AssignedTo:  opts.Assignee,
		Limit:       opts.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := []sdk.Finding{}
	if err := convert(views, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *localBackend) GetFinding(ctx context.Context, id string) (*sdk.FindingDetail, error) {
	d, err := b.svc.Detail(ctx, b.actor, id)
	if err != nil {
		return nil, err
	}
	var out sdk.FindingDetail
	if err := convert(d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *localBackend) ApplyAction(ctx context.Context, id string, action sdk.Action) (*sdk.ActionResult, error) {
	data, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("marshaling action: %w", err)
	}
	p, err := findings.ParsePayload(data)
	if err != nil {
		return nil, err
	}
	res, err := b.svc.Act(ctx, b.actor, id, p)
	if err != nil {
		return nil, err
	}
	var out sdk.ActionResult
	if err := convert(res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *localBackend) Recompute(ctx context.Context) (*sdk.RecomputeResult, error) {
	res, err := b.svc.Recompute(ctx, b.actor)
	if err != nil {
		return nil, err
	}
	var out sdk.RecomputeResult
	if err := convert(res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// convert copies in to out through their JSON encodings.
func convert(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}
