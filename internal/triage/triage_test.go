package triage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accesslens/accesslens/internal/findings"
	"github.com/accesslens/accesslens/internal/model"
	"github.com/accesslens/accesslens/internal/notify"
	"github.com/accesslens/accesslens/internal/recompute"
	"github.com/accesslens/accesslens/internal/store"
	"github.com/accesslens/accesslens/internal/telemetry"
)

const (
	tenant  = "tenant-a"
	admin   = "00000000-0000-4000-8000-00000000000a"
	analyst = "00000000-0000-4000-8000-00000000000b"
	viewer  = "00000000-0000-4000-8000-00000000000c"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(ev notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

type fixture struct {
	svc   *Service
	store *store.Store
	hooks *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "triage.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	now := time.Now().UTC()
	app := "app-erp"
	_, err = st.ImportFacts(ctx, tenant, store.Facts{
		Identities: []model.Identity{
			{ID: "id-1", Type: model.IdentityHuman, Name: "Ada", CreatedAt: now.AddDate(-1, 0, 0)},
		},
		Applications: []model.Application{{ID: app, Name: "ERP"}},
		Entitlements: []model.Entitlement{
			{ID: "ent-1", ApplicationID: app, Name: "create_vendor", PrivilegeWeight: 10},
			{ID: "ent-2", ApplicationID: app, Name: "approve_payment", PrivilegeWeight: 10},
		},
		Grants: []model.Grant{
			{ID: "g-1", IdentityID: "id-1", EntitlementID: "ent-1", GrantedAt: now.AddDate(0, 0, -200)},
			{ID: "g-2", IdentityID: "id-1", EntitlementID: "ent-2", GrantedAt: now.AddDate(0, 0, -200)},
		},
		Profiles: []model.Profile{
			{ID: admin, Role: model.RoleAdmin, FullName: "Ad Min"},
			{ID: analyst, Role: model.RoleAnalyst, FullName: "Ana Lyst"},
			{ID: viewer, Role: model.RoleViewer, FullName: "Vi Ewer"},
		},
	})
	require.NoError(t, err)

	hooks := &recorder{}
	rc := recompute.New(recompute.Options{Facts: st, Sink: st, Logger: logger, PrivilegeWeightThreshold: 120})
	svc := New(Options{
		Store:      st,
		Recomputer: rc,
		Notifier:   hooks,
		Metrics:    telemetry.NewMetrics(),
		Logger:     logger,
	})
	return &fixture{svc: svc, store: st, hooks: hooks}
}

// seeded recomputes as admin and returns the single toxic finding.
func (f *fixture) seeded(t *testing.T) View {
	t.Helper()
	res, err := f.svc.Recompute(context.Background(), Actor{TenantID: tenant, UserID: admin})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)

	list, err := f.svc.List(context.Background(), Actor{TenantID: tenant, UserID: viewer}, store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	return list[0]
}

func TestRecompute_AdminOnly(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Recompute(context.Background(), Actor{TenantID: tenant, UserID: analyst})
	assert.ErrorIs(t, err, findings.ErrForbidden)

	_, err = f.svc.Recompute(context.Background(), Actor{TenantID: tenant, UserID: "stranger"})
	assert.ErrorIs(t, err, findings.ErrForbidden)
}

func TestList_Labels(t *testing.T) {
	f := newFixture(t)
	v := f.seeded(t)
	assert.Equal(t, model.FindingToxicCombination, v.FindingType)
	assert.Equal(t, model.FindingToxicCombination.Label(), v.TypeLabel)
	assert.Equal(t, "OPEN", v.StatusLabel)
}

func TestList_UnknownTenantMember(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.List(context.Background(), Actor{TenantID: "tenant-b", UserID: admin}, store.ListFilter{})
	assert.ErrorIs(t, err, findings.ErrForbidden)
}

func TestDetail_GeneratesExplanationOnce(t *testing.T) {
	f := newFixture(t)
	v := f.seeded(t)
	ctx := context.Background()
	actor := Actor{TenantID: tenant, UserID: viewer}

	d, err := f.svc.Detail(ctx, actor, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", d.IdentityName)
	require.NotNil(t, d.ApplicationName)
	assert.Equal(t, "ERP", *d.ApplicationName)
	require.NotNil(t, d.Explanation)
	assert.Contains(t, *d.Explanation, "Ada triggered toxic_combination")
	assert.NotEmpty(t, d.Guidance)
	assert.ElementsMatch(t, []model.Status{model.StatusInReview, model.StatusEscalated, model.StatusResolved,
		model.StatusSuppressed, model.StatusFalsePositive}, d.NextStatuses)

	stored, err := f.store.GetFindingByID(ctx, tenant, v.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Explanation)
	assert.Equal(t, *d.Explanation, *stored.Explanation)
}

func TestDetail_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Detail(context.Background(), Actor{TenantID: tenant, UserID: viewer}, "missing")
	assert.ErrorIs(t, err, findings.ErrNotFound)
}

func TestAct_RoleFromProfile(t *testing.T) {
	f := newFixture(t)
	v := f.seeded(t)
	p := findings.Payload{Status: findings.Some(model.ActionInReview)}

	_, err := f.svc.Act(context.Background(), Actor{TenantID: tenant, UserID: viewer}, v.ID, p)
	assert.ErrorIs(t, err, findings.ErrForbidden)

	res, err := f.svc.Act(context.Background(), Actor{TenantID: tenant, UserID: analyst}, v.ID, p)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInReview, res.NewStatus)
	assert.Empty(t, f.hooks.events, "in_review is not a closing status")
}

func TestAct_CloseNotifiesAndAudits(t *testing.T) {
	f := newFixture(t)
	v := f.seeded(t)
	ctx := context.Background()
	actor := Actor{TenantID: tenant, UserID: analyst}

	_, err := f.svc.Act(ctx, actor, v.ID, findings.Payload{
		Status:      findings.Some(model.ActionResolved),
		Disposition: findings.Some(model.DispositionRevokedEntitlement),
	})
	assert.ErrorIs(t, err, findings.ErrNoteRequiredForClose, "critical findings need a note to close")

	res, err := f.svc.Act(ctx, actor, v.ID, findings.Payload{
		Status:      findings.Some(model.ActionResolved),
		Disposition: findings.Some(model.DispositionRevokedEntitlement),
		Note:        findings.Some("removed approve_payment"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, res.NewStatus)

	require.Len(t, f.hooks.events, 1)
	ev := f.hooks.events[0]
	assert.Equal(t, notify.EventFindingClosed, ev.Event)
	assert.Equal(t, v.ID, ev.FindingID)
	assert.Equal(t, analyst, ev.Actor)

	d, err := f.svc.Detail(ctx, Actor{TenantID: tenant, UserID: viewer}, v.ID)
	require.NoError(t, err)
	require.Len(t, d.ReviewActions, 1)
	assert.Empty(t, d.NextStatuses)
}

func TestExplain(t *testing.T) {
	f := newFixture(t)
	v := f.seeded(t)
	e, err := f.svc.Explain(context.Background(), Actor{TenantID: tenant, UserID: viewer}, v.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, e.Explanation)
	assert.Len(t, e.Rationale, 3)
}

func TestRecompute_Unavailable(t *testing.T) {
	f := newFixture(t)
	svc := New(Options{Store: f.store})
	_, err := svc.Recompute(context.Background(), Actor{TenantID: tenant, UserID: admin})
	assert.ErrorIs(t, err, ErrRecomputeUnavailable)
}
