package risk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/accesslens/accesslens/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 2, 23, 0, 0, 0, 0, time.UTC)

func daysAgo(d float64) time.Time {
	return testNow.Add(-time.Duration(d * float64(24*time.Hour)))
}

func human(id string, level int, privileged bool) model.Identity {
	return model.Identity{ID: id, TenantID: "t1", Type: model.IdentityHuman, Name: id, PrivilegeLevel: level, IsPrivileged: privileged}
}

func service(id string) model.Identity {
	return model.Identity{ID: id, TenantID: "t1", Type: model.IdentityService, Name: id}
}

func ent(id, app, name string, weight int) model.Entitlement {
	return model.Entitlement{ID: id, TenantID: "t1", ApplicationID: app, Name: name, PrivilegeWeight: weight}
}

func grant(id, identity, entitlement string, at time.Time) model.Grant {
	return model.Grant{ID: id, TenantID: "t1", IdentityID: identity, EntitlementID: entitlement, GrantedAt: at}
}

func event(id, identity, typ, country string, at time.Time, success bool) model.AccessEvent {
	app := "app-" + identity
	return model.AccessEvent{ID: id, TenantID: "t1", IdentityID: identity, ApplicationID: &app,
		EventType: typ, Country: country, Timestamp: at, Success: success}
}

func snapshot() Snapshot {
	return Snapshot{Now: testNow, PrivilegeWeightThreshold: 120}
}

func only(t *testing.T, got []Candidate, ft model.FindingType) []Candidate {
	t.Helper()
	var out []Candidate
	for _, c := range got {
		if c.FindingType == ft {
			out = append(out, c)
		}
	}
	return out
}

func evidence(t *testing.T, c Candidate, key string) any {
	t.Helper()
	v, ok := c.Evidence.Get(key)
	require.True(t, ok, "evidence key %q missing", key)
	return v
}

func TestDormant_BoundaryAt90Days(t *testing.T) {
	snap := snapshot()
	snap.Identities = []model.Identity{human("exact", 5, true), human("over", 5, true)}
	snap.Events = []model.AccessEvent{
		event("e1", "exact", "login", "US", testNow.AddDate(0, 0, -90), true),
		event("e2", "over", "interactive_login", "US", testNow.AddDate(0, 0, -91), true),
	}

	got := only(t, ComputeFindings(snap), model.FindingDormantPrivilegedAccount)
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "over", c.IdentityID)
	assert.Equal(t, model.SeverityHigh, c.Severity)
	assert.Equal(t, 91, evidence(t, c, "dormant_days"))
	assert.GreaterOrEqual(t, c.Score, 70)
	assert.Equal(t, 100, c.Score) // 70 + 91/2 clamps
	require.NotNil(t, c.ApplicationID)
	assert.Equal(t, "app-over", *c.ApplicationID)
}

func TestDormant_WindowIgnoresNowLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 90 days before June 1st crosses the March DST change in New York.
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, ny)
	snap := Snapshot{Now: now, PrivilegeWeightThreshold: 120}
	snap.Identities = []model.Identity{human("admin", 5, true)}
	snap.Events = []model.AccessEvent{event("e1", "admin", "login", "US", now.Add(-90*24*time.Hour), true)}

	assert.Empty(t, only(t, ComputeFindings(snap), model.FindingDormantPrivilegedAccount))

	snap.Now = now.UTC()
	assert.Empty(t, only(t, ComputeFindings(snap), model.FindingDormantPrivilegedAccount))
}

func TestDormant_NoLoginIsCritical(t *testing.T) {
	snap := snapshot()
	snap.Identities = []model.Identity{human("ghost", 2, true), human("normal", 9, false)}
	snap.Events = []model.AccessEvent{
		// failed and non-login events never count as activity
		event("e1", "ghost", "login", "US", daysAgo(1), false),
		event("e2", "ghost", "password_reset", "US", daysAgo(1), true),
	}

	got := only(t, ComputeFindings(snap), model.FindingDormantPrivilegedAccount)
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "ghost", c.IdentityID)
	assert.Equal(t, model.SeverityCritical, c.Severity)
	assert.Equal(t, 999, evidence(t, c, "dormant_days"))
	assert.Nil(t, evidence(t, c, "last_success_login_ts"))
	assert.Nil(t, c.ApplicationID)
	assert.Equal(t, 100, c.Score)
	assert.Equal(t, []string{"is_privileged", "privilege_level", "last_success_login_ts", "dormant_days"}, c.Evidence.Keys())
}

func TestDormant_HighPrivilegeLevelIsCritical(t *testing.T) {
	snap := snapshot()
	snap.Identities = []model.Identity{human("root", 8, true)}
	snap.Events = []model.AccessEvent{event("e1", "root", "login", "US", daysAgo(100), true)}

	got := only(t, ComputeFindings(snap), model.FindingDormantPrivilegedAccount)
	require.Len(t, got, 1)
	assert.Equal(t, model.SeverityCritical, got[0].Severity)
	assert.Equal(t, "2025-11-15T00:00:00Z", evidence(t, got[0], "last_success_login_ts"))
}

func TestServiceInteractiveLogin_Scenario(t *testing.T) {
	snap := snapshot()
	snap.Identities = []model.Identity{service("svc"), human("alice", 1, false)}
	snap.Events = []model.AccessEvent{
		event("e1", "svc", "interactive_login", "DE", daysAgo(2), true),
		event("e2", "svc", "login", "DE", daysAgo(1), true),
		event("e3", "svc", "interactive_login", "FR", daysAgo(1), false),
		event("e4", "alice", "interactive_login", "US", daysAgo(1), true),
	}

	got := only(t, ComputeFindings(snap), model.FindingServiceInteractiveLoginAnomaly)
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "svc", c.IdentityID)
	assert.Equal(t, model.SeverityHigh, c.Severity)
	assert.Equal(t, 88, c.Score)
	assert.Equal(t, 1, evidence(t, c, "interactive_login_count"))
	assert.Equal(t, "DE", evidence(t, c, "latest_country"))
	assert.Equal(t, []string{"e1"}, evidence(t, c, "example_event_ids"))
}

func TestServiceInteractiveLogin_ExampleIDsCapped(t *testing.T) {
	snap := snapshot()
	snap.Identities = []model.Identity{service("svc")}
	for i := range 8 {
		snap.Events = append(snap.Events,
			event(fmt.Sprintf("e%d", i), "svc", "interactive_login", "US", daysAgo(float64(10-i)), true))
	}

	got := only(t, ComputeFindings(snap), model.FindingServiceInteractiveLoginAnomaly)
	require.Len(t, got, 1)
	assert.Equal(t, 8, evidence(t, got[0], "interactive_login_count"))
	assert.Equal(t, []string{"e0", "e1", "e2", "e3", "e4"}, evidence(t, got[0], "example_event_ids"))
	assert.Equal(t, formatTS(daysAgo(3)), evidence(t, got[0], "latest_interactive_login_ts"))
}

func TestExcessivePrivilege_SeverityBoundary(t *testing.T) {
	tests := []struct {
		name     string
		weights  []int
		severity model.Severity
		score    int
		flagged  bool
	}{
		{"at threshold", []int{60, 40}, "", 0, false},
		{"just over", []int{60, 41}, model.SeverityHigh, 85, true},
		{"exactly one and a half", []int{100, 50}, model.SeverityHigh, 98, true},
		{"above one and a half", []int{100, 51}, model.SeverityCritical, 98, true},
		{"far above", []int{300, 200}, model.SeverityCritical, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := snapshot()
			snap.PrivilegeWeightThreshold = 100
			snap.Identities = []model.Identity{human("bob", 1, false)}
			for i, w := range tt.weights {
				id := fmt.Sprintf("ent-%d", i)
				snap.Entitlements = append(snap.Entitlements, ent(id, "app", id, w))
				snap.Grants = append(snap.Grants, grant("g-"+id, "bob", id, daysAgo(30)))
			}

			got := only(t, ComputeFindings(snap), model.FindingExcessivePrivilegeCount)
			if !tt.flagged {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.severity, got[0].Severity)
			assert.Equal(t, tt.score, got[0].Score)
			assert.Nil(t, got[0].ApplicationID)
		})
	}
}

func TestExcessivePrivilege_SkipsUnknownEntitlementsAndRanksTop(t *testing.T) {
	snap := snapshot()
	snap.PrivilegeWeightThreshold = 100
	snap.Identities = []model.Identity{human("bob", 1, false)}
	weights := []int{10, 50, 30, 40, 20, 45}
	for i, w := range weights {
		id := fmt.Sprintf("ent-%d", i)
		snap.Entitlements = append(snap.Entitlements, ent(id, "app", id, w))
		snap.Grants = append(snap.Grants, grant("g-"+id, "bob", id, daysAgo(30)))
	}
	snap.Grants = append(snap.Grants, grant("g-missing", "bob", "does-not-exist", daysAgo(30)))

	got := only(t, ComputeFindings(snap), model.FindingExcessivePrivilegeCount)
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, 195, evidence(t, c, "total_privilege_weight"))
	assert.Equal(t, 100, evidence(t, c, "threshold"))
	assert.Equal(t, 6, evidence(t, c, "entitlement_count"))

	top, ok := evidence(t, c, "top_entitlements").([]model.Evidence)
	require.True(t, ok)
	require.Len(t, top, 5)
	var ids []any
	for _, item := range top {
		v, _ := item.Get("id")
		ids = append(ids, v)
	}
	assert.Equal(t, []any{"ent-1", "ent-5", "ent-3", "ent-2", "ent-4"}, ids)
}

func TestExcessivePrivilege_NonPositiveThresholdDisabled(t *testing.T) {
	snap := snapshot()
	snap.PrivilegeWeightThreshold = 0
	snap.Identities = []model.Identity{human("bob", 1, false)}
	snap.Entitlements = []model.Entitlement{ent("e", "app", "x", 500)}
	snap.Grants = []model.Grant{grant("g", "bob", "e", daysAgo(30))}

	assert.NotPanics(t, func() {
		assert.Empty(t, only(t, ComputeFindings(snap), model.FindingExcessivePrivilegeCount))
	})
}

func TestToxicCombination_Scenario(t *testing.T) {
	snap := snapshot()
	snap.PrivilegeWeightThreshold = 1000
	snap.Identities = []model.Identity{human("fin", 3, false), human("half", 3, false)}
	snap.Entitlements = []model.Entitlement{
		ent("ent-z-vendor", "app-erp-2", "Create_Vendor", 45),
		ent("ent-a-pay", "app-erp-1", "approve_payment", 50),
		ent("ent-other", "app-gh", "repo_admin", 40),
	}
	snap.Grants = []model.Grant{
		grant("g1", "fin", "ent-z-vendor", daysAgo(30)),
		grant("g2", "fin", "ent-other", daysAgo(30)),
		grant("g3", "fin", "ent-a-pay", daysAgo(30)),
		grant("g4", "half", "ent-a-pay", daysAgo(30)),
	}

	got := only(t, ComputeFindings(snap), model.FindingToxicCombination)
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "fin", c.IdentityID)
	assert.Equal(t, model.SeverityCritical, c.Severity)
	assert.Equal(t, 97, c.Score)
	require.NotNil(t, c.ApplicationID)
	assert.Equal(t, "app-erp-1", *c.ApplicationID, "lowest entitlement id supplies the application")

	list, ok := evidence(t, c, "toxic_entitlements").([]model.Evidence)
	require.True(t, ok)
	require.Len(t, list, 2)
	first, _ := list[0].Get("id")
	assert.Equal(t, "ent-a-pay", first)
}

func TestNewPrivilegeUnusualCountry_NewestMatchingGrantWins(t *testing.T) {
	snap := snapshot()
	snap.Identities = []model.Identity{human("eve", 2, false)}
	snap.Entitlements = []model.Entitlement{ent("e1", "app", "deploy", 10), ent("e2", "app", "admin", 10)}
	snap.Grants = []model.Grant{
		grant("g-old", "eve", "e1", daysAgo(3)),
		grant("g-new", "eve", "e2", daysAgo(1)),
		grant("g-ancient", "eve", "e2", daysAgo(20)),
	}
	snap.Events = []model.AccessEvent{
		event("l1", "eve", "interactive_login", "US", daysAgo(10), true),
		event("l2", "eve", "interactive_login", "BR", daysAgo(0.5), true),
	}

	got := only(t, ComputeFindings(snap), model.FindingNewPrivilegeUnusualCountry)
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, model.SeverityHigh, c.Severity)
	assert.Equal(t, 84, c.Score)
	assert.Equal(t, "g-new", evidence(t, c, "grant_id"))
	assert.Equal(t, "BR", evidence(t, c, "unusual_country"))
	assert.Equal(t, []string{"US"}, evidence(t, c, "prior_countries"))
}

func TestNewPrivilegeUnusualCountry_FallsBackToOlderGrant(t *testing.T) {
	snap := snapshot()
	snap.Identities = []model.Identity{human("eve", 2, false)}
	snap.Grants = []model.Grant{
		grant("g-old", "eve", "e1", daysAgo(3)),
		grant("g-new", "eve", "e2", daysAgo(1)),
	}
	snap.Events = []model.AccessEvent{
		event("l1", "eve", "interactive_login", "US", daysAgo(10), true),
		event("l2", "eve", "interactive_login", "DE", daysAgo(2), true),
	}

	got := only(t, ComputeFindings(snap), model.FindingNewPrivilegeUnusualCountry)
	require.Len(t, got, 1)
	assert.Equal(t, "g-old", evidence(t, got[0], "grant_id"))
	assert.Equal(t, "DE", evidence(t, got[0], "unusual_country"))
}

func TestNewPrivilegeUnusualCountry_KnownCountryOrOldGrant(t *testing.T) {
	snap := snapshot()
	snap.Identities = []model.Identity{human("eve", 2, false), human("old", 2, false)}
	snap.Grants = []model.Grant{
		grant("g1", "eve", "e1", daysAgo(2)),
		grant("g2", "old", "e1", daysAgo(8)),
	}
	snap.Events = []model.AccessEvent{
		event("l1", "eve", "interactive_login", "US", daysAgo(10), true),
		event("l2", "eve", "interactive_login", "US", daysAgo(1), true),
		event("l3", "old", "interactive_login", "FR", daysAgo(1), true),
	}

	assert.Empty(t, only(t, ComputeFindings(snap), model.FindingNewPrivilegeUnusualCountry))
}

func mixedSnapshot() Snapshot {
	snap := snapshot()
	snap.PrivilegeWeightThreshold = 100
	snap.Identities = []model.Identity{
		human("dormant", 9, true),
		service("svc"),
		human("fin", 8, true),
		human("eng", 4, false),
		human("fin", 8, true), // duplicated row from the fact source
	}
	snap.Entitlements = []model.Entitlement{
		ent("ent-cv", "app-erp", "create_vendor", 45),
		ent("ent-ap", "app-erp", "approve_payment", 50),
		ent("ent-admin", "app-gh", "repo_admin", 40),
		ent("ent-deploy", "app-gh", "prod_deploy", 20),
	}
	snap.Grants = []model.Grant{
		grant("g1", "fin", "ent-cv", daysAgo(20)),
		grant("g2", "fin", "ent-ap", daysAgo(20)),
		grant("g3", "fin", "ent-admin", daysAgo(20)),
		grant("g4", "eng", "ent-deploy", daysAgo(3)),
	}
	snap.Events = []model.AccessEvent{
		event("e1", "dormant", "interactive_login", "US", daysAgo(200), true),
		event("e2", "svc", "interactive_login", "US", daysAgo(1), true),
		event("e3", "fin", "interactive_login", "US", daysAgo(1), true),
		event("e4", "eng", "interactive_login", "US", daysAgo(30), true),
		event("e5", "eng", "interactive_login", "RU", daysAgo(1), true),
	}
	return snap
}

func TestComputeFindings_Properties(t *testing.T) {
	got := ComputeFindings(mixedSnapshot())
	require.NotEmpty(t, got)

	seen := map[string]bool{}
	for i, c := range got {
		assert.True(t, c.FindingType.Known(), "unknown type %q", c.FindingType)
		assert.GreaterOrEqual(t, c.Score, 0)
		assert.LessOrEqual(t, c.Score, 100)
		key := string(c.FindingType) + ":" + c.IdentityID
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Score, c.Score, "not sorted by score")
		}
	}

	assert.True(t, seen["toxic_combination:fin"])
	assert.True(t, seen["excessive_privilege_count:fin"])
	assert.True(t, seen["dormant_privileged_account:dormant"])
	assert.True(t, seen["service_interactive_login_anomaly:svc"])
	assert.True(t, seen["new_privilege_unusual_country:eng"])
	assert.False(t, seen["dormant_privileged_account:fin"])
}

func TestComputeFindings_Idempotent(t *testing.T) {
	a := ComputeFindings(mixedSnapshot())
	b := ComputeFindings(mixedSnapshot())
	assert.Equal(t, a, b)
}

func TestComputeFindings_EqualScoresKeepDetectorOrder(t *testing.T) {
	snap := snapshot()
	snap.Identities = []model.Identity{service("svc-b"), service("svc-a")}
	snap.Events = []model.AccessEvent{
		event("e1", "svc-a", "interactive_login", "US", daysAgo(1), true),
		event("e2", "svc-b", "interactive_login", "US", daysAgo(1), true),
	}

	got := ComputeFindings(snap)
	require.Len(t, got, 2)
	assert.Equal(t, "svc-b", got[0].IdentityID, "input order is kept for equal scores")
	assert.Equal(t, "svc-a", got[1].IdentityID)
}

func TestComputeFindings_EmptySnapshot(t *testing.T) {
	assert.Empty(t, ComputeFindings(Snapshot{Now: testNow}))
}

func TestComputeFindingsParallel_MatchesSequential(t *testing.T) {
	snap := mixedSnapshot()
	for i := range 40 {
		id := fmt.Sprintf("bulk-%02d", i)
		snap.Identities = append(snap.Identities, human(id, i%10, i%3 == 0))
		snap.Events = append(snap.Events, event("ev-"+id, id, "login", "US", daysAgo(float64(i*5)), true))
	}

	want := ComputeFindings(snap)
	for _, workers := range []int{0, 1, 3, 8, 64} {
		got, err := ComputeFindingsParallel(context.Background(), snap, workers)
		require.NoError(t, err)
		assert.Equal(t, want, got, "workers=%d", workers)
	}
}

func TestComputeFindingsParallel_Cancelled(t *testing.T) {
	snap := mixedSnapshot()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ComputeFindingsParallel(ctx, snap, 4)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultRecommendation(t *testing.T) {
	assert.Equal(t, RecommendRevoke, DefaultRecommendation(model.FindingToxicCombination))
	assert.Equal(t, RecommendRevoke, DefaultRecommendation(model.FindingServiceInteractiveLoginAnomaly))
	assert.Equal(t, RecommendInvestigate, DefaultRecommendation(model.FindingDormantPrivilegedAccount))
	assert.Equal(t, RecommendApprove, DefaultRecommendation(model.FindingNewPrivilegeUnusualCountry))
	assert.Equal(t, RecommendInvestigate, DefaultRecommendation("custom"))
}
