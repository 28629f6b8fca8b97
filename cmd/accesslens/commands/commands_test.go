package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accesslens/accesslens/internal/api"
	"github.com/accesslens/accesslens/internal/config"
	"github.com/accesslens/accesslens/internal/findings"
	"github.com/accesslens/accesslens/internal/model"
	"github.com/accesslens/accesslens/internal/store"
	"github.com/accesslens/accesslens/sdk"
)

const (
	tenant  = "acme"
	admin   = "11111111-0000-4000-8000-00000000000a"
	analyst = "11111111-0000-4000-8000-00000000000b"
	viewer  = "11111111-0000-4000-8000-00000000000c"
)

// run executes the root command with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// workspace writes a config pointing at a fresh sqlite file plus a facts
// export holding one toxic-combination identity, and returns the config
// path and the facts path.
func workspace(t *testing.T) (string, string) {
	t.Helper()
	for _, k := range []string{envTenant, envActor, envServer, config.EnvDBDriver, config.EnvDBDSN, config.EnvRedisAddr} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()

	cfg := config.Defaults()
	cfg.Database.DSN = filepath.Join(dir, "cli.db")
	cfgPath := filepath.Join(dir, "accesslens.yaml")
	require.NoError(t, cfg.Save(cfgPath))

	now := time.Now().UTC()
	facts := store.Facts{
		Identities: []model.Identity{
			{ID: "id-1", Type: model.IdentityHuman, Name: "Ada", CreatedAt: now.AddDate(-1, 0, 0)},
		},
		Applications: []model.Application{{ID: "app-erp", Name: "ERP"}},
		Entitlements: []model.Entitlement{
			{ID: "ent-1", ApplicationID: "app-erp", Name: "create_vendor", PrivilegeWeight: 10},
			{ID: "ent-2", ApplicationID: "app-erp", Name: "approve_payment", PrivilegeWeight: 10},
		},
		Grants: []model.Grant{
			{ID: "g-1", IdentityID: "id-1", EntitlementID: "ent-1", GrantedAt: now.AddDate(0, 0, -200)},
			{ID: "g-2", IdentityID: "id-1", EntitlementID: "ent-2", GrantedAt: now.AddDate(0, 0, -200)},
		},
		Profiles: []model.Profile{
			{ID: admin, Role: model.RoleAdmin},
			{ID: analyst, Role: model.RoleAnalyst},
			{ID: viewer, Role: model.RoleViewer},
		},
	}
	data, err := json.Marshal(facts)
	require.NoError(t, err)
	factsPath := filepath.Join(dir, "facts.json")
	require.NoError(t, os.WriteFile(factsPath, data, 0o600))
	return cfgPath, factsPath
}

// seed imports the facts and recomputes as admin.
func seed(t *testing.T, cfgPath, factsPath string) {
	t.Helper()
	out, err := run(t, "import", factsPath, "--config", cfgPath, "--tenant", tenant)
	require.NoError(t, err, out)

	var counts store.FactCounts
	require.NoError(t, json.Unmarshal([]byte(out), &counts))
	assert.Equal(t, 1, counts.Identities)
	assert.Equal(t, 2, counts.Grants)
	assert.Equal(t, 3, counts.Profiles)

	out, err = run(t, "recompute", "--config", cfgPath, "--tenant", tenant, "--actor", admin)
	require.NoError(t, err, out)
	var res sdk.RecomputeResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.BySeverity["critical"])
}

func listFindings(t *testing.T, args ...string) []sdk.Finding {
	t.Helper()
	out, err := run(t, append([]string{"findings", "list"}, args...)...)
	require.NoError(t, err, out)
	var list []sdk.Finding
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	return list
}

func TestLocalTriageFlow(t *testing.T) {
	cfgPath, factsPath := workspace(t)
	seed(t, cfgPath, factsPath)
	as := func(actor string) []string {
		return []string{"--config", cfgPath, "--tenant", tenant, "--actor", actor}
	}

	_, err := run(t, append([]string{"recompute"}, as(analyst)...)...)
	assert.ErrorIs(t, err, findings.ErrForbidden)

	list := listFindings(t, as(viewer)...)
	require.Len(t, list, 1)
	f := list[0]
	assert.Equal(t, "toxic_combination", f.FindingType)
	assert.Equal(t, "critical", f.Severity)
	assert.Equal(t, "open", f.Status)

	assert.Empty(t, listFindings(t, append(as(viewer), "--severity", "low")...))
	_, err = run(t, append([]string{"findings", "list", "--severity", "extreme"}, as(viewer)...)...)
	assert.Error(t, err)

	_, err = run(t, append([]string{"act", f.ID, "--status", "IN_REVIEW"}, as(viewer)...)...)
	assert.ErrorIs(t, err, findings.ErrForbidden)

	out, err := run(t, append([]string{"act", f.ID, "--status", "IN_REVIEW", "--assign", analyst}, as(analyst)...)...)
	require.NoError(t, err, out)
	var res sdk.ActionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "open", res.PreviousStatus)
	assert.Equal(t, "in_review", res.NewStatus)
	assert.Equal(t, analyst, res.Changes["assigned_to"].Next)

	_, err = run(t, append([]string{"act", f.ID, "--status", "RESOLVED"}, as(analyst)...)...)
	assert.ErrorIs(t, err, findings.ErrNoteRequiredForClose)

	out, err = run(t, append([]string{"act", f.ID, "--clear", "assignedTo"}, as(analyst)...)...)
	require.NoError(t, err, out)
	res = sdk.ActionResult{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Nil(t, res.Finding.AssignedTo)

	out, err = run(t, append([]string{"findings", "show", f.ID}, as(viewer)...)...)
	require.NoError(t, err, out)
	var d sdk.FindingDetail
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, "Ada", d.IdentityName)
	require.NotNil(t, d.ApplicationName)
	assert.Equal(t, "ERP", *d.ApplicationName)
	require.NotNil(t, d.Explanation)
	assert.Len(t, d.ReviewActions, 2)

	out, err = run(t, append([]string{"explain", f.ID}, as(viewer)...)...)
	require.NoError(t, err, out)
	var ex map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &ex))
	assert.Equal(t, f.ID, ex["finding_id"])
	assert.InDelta(t, 0.61, ex["confidence"], 0.001)
}

func TestRemoteBackend(t *testing.T) {
	cfgPath, factsPath := workspace(t)
	seed(t, cfgPath, factsPath)

	cfgFile = cfgPath
	cfg, err := loadConfig()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := openApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	srv := httptest.NewServer(api.NewHandler(api.Deps{Service: a.svc, Health: a.store, Version: "test"}, logger))
	t.Cleanup(srv.Close)

	remote := []string{"--server", srv.URL, "--tenant", tenant}
	list := listFindings(t, append(remote, "--actor", viewer)...)
	require.Len(t, list, 1)

	_, err = run(t, append([]string{"recompute", "--actor", analyst}, remote...)...)
	var apiErr *sdk.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)

	out, err := run(t, append([]string{"act", list[0].ID, "--status", "ESCALATED", "--actor", analyst}, remote...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"new_status": "escalated"`)

	_, err = run(t, append([]string{"import", "facts.json"}, remote...)...)
	assert.ErrorContains(t, err, "drop --server")
}

func TestAct_FlagValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"nothing", nil, "nothing to do"},
		{"unknown clear", []string{"--clear", "status"}, `cannot clear "status"`},
		{"set and cleared", []string{"--note", "x", "--clear", "note"}, "both set and cleared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"act", "f-1"}, tt.args...)...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRequiresActor(t *testing.T) {
	t.Setenv(envTenant, "")
	t.Setenv(envActor, "")
	_, err := run(t, "findings", "list")
	assert.ErrorContains(t, err, "--tenant and --actor are required")

	_, err = run(t, "mcp")
	assert.ErrorContains(t, err, "--tenant and --actor are required")
}

func TestImport_BadFile(t *testing.T) {
	cfgPath, _ := workspace(t)
	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"users":[]}`), 0o600))

	_, err := run(t, "import", bad, "--config", cfgPath, "--tenant", tenant)
	assert.ErrorContains(t, err, "parsing")
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accesslens.yaml")

	out, err := run(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPrivilegeWeightThreshold, cfg.Risk.PrivilegeWeightThreshold)

	_, err = run(t, "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(config.EnvDBDSN, "")
	cfgFile = filepath.Join(t.TempDir(), "absent.yaml")
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadConfig_BrokenFileFails(t *testing.T) {
	cfgFile = filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("server: [unclosed"), 0o600))
	_, err := loadConfig()
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "accesslens dev"), out)
}

func TestPrintFindings(t *testing.T) {
	var buf bytes.Buffer
	printFindings(&buf, nil)
	assert.Equal(t, "No findings match the filters.\n", buf.String())

	buf.Reset()
	printFindings(&buf, []sdk.Finding{{ID: "f-1", Severity: "high", Score: 80, TypeLabel: "Dormant privileged account", StatusLabel: "Open"}})
	assert.Contains(t, buf.String(), "f-1")
	assert.Contains(t, buf.String(), "1 finding(s)")
}
