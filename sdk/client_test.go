package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080", "tenant-a", "actor-1")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.tenantID != "tenant-a" || c.actorID != "actor-1" {
		t.Errorf("tenant/actor = %q/%q", c.tenantID, c.actorID)
	}
}

func TestListFindings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/findings" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Tenant-ID"); got != "tenant-a" {
			t.Errorf("X-Tenant-ID = %q", got)
		}
		if got := r.Header.Get("X-Actor-ID"); got != "actor-1" {
			t.Errorf("X-Actor-ID = %q", got)
		}
		q := r.URL.Query()
		if q.Get("severity") != "critical" || q.Get("limit") != "5" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if q.Has("status") {
			t.Error("empty filters must not be sent")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"findings":[{"id":"f-1","finding_type":"toxic_combination","severity":"critical","score":97,"status":"open","evidence":{"rule":"toxic_combination"}}],"count":1}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tenant-a", "actor-1")
	list, err := c.ListFindings(context.Background(), ListOptions{Severity: "critical", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "f-1" || list[0].Score != 97 {
		t.Errorf("unexpected findings %+v", list)
	}
	if list[0].Evidence["rule"] != "toxic_combination" {
		t.Errorf("evidence = %v", list[0].Evidence)
	}
}

func TestApplyAction_SendsNulls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/findings/f-1/actions" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if v, ok := body["assignedTo"]; !ok || v != nil {
			t.Errorf("assignedTo should be an explicit null, got %v (present=%v)", v, ok)
		}
		_, _ = w.Write([]byte(`{"finding":{"id":"f-1","status":"in_review"},"changes":{"status":{"previous":"open","next":"in_review"}},"previous_status":"open","new_status":"in_review"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tenant-a", "actor-1")
	res, err := c.ApplyAction(context.Background(), "f-1", Action{"status": "IN_REVIEW", "assignedTo": nil})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewStatus != "in_review" || res.Changes["status"].Previous != "open" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid status transition from resolved to open","code":"INVALID_STATUS_TRANSITION","from":"resolved","to":"open"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tenant-a", "actor-1")
	_, err := c.ApplyAction(context.Background(), "f-1", Action{"status": "OPEN"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "INVALID_STATUS_TRANSITION" {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if apiErr.From != "resolved" || apiErr.To != "open" {
		t.Errorf("from/to = %q/%q", apiErr.From, apiErr.To)
	}
	if apiErr.Error() == "" {
		t.Error("empty error string")
	}
}

func TestAPIError_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "t", "a").Recompute(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "HTTP_ERROR" || apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("unexpected error %v", err)
	}
}

func TestGetFindingAndHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/findings/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"` + r.PathValue("id") + `","identity_name":"Ada","recommendation":"revoke","next_statuses":["in_review"],"review_actions":[]}`))
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok", Version: "1.0.0"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "tenant-a", "actor-1")
	d, err := c.GetFinding(context.Background(), "f-9")
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "f-9" || d.IdentityName != "Ada" || d.Recommendation != "revoke" {
		t.Errorf("unexpected detail %+v", d)
	}

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" {
		t.Errorf("status = %q", h.Status)
	}
}
