package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/accesslens/accesslens/internal/findings"
	"github.com/accesslens/accesslens/internal/lock"
	"github.com/accesslens/accesslens/internal/model"
	"github.com/accesslens/accesslens/internal/store"
	"github.com/accesslens/accesslens/internal/triage"
)

// Request headers carrying the caller. Authentication happens upstream;
// the actor's role is always read from their tenant profile.
const (
	headerTenant = "X-Tenant-ID"
	headerActor  = "X-Actor-ID"
)

// maxActionBody caps POST /v1/findings/{id}/actions bodies.
const maxActionBody = 64 << 10

// Error codes for failures that are not finding action kinds.
const (
	CodeConflict       = "CONFLICT"
	CodeLocked         = "RECOMPUTE_IN_PROGRESS"
	CodeBadRequest     = "BAD_REQUEST"
	CodeInternal       = "INTERNAL"
	CodeUnavailable    = "UNAVAILABLE"
	CodeMissingContext = "MISSING_CONTEXT"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
}

// ListResponse is returned by GET /v1/findings.
type ListResponse struct {
	Findings []triage.View `json:"findings"`
	Count    int           `json:"count"`
}

type handlers struct {
	svc    *triage.Service
	logger *slog.Logger
}

func actorOf(r *http.Request) (triage.Actor, bool) {
	a := triage.Actor{TenantID: r.Header.Get(headerTenant), UserID: r.Header.Get(headerActor)}
	return a, a.TenantID != "" && a.UserID != ""
}

func (h *handlers) listFindings(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeMissingContext, "X-Tenant-ID and X-Actor-ID headers are required")
		return
	}

	q := r.URL.Query()
	f := store.ListFilter{
		Status:      model.Status(q.Get("status")),
		Severity:    model.Severity(q.Get("severity")),
		FindingType: model.FindingType(q.Get("type")),
		IdentityID:  q.Get("identity"),
		AssignedTo:  q.Get("assignee"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "limit must be between 1 and 1000")
			return
		}
		f.Limit = n
	}
	if f.Severity != "" {
		if _, err := model.ParseSeverity(string(f.Severity)); err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
			return
		}
	}

	views, err := h.svc.List(r.Context(), actor, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Findings: views, Count: len(views)})
}

func (h *handlers) getFinding(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeMissingContext, "X-Tenant-ID and X-Actor-ID headers are required")
		return
	}
	d, err := h.svc.Detail(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) applyAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeMissingContext, "X-Tenant-ID and X-Actor-ID headers are required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxActionBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "reading body")
		return
	}
	if len(body) > maxActionBody {
		writeError(w, http.StatusRequestEntityTooLarge, CodeBadRequest, "payload too large")
		return
	}
	p, err := findings.ParsePayload(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.svc.Act(r.Context(), actor, r.PathValue("id"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) recompute(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOf(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeMissingContext, "X-Tenant-ID and X-Actor-ID headers are required")
		return
	}
	res, err := h.svc.Recompute(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// fail maps err to a status and error code and writes it.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", RequestIDFrom(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, body)
}

// errorBody classifies err. Stale writes surface as 409 even though the
// action layer wraps them in UPDATE_FAILED.
func errorBody(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, ErrorResponse{Error: "finding was modified concurrently, retry", Code: CodeConflict}
	case errors.Is(err, lock.ErrLocked):
		return http.StatusConflict, ErrorResponse{Error: "a recompute is already running for this tenant", Code: CodeLocked}
	case errors.Is(err, triage.ErrRecomputeUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: CodeUnavailable}
	}

	var fe *findings.Error
	if errors.As(err, &fe) {
		body := ErrorResponse{Error: fe.Message, Code: string(fe.Kind)}
		if fe.Kind == findings.KindInvalidStatusTransition {
			body.From, body.To = string(fe.From), string(fe.To)
		}
		return fe.HTTPStatus(), body
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Header already sent; nothing left to change.
		slog.Default().Error("writeJSON: encode failed", "error", err)
	}
}
