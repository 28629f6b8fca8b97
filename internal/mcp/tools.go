package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/accesslens/accesslens/internal/findings"
	"github.com/accesslens/accesslens/internal/model"
	"github.com/accesslens/accesslens/internal/store"
	"github.com/accesslens/accesslens/internal/triage"
)

type handlers struct {
	svc    *triage.Service
	actor  triage.Actor
	logger *slog.Logger
}

// --- Tool definitions ---

func listFindingsTool() *mcp.Tool {
	return &mcp.Tool{
		Name: "list_findings",
		Description: "List identity risk findings for the tenant, highest score first. " +
			"Filter by status, severity, finding type or identity.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status":   map[string]any{"type": "string", "description": "open, in_review, escalated, resolved, suppressed or false_positive"},
				"severity": map[string]any{"type": "string", "description": "low, medium, high or critical"},
				"type":     map[string]any{"type": "string", "description": "Finding type, e.g. toxic_combination"},
				"identity": map[string]any{"type": "string", "description": "Identity id"},
				"limit":    map[string]any{"type": "number", "description": "Maximum findings to return (default 20)"},
			},
		},
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}
}

func getFindingTool() *mcp.Tool {
	return &mcp.Tool{
		Name: "get_finding",
		Description: "Get one finding with its evidence, explanation, recommended action, " +
			"allowed next statuses and review history.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"finding_id": map[string]any{"type": "string", "description": "Finding id"},
			},
			"required": []string{"finding_id"},
		},
	}
}

func applyActionTool() *mcp.Tool {
	return &mcp.Tool{
		Name: "apply_finding_action",
		Description: "Record a review action on a finding: change status, assignee, priority, " +
			"due date or disposition, and/or add a note. Omitted fields are left unchanged; " +
			"null clears a field. Closing a high or critical finding needs a note, and closing " +
			"any finding needs a disposition.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"finding_id":  map[string]any{"type": "string", "description": "Finding id"},
				"status":      map[string]any{"type": "string", "description": "OPEN, IN_REVIEW, ESCALATED, RESOLVED, SUPPRESSED or FALSE_POSITIVE"},
				"assignedTo":  map[string]any{"type": []string{"string", "null"}, "description": "Profile id of a tenant member"},
				"priority":    map[string]any{"type": []string{"string", "null"}, "description": "low, medium, high or urgent"},
				"dueAt":       map[string]any{"type": []string{"string", "null"}, "description": "Due date, RFC 3339 or YYYY-MM-DD"},
				"disposition": map[string]any{"type": []string{"string", "null"}, "description": "Why the finding is being closed"},
				"note":        map[string]any{"type": []string{"string", "null"}, "description": "Reviewer note"},
			},
			"required": []string{"finding_id"},
		},
	}
}

func recomputeTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "recompute_risk",
		Description: "Re-run every risk rule for the tenant and replace open findings. Admins only.",
		InputSchema: map[string]any{"type": "object"},
	}
}

// --- Handlers ---

func (h *handlers) handleListFindings(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := req.Params.Arguments
	f := store.ListFilter{
		Status:      model.Status(stringArg(raw, "status", "")),
		Severity:    model.Severity(stringArg(raw, "severity", "")),
		FindingType: model.FindingType(stringArg(raw, "type", "")),
		IdentityID:  stringArg(raw, "identity", ""),
		Limit:       intArg(raw, "limit", 20),
	}
	if f.Limit < 1 || f.Limit > 1000 {
		f.Limit = 20
	}

	views, err := h.svc.List(ctx, h.actor, f)
	if err != nil {
		return h.toolError(err), nil
	}
	if len(views) == 0 {
		return textResult("No findings match the filters."), nil
	}
	return jsonResult(views)
}

func (h *handlers) handleGetFinding(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := stringArg(req.Params.Arguments, "finding_id", "")
	if id == "" {
		return errorResult("finding_id is required"), nil
	}
	d, err := h.svc.Detail(ctx, h.actor, id)
	if err != nil {
		return h.toolError(err), nil
	}
	return jsonResult(d)
}

func (h *handlers) handleApplyAction(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req.Params.Arguments)
	id, _ := args["finding_id"].(string)
	if id == "" {
		return errorResult("finding_id is required"), nil
	}
	delete(args, "finding_id")

	// Re-encode the remaining keys so absent, null and set stay distinct.
	body, err := json.Marshal(args)
	if err != nil {
		return errorResult("invalid arguments"), nil
	}
	p, err := findings.ParsePayload(body)
	if err != nil {
		return h.toolError(err), nil
	}

	res, err := h.svc.Act(ctx, h.actor, id, p)
	if err != nil {
		return h.toolError(err), nil
	}
	return jsonResult(res)
}

func (h *handlers) handleRecompute(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.svc.Recompute(ctx, h.actor)
	if err != nil {
		return h.toolError(err), nil
	}
	return jsonResult(res)
}

// toolError reports rejections to the agent as tool errors with the
// kind up front. Unexpected failures are logged and kept opaque.
func (h *handlers) toolError(err error) *mcp.CallToolResult {
	var fe *findings.Error
	if errors.As(err, &fe) && fe.HTTPStatus() < 500 {
		return errorResult(fmt.Sprintf("%s: %s", fe.Kind, fe.Message))
	}
	if errors.Is(err, store.ErrConflict) {
		return errorResult("CONFLICT: finding was modified concurrently, retry")
	}
	h.logger.Error("mcp tool failed", "error", err)
	return errorResult(fmt.Sprintf("request failed: %v", err))
}
