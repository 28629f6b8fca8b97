// Package findings implements the analyst review lifecycle: it validates
// a change-set against the current finding, applies it through a
// persistence collaborator, and records exactly one audit row per call.
//
// The package never logs and never retries. Every rejection is an *Error
// with a Kind the caller can branch on.
package findings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/accesslens/accesslens/internal/model"
)

// Deps is the persistence collaborator. Lookups return nil, nil when the
// row does not exist within the tenant.
type Deps interface {
	GetFindingByID(ctx context.Context, tenantID, findingID string) (*model.Finding, error)
	GetProfileByID(ctx context.Context, tenantID, profileID string) (*model.Profile, error)
	// UpdateFindingByID applies patch and returns the stored row. It must
	// fail if the row has disappeared.
	UpdateFindingByID(ctx context.Context, tenantID, findingID string, patch Patch) (*model.Finding, error)
	// InsertReviewAction appends an audit row. ID and CreatedAt are
	// assigned by the collaborator when empty.
	InsertReviewAction(ctx context.Context, action model.ReviewAction) error
}

// Patch holds the staged field writes. Unset fields are left untouched.
type Patch struct {
	Status      *model.Status
	AssignedTo  Optional[string]
	Priority    Optional[model.Priority]
	DueAt       Optional[string]
	Disposition Optional[model.Disposition]

	// UnmodifiedSince is the updated_at of the row the patch was computed
	// from. Stores reject the write when the row has moved on. Zero skips
	// the check.
	UnmodifiedSince time.Time
}

// Empty reports whether the patch writes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && !p.AssignedTo.Set && !p.Priority.Set && !p.DueAt.Set && !p.Disposition.Set
}

// Change is one before/after pair.
type Change struct {
	Previous any `json:"previous"`
	Next     any `json:"next"`
}

// ChangeSet maps a finding column to its change.
type ChangeSet map[string]Change

// ActionInput identifies who is changing which finding, and how.
type ActionInput struct {
	TenantID    string
	FindingID   string
	ActorUserID string
	ActorRole   model.Role
	Payload     Payload
}

// ActionResult is the outcome of a successful ApplyAction.
type ActionResult struct {
	Finding        *model.Finding `json:"finding"`
	Changes        ChangeSet      `json:"changes"`
	PreviousStatus model.Status   `json:"previous_status"`
	NewStatus      model.Status   `json:"new_status"`
}

// ApplyAction validates in.Payload against the current finding, persists
// the resulting patch when anything changed, and always inserts one audit
// row.
//
// If the update succeeds and the audit insert fails, the finding stays
// updated and an AUDIT_INSERT_FAILED error is returned; callers that need
// the pair to be atomic run the call inside a store transaction.
func ApplyAction(ctx context.Context, deps Deps, in ActionInput) (*ActionResult, error) {
	if !in.ActorRole.CanAct() {
		return nil, newError(KindForbidden, "role %q may not act on findings", in.ActorRole)
	}
	if err := in.Payload.Validate(); err != nil {
		return nil, err
	}

	current, err := deps.GetFindingByID(ctx, in.TenantID, in.FindingID)
	if err != nil {
		return nil, fmt.Errorf("loading finding %s: %w", in.FindingID, err)
	}
	if current == nil {
		return nil, newError(KindNotFound, "finding %s not found", in.FindingID)
	}

	p := in.Payload
	note := normalizeNote(p.Note)
	prevStatus := current.Status.Normalize()
	newStatus := prevStatus

	patch := Patch{UnmodifiedSince: current.UpdatedAt}
	changes := ChangeSet{}

	if p.Status.Set {
		desired := p.Status.Value.Status()
		if !CanTransition(current.Status, desired) {
			return nil, &Error{
				Kind:    KindInvalidStatusTransition,
				Message: fmt.Sprintf("invalid status transition from %s to %s", prevStatus, desired),
				From:    prevStatus,
				To:      desired,
			}
		}
		newStatus = desired.Normalize()
		if newStatus != prevStatus {
			s := newStatus
			patch.Status = &s
			changes["status"] = Change{Previous: prevStatus, Next: newStatus}
		}
	}

	if p.AssignedTo.Set {
		if p.AssignedTo.Valid {
			profile, err := deps.GetProfileByID(ctx, in.TenantID, p.AssignedTo.Value)
			if err != nil {
				return nil, fmt.Errorf("loading assignee %s: %w", p.AssignedTo.Value, err)
			}
			if profile == nil {
				return nil, newError(KindInvalidAssignee, "assigned user is not a member of this tenant")
			}
		}
		if !equalPtr(current.AssignedTo, p.AssignedTo.Ptr()) {
			patch.AssignedTo = p.AssignedTo
			changes["assigned_to"] = Change{Previous: deref(current.AssignedTo), Next: deref(p.AssignedTo.Ptr())}
		}
	}

	if p.Priority.Set && !equalPtr(current.Priority, p.Priority.Ptr()) {
		patch.Priority = p.Priority
		changes["priority"] = Change{Previous: deref(current.Priority), Next: deref(p.Priority.Ptr())}
	}

	if p.DueAt.Set {
		var next *string
		if p.DueAt.Valid {
			parsed, err := ParseDueAt(p.DueAt.Value)
			if err != nil {
				return nil, newError(KindInvalidDueAt, "invalid due date format")
			}
			next = parsed
		}
		if !sameInstant(current.DueAt, next) {
			patch.DueAt = Optional[string]{Set: true, Valid: next != nil}
			if next != nil {
				patch.DueAt.Value = *next
			}
			changes["due_at"] = Change{Previous: deref(current.DueAt), Next: deref(next)}
		}
	}

	effectiveDisposition := current.Disposition
	if p.Disposition.Set {
		effectiveDisposition = p.Disposition.Ptr()
		if !equalPtr(current.Disposition, p.Disposition.Ptr()) {
			patch.Disposition = p.Disposition
			changes["disposition"] = Change{Previous: deref(current.Disposition), Next: deref(p.Disposition.Ptr())}
		}
	}

	if newStatus.Closing() {
		if current.Severity.HighOrCritical() && note == nil {
			return nil, newError(KindNoteRequiredForClose, "a note is required when closing high or critical findings")
		}
		if effectiveDisposition == nil {
			return nil, newError(KindDispositionRequired, "disposition is required when closing or suppressing a finding")
		}
	}

	if len(changes) == 0 && note == nil {
		return nil, newError(KindNoChanges, "no changes submitted")
	}

	updated := current
	if !patch.Empty() {
		updated, err = deps.UpdateFindingByID(ctx, in.TenantID, in.FindingID, patch)
		if err != nil {
			return nil, &Error{Kind: KindUpdateFailed, Message: "failed to update finding", Wrapped: err}
		}
		if updated == nil {
			return nil, newError(KindUpdateFailed, "finding %s vanished during update", in.FindingID)
		}
	}
	finalStatus := updated.Status.Normalize()

	audit := model.ReviewAction{
		TenantID:    in.TenantID,
		FindingID:   in.FindingID,
		ActorUserID: in.ActorUserID,
		Action:      model.ReviewActionUpdate,
		Note:        note,
		PrevStatus:  &prevStatus,
		NewStatus:   &finalStatus,
		Metadata: map[string]any{
			"changed_fields": changes,
			"payload":        payloadEcho(p, note != nil),
		},
	}
	if err := deps.InsertReviewAction(ctx, audit); err != nil {
		return nil, &Error{Kind: KindAuditInsertFailed, Message: "failed to record review action", Wrapped: err}
	}

	return &ActionResult{
		Finding:        updated,
		Changes:        changes,
		PreviousStatus: prevStatus,
		NewStatus:      finalStatus,
	}, nil
}

// payloadEcho is the raw payload as stored in the audit row. Absent
// fields are null and the note is reduced to a presence flag.
func payloadEcho(p Payload, notePresent bool) map[string]any {
	return map[string]any{
		"status":      deref(p.Status.Ptr()),
		"assignedTo":  deref(p.AssignedTo.Ptr()),
		"priority":    deref(p.Priority.Ptr()),
		"dueAt":       deref(p.DueAt.Ptr()),
		"disposition": deref(p.Disposition.Ptr()),
		"notePresent": notePresent,
	}
}

func normalizeNote(n Optional[string]) *string {
	if !n.Valid {
		return nil
	}
	trimmed := strings.TrimSpace(n.Value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// deref turns a nil pointer into an untyped nil so change-sets encode
// absent values as JSON null.
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// sameInstant compares stored and requested due dates as instants when
// both parse, and as strings otherwise.
func sameInstant(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, errA := parseTime(*a)
	tb, errB := parseTime(*b)
	if errA == nil && errB == nil {
		return ta.Equal(tb)
	}
	return *a == *b
}
