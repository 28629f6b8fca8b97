package model

import (
	"fmt"
	"strings"
)

// Status is the persisted review status of a finding.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInReview      Status = "in_review"
	StatusEscalated     Status = "escalated"
	StatusResolved      Status = "resolved"
	StatusSuppressed    Status = "suppressed"
	StatusFalsePositive Status = "false_positive"

	// StatusReviewed is the legacy spelling of in_review. It is still
	// accepted on read and normalised away.
	StatusReviewed Status = "reviewed"
)

// Normalize maps legacy and unknown statuses onto the six canonical ones.
// Unknown values fall back to open.
func (s Status) Normalize() Status {
	switch s {
	case StatusReviewed:
		return StatusInReview
	case StatusOpen, StatusInReview, StatusEscalated, StatusResolved, StatusSuppressed, StatusFalsePositive:
		return s
	default:
		return StatusOpen
	}
}

// Closing reports whether s ends the review lifecycle.
func (s Status) Closing() bool {
	switch s.Normalize() {
	case StatusResolved, StatusSuppressed, StatusFalsePositive:
		return true
	case StatusOpen, StatusInReview, StatusEscalated:
		return false
	}
	return false
}

// Label is the human-facing form, e.g. "IN REVIEW".
func (s Status) Label() string {
	return strings.ReplaceAll(strings.ToUpper(string(s.Normalize())), "_", " ")
}

// ActionStatus is the status label accepted from analysts.
type ActionStatus string

const (
	ActionOpen          ActionStatus = "OPEN"
	ActionInReview      ActionStatus = "IN_REVIEW"
	ActionEscalated     ActionStatus = "ESCALATED"
	ActionResolved      ActionStatus = "RESOLVED"
	ActionSuppressed    ActionStatus = "SUPPRESSED"
	ActionFalsePositive ActionStatus = "FALSE_POSITIVE"
)

// ParseActionStatus validates an analyst-supplied status label.
func ParseActionStatus(s string) (ActionStatus, error) {
	a := ActionStatus(s)
	switch a {
	case ActionOpen, ActionInReview, ActionEscalated, ActionResolved, ActionSuppressed, ActionFalsePositive:
		return a, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Status converts the label to its persisted status.
func (a ActionStatus) Status() Status {
	switch a {
	case ActionOpen:
		return StatusOpen
	case ActionInReview:
		return StatusInReview
	case ActionEscalated:
		return StatusEscalated
	case ActionResolved:
		return StatusResolved
	case ActionSuppressed:
		return StatusSuppressed
	case ActionFalsePositive:
		return StatusFalsePositive
	}
	return StatusOpen
}

// ActionStatusOf returns the analyst label for a persisted status.
func ActionStatusOf(s Status) ActionStatus {
	switch s.Normalize() {
	case StatusInReview:
		return ActionInReview
	case StatusEscalated:
		return ActionEscalated
	case StatusResolved:
		return ActionResolved
	case StatusSuppressed:
		return ActionSuppressed
	case StatusFalsePositive:
		return ActionFalsePositive
	case StatusOpen:
		return ActionOpen
	}
	return ActionOpen
}

// Severity ranks the impact of a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	v := Severity(s)
	switch v {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return v, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// HighOrCritical reports whether closing requires a note.
func (s Severity) HighOrCritical() bool {
	switch s {
	case SeverityHigh, SeverityCritical:
		return true
	case SeverityLow, SeverityMedium:
		return false
	}
	return false
}

// Rank orders severities for display, critical highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Priority is the analyst-assigned work priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority validates a priority string.
func ParsePriority(s string) (Priority, error) {
	v := Priority(s)
	switch v {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return v, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Disposition is the rationale recorded when a finding is closed.
type Disposition string

const (
	DispositionRevokedEntitlement              Disposition = "revoked_entitlement"
	DispositionUserVerifiedTravel              Disposition = "user_verified_travel"
	DispositionServiceAccountExceptionApproved Disposition = "service_account_exception_approved"
	DispositionCompensatingControlExists       Disposition = "compensating_control_exists"
	DispositionFalsePositiveRuleTuningNeeded   Disposition = "false_positive_rule_tuning_needed"
	DispositionOther                           Disposition = "other"
)

// ParseDisposition validates a disposition string.
func ParseDisposition(s string) (Disposition, error) {
	v := Disposition(s)
	switch v {
	case DispositionRevokedEntitlement, DispositionUserVerifiedTravel,
		DispositionServiceAccountExceptionApproved, DispositionCompensatingControlExists,
		DispositionFalsePositiveRuleTuningNeeded, DispositionOther:
		return v, nil
	}
	return "", fmt.Errorf("unknown disposition %q", s)
}

// Role is a tenant member's role.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleViewer  Role = "viewer"
)

// CanAct reports whether the role may change findings.
func (r Role) CanAct() bool {
	switch r {
	case RoleAdmin, RoleAnalyst:
		return true
	case RoleViewer:
		return false
	}
	return false
}

// IdentityType distinguishes people from workloads.
type IdentityType string

const (
	IdentityHuman   IdentityType = "human"
	IdentityService IdentityType = "service"
)

// ReviewActionKind discriminates audit rows.
type ReviewActionKind string

const (
	ReviewActionUpdate ReviewActionKind = "update"
)
