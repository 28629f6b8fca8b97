// Package model holds the tenant-scoped records shared by the rule engine,
// the finding action state machine and the store.
package model

import "time"

// Identity is a human or workload principal.
type Identity struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	Type           IdentityType `json:"type"`
	Name           string       `json:"name"`
	Email          *string      `json:"email"`
	PrivilegeLevel int          `json:"privilege_level"`
	IsPrivileged   bool         `json:"is_privileged"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Application is a system entitlements belong to.
type Application struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// Entitlement is a grantable permission.
type Entitlement struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	ApplicationID   string    `json:"application_id"`
	Name            string    `json:"name"`
	PrivilegeWeight int       `json:"privilege_weight"`
	CreatedAt       time.Time `json:"created_at"`
}

// Grant assigns an entitlement to an identity.
type Grant struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	IdentityID    string    `json:"identity_id"`
	EntitlementID string    `json:"entitlement_id"`
	GrantedAt     time.Time `json:"granted_at"`
	GrantedBy     *string   `json:"granted_by"`
}

// AccessEvent is one authentication or access record.
type AccessEvent struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	IdentityID    string         `json:"identity_id"`
	ApplicationID *string        `json:"application_id"`
	EventType     string         `json:"event_type"`
	IPAddress     string         `json:"ip_address"`
	Country       string         `json:"country"`
	Timestamp     time.Time      `json:"ts"`
	Success       bool           `json:"success"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Profile is a tenant member who can be assigned findings.
type Profile struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
	FullName string `json:"full_name"`
}

// Finding is a detected risk condition tied to one identity.
type Finding struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenant_id"`
	IdentityID    string       `json:"identity_id"`
	ApplicationID *string      `json:"application_id"`
	FindingType   FindingType  `json:"finding_type"`
	Severity      Severity     `json:"severity"`
	Score         int          `json:"score"`
	Status        Status       `json:"status"`
	AssignedTo    *string      `json:"assigned_to"`
	Priority      *Priority    `json:"priority"`
	DueAt         *string      `json:"due_at"`
	Disposition   *Disposition `json:"disposition"`
	Confidence    *float64     `json:"confidence"`
	Explanation   *string      `json:"explanation"`
	Evidence      Evidence     `json:"evidence"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ReviewAction is an append-only audit row for one analyst change.
type ReviewAction struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"`
	FindingID   string           `json:"finding_id"`
	ActorUserID string           `json:"actor_user_id"`
	Action      ReviewActionKind `json:"action"`
	Note        *string          `json:"note"`
	PrevStatus  *Status          `json:"previous_status"`
	NewStatus   *Status          `json:"new_status"`
	Metadata    map[string]any   `json:"metadata"`
	CreatedAt   time.Time        `json:"created_at"`
}
