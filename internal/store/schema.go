package store

// schemaStatements is valid for both SQLite and Postgres. Timestamps are
// RFC 3339 text, booleans are 0/1 integers and open maps are JSON text.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS identities (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	email TEXT,
	privilege_level INTEGER NOT NULL DEFAULT 0,
	is_privileged INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_identities_tenant ON identities(tenant_id)`,

	`CREATE TABLE IF NOT EXISTS applications (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_tenant ON applications(tenant_id)`,

	`CREATE TABLE IF NOT EXISTS entitlements (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	application_id TEXT NOT NULL,
	name TEXT NOT NULL,
	privilege_weight INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_entitlements_tenant ON entitlements(tenant_id)`,

	`CREATE TABLE IF NOT EXISTS identity_entitlements (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	identity_id TEXT NOT NULL,
	entitlement_id TEXT NOT NULL,
	granted_at TEXT NOT NULL,
	granted_by TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_grants_tenant ON identity_entitlements(tenant_id, identity_id)`,

	`CREATE TABLE IF NOT EXISTS access_events (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	identity_id TEXT NOT NULL,
	application_id TEXT,
	event_type TEXT NOT NULL,
	ip_address TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	ts TEXT NOT NULL,
	success INTEGER NOT NULL DEFAULT 1,
	metadata TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_events_tenant_ts ON access_events(tenant_id, ts)`,

	`CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	role TEXT NOT NULL,
	full_name TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_profiles_tenant ON profiles(tenant_id)`,

	`CREATE TABLE IF NOT EXISTS findings (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	identity_id TEXT NOT NULL,
	application_id TEXT,
	finding_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	score INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	assigned_to TEXT,
	priority TEXT,
	due_at TEXT,
	disposition TEXT,
	confidence REAL,
	explanation TEXT,
	evidence TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_tenant_status ON findings(tenant_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_tenant_identity ON findings(tenant_id, identity_id)`,

	`CREATE TABLE IF NOT EXISTS review_actions (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	finding_id TEXT NOT NULL,
	actor_user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	note TEXT,
	prev_status TEXT,
	new_status TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_review_actions_finding ON review_actions(tenant_id, finding_id, created_at)`,
}
