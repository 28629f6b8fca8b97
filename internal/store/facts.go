package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/accesslens/accesslens/internal/model"
)

// Facts is one tenant's connector export: the inputs the rule engine
// reads, plus the tenant's members.
type Facts struct {
	Identities   []model.Identity    `json:"identities"`
	Applications []model.Application `json:"applications"`
	Entitlements []model.Entitlement `json:"entitlements"`
	Grants       []model.Grant       `json:"grants"`
	Events       []model.AccessEvent `json:"access_events"`
	Profiles     []model.Profile     `json:"profiles"`
}

// FactCounts reports how many rows ImportFacts wrote per table.
type FactCounts struct {
	Identities   int `json:"identities"`
	Applications int `json:"applications"`
	Entitlements int `json:"entitlements"`
	Grants       int `json:"grants"`
	Events       int `json:"access_events"`
	Profiles     int `json:"profiles"`
}

// ImportFacts upserts f under tenantID in one transaction. An id that
// already belongs to another tenant fails the whole import with
// ErrDuplicate; rows never move between tenants.
func (s *Store) ImportFacts(ctx context.Context, tenantID string, f Facts) (FactCounts, error) {
	var c FactCounts
	err := s.WithTx(ctx, func(tx *Store) error {
		for _, v := range f.Identities {
			if err := tx.upsert(ctx, "identity", v.ID, `INSERT INTO identities (id, tenant_id, type, name, email, privilege_level, is_privileged, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET type = excluded.type, name = excluded.name,
					email = excluded.email, privilege_level = excluded.privilege_level, is_privileged = excluded.is_privileged
				WHERE identities.tenant_id = excluded.tenant_id`,
				v.ID, tenantID, string(v.Type), v.Name, nullString(v.Email), v.PrivilegeLevel, boolInt(v.IsPrivileged), formatTime(tx.stamp(v.CreatedAt))); err != nil {
				return err
			}
			c.Identities++
		}
		for _, v := range f.Applications {
			if err := tx.upsert(ctx, "application", v.ID, `INSERT INTO applications (id, tenant_id, name, category, created_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, category = excluded.category
				WHERE applications.tenant_id = excluded.tenant_id`,
				v.ID, tenantID, v.Name, v.Category, formatTime(tx.stamp(v.CreatedAt))); err != nil {
				return err
			}
			c.Applications++
		}
		for _, v := range f.Entitlements {
			if err := tx.upsert(ctx, "entitlement", v.ID, `INSERT INTO entitlements (id, tenant_id, application_id, name, privilege_weight, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET application_id = excluded.application_id,
					name = excluded.name, privilege_weight = excluded.privilege_weight
				WHERE entitlements.tenant_id = excluded.tenant_id`,
				v.ID, tenantID, v.ApplicationID, v.Name, v.PrivilegeWeight, formatTime(tx.stamp(v.CreatedAt))); err != nil {
				return err
			}
			c.Entitlements++
		}
		for _, v := range f.Grants {
			if err := tx.upsert(ctx, "grant", v.ID, `INSERT INTO identity_entitlements (id, tenant_id, identity_id, entitlement_id, granted_at, granted_by)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET identity_id = excluded.identity_id,
					entitlement_id = excluded.entitlement_id, granted_at = excluded.granted_at, granted_by = excluded.granted_by
				WHERE identity_entitlements.tenant_id = excluded.tenant_id`,
				v.ID, tenantID, v.IdentityID, v.EntitlementID, formatTime(tx.stamp(v.GrantedAt)), nullString(v.GrantedBy)); err != nil {
				return err
			}
			c.Grants++
		}
		for _, v := range f.Events {
			meta, err := marshalMap(v.Metadata)
			if err != nil {
				return fmt.Errorf("encoding event %s metadata: %w", v.ID, err)
			}
			if err := tx.upsert(ctx, "event", v.ID, `INSERT INTO access_events (id, tenant_id, identity_id, application_id, event_type, ip_address, country, ts, success, metadata)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET identity_id = excluded.identity_id,
					application_id = excluded.application_id, event_type = excluded.event_type, ip_address = excluded.ip_address,
					country = excluded.country, ts = excluded.ts, success = excluded.success, metadata = excluded.metadata
				WHERE access_events.tenant_id = excluded.tenant_id`,
				v.ID, tenantID, v.IdentityID, nullString(v.ApplicationID), v.EventType, v.IPAddress, v.Country,
				formatTime(v.Timestamp), boolInt(v.Success), meta); err != nil {
				return err
			}
			c.Events++
		}
		for _, v := range f.Profiles {
			if err := tx.PutProfile(ctx, model.Profile{ID: v.ID, TenantID: tenantID, Role: v.Role, FullName: v.FullName}); err != nil {
				return err
			}
			c.Profiles++
		}
		return nil
	})
	if err != nil {
		return FactCounts{}, err
	}
	return c, nil
}

// upsert runs a tenant-guarded INSERT ... ON CONFLICT DO UPDATE ... WHERE.
// Zero affected rows means the id exists under a different tenant.
func (s *Store) upsert(ctx context.Context, kind, id, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("importing %s %s: %w", kind, id, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("importing %s %s: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("importing %s %s: %w: id belongs to another tenant", kind, id, ErrDuplicate)
	}
	return nil
}

// stamp defaults a missing timestamp to now.
func (s *Store) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

// Identities returns the tenant's identities ordered by id.
func (s *Store) Identities(ctx context.Context, tenantID string) ([]model.Identity, error) {
	rows, err := s.query(ctx, `SELECT id, tenant_id, type, name, email, privilege_level, is_privileged, created_at
		FROM identities WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying identities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Identity
	for rows.Next() {
		var (
			v          model.Identity
			typ        string
			email      sql.NullString
			privileged int
			created    string
		)
		if err := rows.Scan(&v.ID, &v.TenantID, &typ, &v.Name, &email, &v.PrivilegeLevel, &privileged, &created); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		v.Type = model.IdentityType(typ)
		v.Email = stringPtr(email)
		v.IsPrivileged = privileged != 0
		if v.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Applications returns the tenant's applications ordered by id.
func (s *Store) Applications(ctx context.Context, tenantID string) ([]model.Application, error) {
	rows, err := s.query(ctx, `SELECT id, tenant_id, name, category, created_at
		FROM applications WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying applications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Application
	for rows.Next() {
		var v model.Application
		var created string
		if err := rows.Scan(&v.ID, &v.TenantID, &v.Name, &v.Category, &created); err != nil {
			return nil, fmt.Errorf("scanning application: %w", err)
		}
		if v.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Entitlements returns the tenant's entitlements ordered by id.
func (s *Store) Entitlements(ctx context.Context, tenantID string) ([]model.Entitlement, error) {
	rows, err := s.query(ctx, `SELECT id, tenant_id, application_id, name, privilege_weight, created_at
		FROM entitlements WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying entitlements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Entitlement
	for rows.Next() {
		var v model.Entitlement
		var created string
		if err := rows.Scan(&v.ID, &v.TenantID, &v.ApplicationID, &v.Name, &v.PrivilegeWeight, &created); err != nil {
			return nil, fmt.Errorf("scanning entitlement: %w", err)
		}
		if v.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Grants returns the tenant's identity-entitlement grants ordered by id.
func (s *Store) Grants(ctx context.Context, tenantID string) ([]model.Grant, error) {
	rows, err := s.query(ctx, `SELECT id, tenant_id, identity_id, entitlement_id, granted_at, granted_by
		FROM identity_entitlements WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Grant
	for rows.Next() {
		var v model.Grant
		var granted string
		var by sql.NullString
		if err := rows.Scan(&v.ID, &v.TenantID, &v.IdentityID, &v.EntitlementID, &granted, &by); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		if v.GrantedAt, err = parseTime(granted); err != nil {
			return nil, err
		}
		v.GrantedBy = stringPtr(by)
		out = append(out, v)
	}
	return out, rows.Err()
}

// LoginEvents returns the tenant's successful login and interactive_login
// events in timestamp order. No detector looks at any other event.
func (s *Store) LoginEvents(ctx context.Context, tenantID string) ([]model.AccessEvent, error) {
	rows, err := s.query(ctx, `SELECT id, tenant_id, identity_id, application_id, event_type, ip_address, country, ts, success, metadata
		FROM access_events
		WHERE tenant_id = ? AND success = 1 AND event_type IN ('login', 'interactive_login')
		ORDER BY ts, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying access events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.AccessEvent
	for rows.Next() {
		var (
			v       model.AccessEvent
			app     sql.NullString
			ts      string
			success int
			meta    sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.TenantID, &v.IdentityID, &app, &v.EventType, &v.IPAddress, &v.Country, &ts, &success, &meta); err != nil {
			return nil, fmt.Errorf("scanning access event: %w", err)
		}
		v.ApplicationID = stringPtr(app)
		v.Success = success != 0
		if v.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if v.Metadata, err = unmarshalMap(meta); err != nil {
			return nil, fmt.Errorf("decoding event %s metadata: %w", v.ID, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func marshalMap(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// IdentityByID returns nil, nil when the identity is not in the tenant.
func (s *Store) IdentityByID(ctx context.Context, tenantID, id string) (*model.Identity, error) {
	var (
		v          model.Identity
		typ        string
		email      sql.NullString
		privileged int
		created    string
	)
	err := s.queryRow(ctx, `SELECT id, tenant_id, type, name, email, privilege_level, is_privileged, created_at
		FROM identities WHERE tenant_id = ? AND id = ?`, tenantID, id).
		Scan(&v.ID, &v.TenantID, &typ, &v.Name, &email, &v.PrivilegeLevel, &privileged, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading identity %s: %w", id, err)
	}
	v.Type = model.IdentityType(typ)
	v.Email = stringPtr(email)
	v.IsPrivileged = privileged != 0
	if v.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &v, nil
}

// ApplicationByID returns nil, nil when the application is not in the
// tenant.
func (s *Store) ApplicationByID(ctx context.Context, tenantID, id string) (*model.Application, error) {
	var v model.Application
	var created string
	err := s.queryRow(ctx, `SELECT id, tenant_id, name, category, created_at FROM applications WHERE tenant_id = ? AND id = ?`,
		tenantID, id).Scan(&v.ID, &v.TenantID, &v.Name, &v.Category, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading application %s: %w", id, err)
	}
	if v.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &v, nil
}
