package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/accesslens/accesslens/internal/model"
)

// GetProfileByID returns nil, nil when the profile is not a member of the
// tenant.
func (s *Store) GetProfileByID(ctx context.Context, tenantID, profileID string) (*model.Profile, error) {
	var p model.Profile
	var role string
	err := s.queryRow(ctx, `SELECT id, tenant_id, role, full_name FROM profiles WHERE tenant_id = ? AND id = ?`,
		tenantID, profileID).Scan(&p.ID, &p.TenantID, &role, &p.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading profile %s: %w", profileID, err)
	}
	p.Role = model.Role(role)
	return &p, nil
}

// PutProfile creates or replaces a tenant member. A profile id owned by
// another tenant is rejected with ErrDuplicate.
func (s *Store) PutProfile(ctx context.Context, p model.Profile) error {
	return s.upsert(ctx, "profile", p.ID, `INSERT INTO profiles (id, tenant_id, role, full_name) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET role = excluded.role, full_name = excluded.full_name
		WHERE profiles.tenant_id = excluded.tenant_id`,
		p.ID, p.TenantID, string(p.Role), p.FullName)
}

// InsertReviewAction appends an audit row, assigning ID and CreatedAt
// when they are empty.
func (s *Store) InsertReviewAction(ctx context.Context, a model.ReviewAction) error {
	if a.ID == "" {
		a.ID = s.newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	meta := a.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding review action metadata: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO review_actions (id, tenant_id, finding_id, actor_user_id, action, note, prev_status, new_status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.FindingID, a.ActorUserID, string(a.Action), nullString(a.Note),
		nullEnum(a.PrevStatus), nullEnum(a.NewStatus), string(b), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting review action: %w", classify(err))
	}
	return nil
}

// ListReviewActions returns a finding's audit trail, oldest first.
func (s *Store) ListReviewActions(ctx context.Context, tenantID, findingID string) ([]model.ReviewAction, error) {
	rows, err := s.query(ctx, `SELECT id, tenant_id, finding_id, actor_user_id, action, note, prev_status, new_status, metadata, created_at
		FROM review_actions WHERE tenant_id = ? AND finding_id = ? ORDER BY created_at, id`, tenantID, findingID)
	if err != nil {
		return nil, fmt.Errorf("querying review actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ReviewAction
	for rows.Next() {
		var (
			a                model.ReviewAction
			action, meta, ts string
			note, prev, next sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.TenantID, &a.FindingID, &a.ActorUserID, &action, &note, &prev, &next, &meta, &ts); err != nil {
			return nil, fmt.Errorf("scanning review action: %w", err)
		}
		a.Action = model.ReviewActionKind(action)
		a.Note = stringPtr(note)
		if prev.Valid {
			st := model.Status(prev.String)
			a.PrevStatus = &st
		}
		if next.Valid {
			st := model.Status(next.String)
			a.NewStatus = &st
		}
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			return nil, fmt.Errorf("decoding review action %s metadata: %w", a.ID, err)
		}
		if a.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
