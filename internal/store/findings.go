package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/accesslens/accesslens/internal/findings"
	"github.com/accesslens/accesslens/internal/model"
	"github.com/accesslens/accesslens/internal/risk"
)

var _ findings.Deps = (*Store)(nil)

const findingColumns = `id, tenant_id, identity_id, application_id, finding_type, severity, score, status,
	assigned_to, priority, due_at, disposition, confidence, explanation, evidence, created_at, updated_at`

// replaceableStatuses are wiped by ReplaceFindings. Everything an analyst
// has escalated or closed survives a recompute.
var replaceableStatuses = []model.Status{model.StatusOpen, model.StatusReviewed, model.StatusInReview}

// ListFilter narrows ListFindings. Zero values match everything.
type ListFilter struct {
	TenantID    string
	Status      model.Status
	Severity    model.Severity
	FindingType model.FindingType
	IdentityID  string
	AssignedTo  string
	Limit       int
}

// GetFindingByID returns nil, nil when the finding does not exist in the
// tenant.
func (s *Store) GetFindingByID(ctx context.Context, tenantID, findingID string) (*model.Finding, error) {
	row := s.queryRow(ctx, `SELECT `+findingColumns+` FROM findings WHERE tenant_id = ? AND id = ?`, tenantID, findingID)
	f, err := scanFinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading finding %s: %w", findingID, err)
	}
	return f, nil
}

// UpdateFindingByID writes the set fields of patch and bumps updated_at.
// When patch.UnmodifiedSince is set the write only lands if the row still
// carries that timestamp; otherwise ErrConflict is returned.
func (s *Store) UpdateFindingByID(ctx context.Context, tenantID, findingID string, patch findings.Patch) (*model.Finding, error) {
	var (
		sets []string
		args []any
	)
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.AssignedTo.Set {
		sets = append(sets, "assigned_to = ?")
		args = append(args, nullString(patch.AssignedTo.Ptr()))
	}
	if patch.Priority.Set {
		sets = append(sets, "priority = ?")
		args = append(args, nullEnum(patch.Priority.Ptr()))
	}
	if patch.DueAt.Set {
		sets = append(sets, "due_at = ?")
		args = append(args, nullString(patch.DueAt.Ptr()))
	}
	if patch.Disposition.Set {
		sets = append(sets, "disposition = ?")
		args = append(args, nullEnum(patch.Disposition.Ptr()))
	}

	now := s.now()
	if !patch.UnmodifiedSince.IsZero() && !now.After(patch.UnmodifiedSince) {
		now = patch.UnmodifiedSince.Add(time.Microsecond)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(now))

	query := `UPDATE findings SET ` + strings.Join(sets, ", ") + ` WHERE tenant_id = ? AND id = ?`
	args = append(args, tenantID, findingID)
	if !patch.UnmodifiedSince.IsZero() {
		query += ` AND updated_at = ?`
		args = append(args, formatTime(patch.UnmodifiedSince))
	}

	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("updating finding %s: %w", findingID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("updating finding %s: %w", findingID, err)
	}

	current, err := s.GetFindingByID(ctx, tenantID, findingID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("finding %s: %w", findingID, ErrNotFound)
	}
	if n == 0 {
		return nil, fmt.Errorf("finding %s: %w", findingID, ErrConflict)
	}
	return current, nil
}

// SetExplanation stores generated prose for a finding.
func (s *Store) SetExplanation(ctx context.Context, tenantID, findingID, text string, confidence float64) error {
	res, err := s.exec(ctx, `UPDATE findings SET explanation = ?, confidence = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		text, confidence, formatTime(s.now()), tenantID, findingID)
	if err != nil {
		return fmt.Errorf("storing explanation for %s: %w", findingID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finding %s: %w", findingID, ErrNotFound)
	}
	return nil
}

// ListFindings returns findings ordered by score, newest first on ties.
// Filtering on in_review also matches the legacy reviewed status.
func (s *Store) ListFindings(ctx context.Context, f ListFilter) ([]model.Finding, error) {
	query := `SELECT ` + findingColumns + ` FROM findings WHERE tenant_id = ?`
	args := []any{f.TenantID}

	if f.Status != "" {
		if f.Status.Normalize() == model.StatusInReview {
			query += ` AND status IN (?, ?)`
			args = append(args, string(model.StatusInReview), string(model.StatusReviewed))
		} else {
			query += ` AND status = ?`
			args = append(args, string(f.Status))
		}
	}
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(f.Severity))
	}
	if f.FindingType != "" {
		query += ` AND finding_type = ?`
		args = append(args, string(f.FindingType))
	}
	if f.IdentityID != "" {
		query += ` AND identity_id = ?`
		args = append(args, f.IdentityID)
	}
	if f.AssignedTo != "" {
		query += ` AND assigned_to = ?`
		args = append(args, f.AssignedTo)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY score DESC, created_at DESC, id LIMIT %d`, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Finding
	for rows.Next() {
		fd, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning finding: %w", err)
		}
		out = append(out, *fd)
	}
	return out, rows.Err()
}

// ReplaceFindings deletes the tenant's open and in-review findings of
// known types and inserts candidates as fresh open findings, in one
// transaction. It returns the number inserted.
func (s *Store) ReplaceFindings(ctx context.Context, tenantID string, candidates []risk.Candidate) (int, error) {
	inserted := 0
	err := s.WithTx(ctx, func(tx *Store) error {
		del := `DELETE FROM findings WHERE tenant_id = ? AND status IN (` + placeholders(len(replaceableStatuses)) +
			`) AND finding_type IN (` + placeholders(len(model.AllFindingTypes)) + `)`
		args := []any{tenantID}
		for _, st := range replaceableStatuses {
			args = append(args, string(st))
		}
		for _, ft := range model.AllFindingTypes {
			args = append(args, string(ft))
		}
		if _, err := tx.exec(ctx, del, args...); err != nil {
			return fmt.Errorf("deleting stale findings: %w", err)
		}

		now := formatTime(tx.now())
		for _, c := range candidates {
			evidence, err := c.Evidence.MarshalJSON()
			if err != nil {
				return fmt.Errorf("encoding evidence: %w", err)
			}
			_, err = tx.exec(ctx, `INSERT INTO findings (id, tenant_id, identity_id, application_id, finding_type, severity, score,
				status, explanation, evidence, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
				tx.newID(), tenantID, c.IdentityID, nullString(c.ApplicationID), string(c.FindingType), string(c.Severity),
				c.Score, string(model.StatusOpen), string(evidence), now, now)
			if err != nil {
				return fmt.Errorf("inserting finding: %w", classify(err))
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ApplyFindingAction runs the action state machine with the store as its
// collaborator inside one transaction, so the patch and its audit row
// land together or not at all.
func (s *Store) ApplyFindingAction(ctx context.Context, in findings.ActionInput) (*findings.ActionResult, error) {
	var res *findings.ActionResult
	err := s.WithTx(ctx, func(tx *Store) error {
		r, err := findings.ApplyAction(ctx, tx, in)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFinding(sc scanner) (*model.Finding, error) {
	var (
		f                                    model.Finding
		app, assigned, prio, due, disp, expl sql.NullString
		conf                                 sql.NullFloat64
		ftype, sev, status, evidence         string
		created, updated                     string
	)
	if err := sc.Scan(&f.ID, &f.TenantID, &f.IdentityID, &app, &ftype, &sev, &f.Score, &status,
		&assigned, &prio, &due, &disp, &conf, &expl, &evidence, &created, &updated); err != nil {
		return nil, err
	}
	f.ApplicationID = stringPtr(app)
	f.FindingType = model.FindingType(ftype)
	f.Severity = model.Severity(sev)
	f.Status = model.Status(status)
	f.AssignedTo = stringPtr(assigned)
	if prio.Valid {
		p := model.Priority(prio.String)
		f.Priority = &p
	}
	f.DueAt = stringPtr(due)
	if disp.Valid {
		d := model.Disposition(disp.String)
		f.Disposition = &d
	}
	if conf.Valid {
		c := conf.Float64
		f.Confidence = &c
	}
	f.Explanation = stringPtr(expl)
	if err := f.Evidence.UnmarshalJSON([]byte(evidence)); err != nil {
		return nil, fmt.Errorf("decoding evidence: %w", err)
	}
	var err error
	if f.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if f.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &f, nil
}

func nullEnum[T ~string](p *T) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
