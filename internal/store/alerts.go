package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const alertColumns = `id, entity_id, platform_id, kind, status, details, template, created_at, updated_at`

func scanAlert(row interface{ Scan(...any) error }) (*Alert, error) {
	var a Alert
	if err := row.Scan(&a.ID, &a.EntityID, &a.PlatformID, &a.Kind, &a.Status,
		&a.Details, &a.Template, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// ActiveAlert returns the most recent non-terminal alert for the
// (platform, kind) key, or nil when none is open.
func (s *Store) ActiveAlert(platformID int64, kind AlertKind) (*Alert, error) {
	row := s.db.QueryRow(`
		SELECT `+alertColumns+` FROM alerts
		WHERE platform_id = ? AND kind = ? AND status IN ('new', 'in_progress')
		ORDER BY created_at DESC LIMIT 1`, platformID, kind)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active alert: %w", err)
	}
	return a, nil
}

// ActiveAlertSince returns the most recent non-terminal alert for the key
// created at or after the cutoff, or nil. Used for the once-per-day guard on
// expiry threshold alerts.
func (s *Store) ActiveAlertSince(platformID int64, kind AlertKind, cutoff time.Time) (*Alert, error) {
	row := s.db.QueryRow(`
		SELECT `+alertColumns+` FROM alerts
		WHERE platform_id = ? AND kind = ? AND status IN ('new', 'in_progress') AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`, platformID, kind, cutoff)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active alert since: %w", err)
	}
	return a, nil
}

// CreateAlert inserts a new alert in status new. The insert is guarded by a
// conditional subquery so the at-most-one-active invariant holds even if two
// writers race on the same key; the caller learns whether the row was
// actually created.
func (s *Store) CreateAlert(a *Alert) (bool, error) {
	if a.Status == "" {
		a.Status = StatusNew
	}
	res, err := s.db.Exec(`
		INSERT INTO alerts (entity_id, platform_id, kind, status, details, template, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM alerts
			WHERE platform_id = ? AND kind = ? AND status IN ('new', 'in_progress')
		)`,
		a.EntityID, a.PlatformID, a.Kind, a.Status, a.Details, a.Template, a.CreatedAt, a.UpdatedAt,
		a.PlatformID, a.Kind)
	if err != nil {
		return false, fmt.Errorf("inserting alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking alert insert: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("getting alert id: %w", err)
	}
	a.ID = id
	return true, nil
}

// ResolveAlert marks the most recent active alert for the key resolved and
// returns it, or nil when nothing was open.
func (s *Store) ResolveAlert(platformID int64, kind AlertKind, at time.Time) (*Alert, error) {
	a, err := s.ActiveAlert(platformID, kind)
	if err != nil || a == nil {
		return nil, err
	}
	if _, err := s.db.Exec(`
		UPDATE alerts SET status = 'resolved', updated_at = ? WHERE id = ?`, at, a.ID); err != nil {
		return nil, fmt.Errorf("resolving alert: %w", err)
	}
	a.Status = StatusResolved
	a.UpdatedAt = at
	return a, nil
}

// SetAlertStatus applies an operator transition to any lifecycle status.
// The engine itself only creates and resolves.
func (s *Store) SetAlertStatus(alertID int64, status AlertStatus, at time.Time) error {
	res, err := s.db.Exec(`UPDATE alerts SET status = ?, updated_at = ? WHERE id = ?`, status, at, alertID)
	if err != nil {
		return fmt.Errorf("updating alert status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking alert update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveAlerts returns all non-terminal alerts joined with platform and
// entity, newest first.
func (s *Store) ActiveAlerts() ([]AlertView, error) {
	return s.queryAlertViews(`
		SELECT a.id, a.entity_id, a.platform_id, a.kind, a.status, a.details, a.template,
		       a.created_at, a.updated_at, p.url, e.name
		FROM alerts a
		JOIN platforms p ON p.id = a.platform_id
		JOIN entities e ON e.id = a.entity_id
		WHERE a.status IN ('new', 'in_progress')
		ORDER BY a.created_at DESC`)
}

// AlertsSince returns every alert created at or after the cutoff, any status.
func (s *Store) AlertsSince(cutoff time.Time) ([]AlertView, error) {
	return s.queryAlertViews(`
		SELECT a.id, a.entity_id, a.platform_id, a.kind, a.status, a.details, a.template,
		       a.created_at, a.updated_at, p.url, e.name
		FROM alerts a
		JOIN platforms p ON p.id = a.platform_id
		JOIN entities e ON e.id = a.entity_id
		WHERE a.created_at >= ?
		ORDER BY a.created_at DESC`, cutoff)
}

func (s *Store) queryAlertViews(query string, args ...any) ([]AlertView, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only query

	var out []AlertView
	for rows.Next() {
		var v AlertView
		if err := rows.Scan(&v.ID, &v.EntityID, &v.PlatformID, &v.Kind, &v.Status,
			&v.Details, &v.Template, &v.CreatedAt, &v.UpdatedAt, &v.PlatformURL, &v.EntityName); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
