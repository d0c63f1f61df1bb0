package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetOrCreateDefacement returns the defacement record for a platform,
// creating it with the given capture as the baseline when absent. The
// returned flag reports whether the row was created by this call.
func (s *Store) GetOrCreateDefacement(platformID int64, capture []byte, treeText string, at time.Time) (*DefacementRecord, bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO defacements
			(platform_id, baseline_capture, last_capture, baseline_tree_text, last_tree_text, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		platformID, capture, capture, treeText, treeText, at)
	if err != nil {
		return nil, false, fmt.Errorf("inserting defacement record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking defacement insert: %w", err)
	}

	rec, err := s.defacementByPlatform(platformID)
	if err != nil {
		return nil, false, err
	}
	return rec, n > 0, nil
}

func (s *Store) defacementByPlatform(platformID int64) (*DefacementRecord, error) {
	var rec DefacementRecord
	err := s.db.QueryRow(`
		SELECT id, platform_id, baseline_capture, last_capture, baseline_tree_text,
		       last_tree_text, is_defaced, details, updated_at
		FROM defacements WHERE platform_id = ?`, platformID).
		Scan(&rec.ID, &rec.PlatformID, &rec.BaselineCapture, &rec.LastCapture,
			&rec.BaselineTreeText, &rec.LastTreeText, &rec.IsDefaced, &rec.Details, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying defacement record: %w", err)
	}
	return &rec, nil
}

// UpdateDefacementState records the latest compared capture. The baseline is
// never touched here; it advances only on creation or an explicit reset.
func (s *Store) UpdateDefacementState(platformID int64, lastCapture []byte, lastTreeText string, isDefaced bool, details string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE defacements
		SET last_capture = ?, last_tree_text = ?, is_defaced = ?, details = ?, updated_at = ?
		WHERE platform_id = ?`,
		lastCapture, lastTreeText, isDefaced, details, at, platformID)
	if err != nil {
		return fmt.Errorf("updating defacement record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking defacement update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetBaseline promotes the most recent capture to the trusted baseline and
// clears the defaced state. Operator action, exposed by the baseline command.
func (s *Store) ResetBaseline(platformID int64, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE defacements
		SET baseline_capture = last_capture, baseline_tree_text = last_tree_text,
		    is_defaced = 0, details = '', updated_at = ?
		WHERE platform_id = ?`, at, platformID)
	if err != nil {
		return fmt.Errorf("resetting baseline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking baseline reset: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Defacement returns the record for a platform, or nil when none exists yet.
func (s *Store) Defacement(platformID int64) (*DefacementRecord, error) {
	rec, err := s.defacementByPlatform(platformID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
