package store

import (
	"fmt"
	"time"
)

// Tasks returns the persisted schedule registry.
func (s *Store) Tasks() ([]Task, error) {
	rows, err := s.db.Query(`SELECT name, interval_s, enabled FROM schedule ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying schedule: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only query

	var tasks []Task
	for rows.Next() {
		var t Task
		var seconds int64
		if err := rows.Scan(&t.Name, &seconds, &t.Enabled); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		t.Interval = time.Duration(seconds) * time.Second
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpsertTask replaces a task's interval and enabled state atomically.
// Configuration saves call this so the next tick uses the new interval.
func (s *Store) UpsertTask(name string, interval time.Duration, enabled bool) error {
	_, err := s.db.Exec(`
		INSERT INTO schedule (name, interval_s, enabled) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET interval_s = excluded.interval_s, enabled = excluded.enabled`,
		name, int64(interval/time.Second), enabled)
	if err != nil {
		return fmt.Errorf("upserting task: %w", err)
	}
	return nil
}

// AcquireLease takes the named mutex for ttl. It succeeds when the lease is
// free or expired; a live lease held by someone else (or a previous crashed
// run of ourselves) makes it return false.
func (s *Store) AcquireLease(name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	expires := now.Add(ttl)
	res, err := s.db.Exec(`
		INSERT INTO leases (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE leases.expires_at <= ?`,
		name, holder, expires, now)
	if err != nil {
		return false, fmt.Errorf("acquiring lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking lease: %w", err)
	}
	return n > 0, nil
}

// ReleaseLease frees the named mutex if we still hold it.
func (s *Store) ReleaseLease(name, holder string) error {
	if _, err := s.db.Exec(`DELETE FROM leases WHERE name = ? AND holder = ?`, name, holder); err != nil {
		return fmt.Errorf("releasing lease: %w", err)
	}
	return nil
}

// LogEmail records a delivery attempt in the email log.
func (s *Store) LogEmail(subject, recipients, status, errMsg string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO email_log (subject, recipients, status, error, created_at)
		VALUES (?, ?, ?, ?, ?)`, subject, recipients, status, errMsg, at)
	if err != nil {
		return fmt.Errorf("logging email: %w", err)
	}
	return nil
}

// PruneEmailLog deletes delivery records older than cutoff and returns the
// number of rows removed.
func (s *Store) PruneEmailLog(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM email_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning email log: %w", err)
	}
	return res.RowsAffected()
}

// PruneExpiredLeases drops leases whose TTL has lapsed so crashed holders do
// not accumulate rows.
func (s *Store) PruneExpiredLeases(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM leases WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("pruning leases: %w", err)
	}
	return res.RowsAffected()
}
