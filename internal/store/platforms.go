package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ActivePlatforms returns every active platform with its entity, domain, and
// focal point roster preloaded, ordered by id.
func (s *Store) ActivePlatforms() ([]PlatformInfo, error) {
	rows, err := s.db.Query(`
		SELECT p.id, p.url, p.entity_id, p.domain_id, p.is_active, p.screenshot_path,
		       e.name, e.description,
		       d.name, d.last_scan_at, d.last_ssl_scan_at, d.ssl_issue, d.domain_issue, d.resolved_ip
		FROM platforms p
		JOIN entities e ON e.id = p.entity_id
		JOIN domains d ON d.id = p.domain_id
		WHERE p.is_active = 1
		ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("querying platforms: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only query

	var out []PlatformInfo
	for rows.Next() {
		var p PlatformInfo
		var lastScan, lastSSL sql.NullTime
		if err := rows.Scan(&p.ID, &p.URL, &p.EntityID, &p.DomainID, &p.IsActive, &p.ScreenshotPath,
			&p.Entity.Name, &p.Entity.Description,
			&p.Domain.Name, &lastScan, &lastSSL, &p.Domain.SSLIssue, &p.Domain.DomainIssue, &p.Domain.ResolvedIP); err != nil {
			return nil, fmt.Errorf("scanning platform: %w", err)
		}
		p.Entity.ID = p.EntityID
		p.Domain.ID = p.DomainID
		p.Domain.LastScanAt = scanTime(lastScan)
		p.Domain.LastSSLScanAt = scanTime(lastSSL)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		fps, err := s.focalPointsForEntity(out[i].EntityID)
		if err != nil {
			return nil, err
		}
		out[i].FocalPoints = fps
	}
	return out, nil
}

func (s *Store) focalPointsForEntity(entityID int64) ([]FocalPoint, error) {
	rows, err := s.db.Query(`
		SELECT f.id, f.full_name, f.email, f.phone, f.is_active
		FROM focal_points f
		JOIN entity_focal_points ef ON ef.focal_point_id = f.id
		WHERE ef.entity_id = ?
		ORDER BY f.id`, entityID)
	if err != nil {
		return nil, fmt.Errorf("querying focal points: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only query

	var fps []FocalPoint
	for rows.Next() {
		var fp FocalPoint
		if err := rows.Scan(&fp.ID, &fp.FullName, &fp.Email, &fp.Phone, &fp.IsActive); err != nil {
			return nil, fmt.Errorf("scanning focal point: %w", err)
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

// EnsureDomain returns the domain row for name, creating it if absent.
// Platforms referencing a new host get their domain row lazily this way.
func (s *Store) EnsureDomain(name string) (*Domain, error) {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO domains (name) VALUES (?)`, name); err != nil {
		return nil, fmt.Errorf("inserting domain: %w", err)
	}
	var d Domain
	var lastScan, lastSSL sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, name, last_scan_at, last_ssl_scan_at, ssl_issue, domain_issue, resolved_ip
		FROM domains WHERE name = ?`, name).
		Scan(&d.ID, &d.Name, &lastScan, &lastSSL, &d.SSLIssue, &d.DomainIssue, &d.ResolvedIP)
	if err != nil {
		return nil, fmt.Errorf("querying domain: %w", err)
	}
	d.LastScanAt = scanTime(lastScan)
	d.LastSSLScanAt = scanTime(lastSSL)
	return &d, nil
}

// TouchDomainScan records the outcome of a domain probe.
func (s *Store) TouchDomainScan(domainID int64, at time.Time, issue bool, resolvedIP string) error {
	_, err := s.db.Exec(`
		UPDATE domains SET last_scan_at = ?, domain_issue = ?, resolved_ip = ?
		WHERE id = ?`, nullableTime(at), issue, resolvedIP, domainID)
	if err != nil {
		return fmt.Errorf("updating domain scan state: %w", err)
	}
	return nil
}

// TouchDomainSSLScan records the outcome of a TLS probe.
func (s *Store) TouchDomainSSLScan(domainID int64, at time.Time, issue bool) error {
	_, err := s.db.Exec(`
		UPDATE domains SET last_ssl_scan_at = ?, ssl_issue = ?
		WHERE id = ?`, nullableTime(at), issue, domainID)
	if err != nil {
		return fmt.Errorf("updating domain ssl state: %w", err)
	}
	return nil
}

// SetScreenshot records the screenshot file path for a platform.
func (s *Store) SetScreenshot(platformID int64, path string) error {
	if _, err := s.db.Exec(`UPDATE platforms SET screenshot_path = ? WHERE id = ?`, path, platformID); err != nil {
		return fmt.Errorf("updating screenshot path: %w", err)
	}
	return nil
}

// ClearScreenshot removes the screenshot path for a platform.
func (s *Store) ClearScreenshot(platformID int64) error {
	return s.SetScreenshot(platformID, "")
}

// AddPlatform registers a platform under an entity, creating the entity and
// domain rows as needed. Used by seeding and tests; the CRUD surface owns
// these rows in production.
func (s *Store) AddPlatform(entityName, rawURL, host string) (*PlatformInfo, error) {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO entities (name) VALUES (?)`, entityName); err != nil {
		return nil, fmt.Errorf("inserting entity: %w", err)
	}
	var entityID int64
	if err := s.db.QueryRow(`SELECT id FROM entities WHERE name = ?`, entityName).Scan(&entityID); err != nil {
		return nil, fmt.Errorf("querying entity: %w", err)
	}

	dom, err := s.EnsureDomain(host)
	if err != nil {
		return nil, err
	}

	res, err := s.db.Exec(`
		INSERT INTO platforms (url, entity_id, domain_id, is_active) VALUES (?, ?, ?, 1)`,
		rawURL, entityID, dom.ID)
	if err != nil {
		return nil, fmt.Errorf("inserting platform: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting platform id: %w", err)
	}

	return &PlatformInfo{
		Platform: Platform{ID: id, URL: rawURL, EntityID: entityID, DomainID: dom.ID, IsActive: true},
		Entity:   Entity{ID: entityID, Name: entityName},
		Domain:   *dom,
	}, nil
}

// AddFocalPoint attaches a contact to an entity.
func (s *Store) AddFocalPoint(entityID int64, fullName, email string) error {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO focal_points (full_name, email) VALUES (?, ?)`, fullName, email); err != nil {
		return fmt.Errorf("inserting focal point: %w", err)
	}
	var fpID int64
	if err := s.db.QueryRow(`SELECT id FROM focal_points WHERE email = ?`, email).Scan(&fpID); err != nil {
		return fmt.Errorf("querying focal point: %w", err)
	}
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO entity_focal_points (entity_id, focal_point_id) VALUES (?, ?)`,
		entityID, fpID); err != nil {
		return fmt.Errorf("linking focal point: %w", err)
	}
	return nil
}

// PlatformByURL looks up a single platform with its joins.
func (s *Store) PlatformByURL(rawURL string) (*PlatformInfo, error) {
	all, err := s.ActivePlatforms()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].URL == rawURL {
			return &all[i], nil
		}
	}
	return nil, ErrNotFound
}
