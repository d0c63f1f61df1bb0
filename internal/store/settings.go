package store

import "fmt"

// LoadScanConfig reads the single scan_config row.
func (s *Store) LoadScanConfig() (ScanConfig, error) {
	var c ScanConfig
	err := s.db.QueryRow(`
		SELECT ssl_enabled, domain_enabled, defacement_enabled, http_enabled,
		       ssl_check_error, ssl_check_expiry,
		       domain_check_whois, domain_check_dns, domain_check_expiry,
		       size_tolerance, http_max_response_ms,
		       vt_enabled, vt_api_key, vt_frequency_s
		FROM scan_config WHERE id = 1`).
		Scan(&c.SSLEnabled, &c.DomainEnabled, &c.DefacementEnabled, &c.HTTPEnabled,
			&c.SSLCheckError, &c.SSLCheckExpiry,
			&c.DomainCheckWhois, &c.DomainCheckDNS, &c.DomainCheckExpiry,
			&c.SizeTolerance, &c.HTTPMaxResponseMS,
			&c.VTEnabled, &c.VTAPIKey, &c.VTFrequencyS)
	if err != nil {
		return c, fmt.Errorf("loading scan config: %w", err)
	}
	return c, nil
}

// SaveScanConfig replaces the scan_config row.
func (s *Store) SaveScanConfig(c ScanConfig) error {
	_, err := s.db.Exec(`
		UPDATE scan_config SET
			ssl_enabled = ?, domain_enabled = ?, defacement_enabled = ?, http_enabled = ?,
			ssl_check_error = ?, ssl_check_expiry = ?,
			domain_check_whois = ?, domain_check_dns = ?, domain_check_expiry = ?,
			size_tolerance = ?, http_max_response_ms = ?,
			vt_enabled = ?, vt_api_key = ?, vt_frequency_s = ?
		WHERE id = 1`,
		c.SSLEnabled, c.DomainEnabled, c.DefacementEnabled, c.HTTPEnabled,
		c.SSLCheckError, c.SSLCheckExpiry,
		c.DomainCheckWhois, c.DomainCheckDNS, c.DomainCheckExpiry,
		c.SizeTolerance, c.HTTPMaxResponseMS,
		c.VTEnabled, c.VTAPIKey, c.VTFrequencyS)
	if err != nil {
		return fmt.Errorf("saving scan config: %w", err)
	}
	return nil
}

// LoadConfiguration reads the single configuration row.
func (s *Store) LoadConfiguration() (Configuration, error) {
	var c Configuration
	err := s.db.QueryRow(`
		SELECT notification_email, notify_enabled, use_proxy, fallback_direct,
		       user_agent, scan_frequency_s, max_workers
		FROM configuration WHERE id = 1`).
		Scan(&c.NotificationEmail, &c.NotifyEnabled, &c.UseProxy, &c.FallbackDirectOnProxyFail,
			&c.UserAgent, &c.ScanFrequencyS, &c.MaxWorkers)
	if err != nil {
		return c, fmt.Errorf("loading configuration: %w", err)
	}
	return c, nil
}

// SaveConfiguration replaces the configuration row.
func (s *Store) SaveConfiguration(c Configuration) error {
	_, err := s.db.Exec(`
		UPDATE configuration SET
			notification_email = ?, notify_enabled = ?, use_proxy = ?, fallback_direct = ?,
			user_agent = ?, scan_frequency_s = ?, max_workers = ?
		WHERE id = 1`,
		c.NotificationEmail, c.NotifyEnabled, c.UseProxy, c.FallbackDirectOnProxyFail,
		c.UserAgent, c.ScanFrequencyS, c.MaxWorkers)
	if err != nil {
		return fmt.Errorf("saving configuration: %w", err)
	}
	return nil
}

// Proxies returns the proxy URLs in configured order.
func (s *Store) Proxies() ([]string, error) {
	return s.stringColumn(`SELECT url FROM proxies ORDER BY position, id`)
}

// DNSServers returns the configured resolver addresses.
func (s *Store) DNSServers() ([]string, error) {
	return s.stringColumn(`SELECT address FROM dns_servers ORDER BY id`)
}

// WhitelistHosts returns the hosts exempt from defacement reporting.
func (s *Store) WhitelistHosts() ([]string, error) {
	return s.stringColumn(`SELECT host FROM whitelist_hosts ORDER BY id`)
}

func (s *Store) stringColumn(query string) ([]string, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only query

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// AddProxy appends a proxy URL at the end of the rotation order.
func (s *Store) AddProxy(url string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO proxies (url, position)
		VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM proxies))`, url)
	if err != nil {
		return fmt.Errorf("adding proxy: %w", err)
	}
	return nil
}

// AddDNSServer registers a resolver address.
func (s *Store) AddDNSServer(address string) error {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO dns_servers (address) VALUES (?)`, address); err != nil {
		return fmt.Errorf("adding dns server: %w", err)
	}
	return nil
}

// AddWhitelistHost exempts a host from defacement reporting.
func (s *Store) AddWhitelistHost(host string) error {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO whitelist_hosts (host) VALUES (?)`, host); err != nil {
		return fmt.Errorf("adding whitelist host: %w", err)
	}
	return nil
}
