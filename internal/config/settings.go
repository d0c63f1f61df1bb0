// Package config loads the service config file and caches the
// operator-tunable settings stored in the database.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/ojulabs/oju/internal/store"
)

// Settings is everything a monitoring run needs from the database, loaded as
// one consistent snapshot.
type Settings struct {
	Scan          store.ScanConfig
	Configuration store.Configuration
	Proxies       []string
	DNSServers    []string
	Whitelist     []string
}

// MaxWorkers clamps the configured worker count to the supported range.
func (s *Settings) MaxWorkers() int {
	w := s.Configuration.MaxWorkers
	if w < 5 {
		return 5
	}
	if w > 30 {
		return 30
	}
	return w
}

// SettingsService serves cached database settings with a TTL. Saving any of
// the underlying rows must be followed by Invalidate so the next run sees
// fresh values before the TTL lapses.
type SettingsService struct {
	store *store.Store
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	cached    *Settings
	fetchedAt time.Time
}

// NewSettingsService wraps the store with a TTL cache.
func NewSettingsService(st *store.Store, ttl time.Duration) *SettingsService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SettingsService{store: st, ttl: ttl, now: time.Now}
}

// Get returns the cached settings, refreshing from the store when the TTL
// has lapsed or nothing is cached yet.
func (s *SettingsService) Get() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		return s.cached, nil
	}

	fresh, err := s.load()
	if err != nil {
		// Serve stale settings over failing the whole run.
		if s.cached != nil {
			return s.cached, nil
		}
		return nil, err
	}
	s.cached = fresh
	s.fetchedAt = s.now()
	return s.cached, nil
}

// Invalidate drops the cache so the next Get reloads from the store.
func (s *SettingsService) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *SettingsService) load() (*Settings, error) {
	scan, err := s.store.LoadScanConfig()
	if err != nil {
		return nil, fmt.Errorf("loading scan config: %w", err)
	}
	conf, err := s.store.LoadConfiguration()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	proxies, err := s.store.Proxies()
	if err != nil {
		return nil, fmt.Errorf("loading proxies: %w", err)
	}
	dns, err := s.store.DNSServers()
	if err != nil {
		return nil, fmt.Errorf("loading dns servers: %w", err)
	}
	whitelist, err := s.store.WhitelistHosts()
	if err != nil {
		return nil, fmt.Errorf("loading whitelist: %w", err)
	}
	return &Settings{
		Scan:          scan,
		Configuration: conf,
		Proxies:       proxies,
		DNSServers:    dns,
		Whitelist:     whitelist,
	}, nil
}
