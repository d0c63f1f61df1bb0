package store

import (
	"path/filepath"
	"strings"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "oju.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() }) //nolint:errcheck // test cleanup
	return st
}

func seedPlatform(t *testing.T, st *Store, entity, url, host string) *PlatformInfo {
	t.Helper()
	p, err := st.AddPlatform(entity, url, host)
	if err != nil {
		t.Fatalf("seed platform: %v", err)
	}
	return p
}

func TestOpenSeedsSingletonRows(t *testing.T) {
	st := openStore(t)

	scan, err := st.LoadScanConfig()
	if err != nil {
		t.Fatalf("load scan config: %v", err)
	}
	if !scan.SSLEnabled || !scan.DomainEnabled || !scan.DefacementEnabled || !scan.HTTPEnabled {
		t.Errorf("probes should default to enabled, got %+v", scan)
	}
	if scan.SizeTolerance != 1024 {
		t.Errorf("SizeTolerance = %d, want 1024", scan.SizeTolerance)
	}
	if scan.HTTPMaxResponseMS != 30000 {
		t.Errorf("HTTPMaxResponseMS = %d, want 30000", scan.HTTPMaxResponseMS)
	}
	if scan.VTEnabled {
		t.Error("reputation scans should default to disabled")
	}

	conf, err := st.LoadConfiguration()
	if err != nil {
		t.Fatalf("load configuration: %v", err)
	}
	if conf.ScanFrequencyS != 3600 {
		t.Errorf("ScanFrequencyS = %d, want 3600", conf.ScanFrequencyS)
	}
	if conf.MaxWorkers != 10 {
		t.Errorf("MaxWorkers = %d, want 10", conf.MaxWorkers)
	}
	if !conf.NotifyEnabled {
		t.Error("notifications should default to enabled")
	}
	if !strings.Contains(conf.UserAgent, "oju-monitor") {
		t.Errorf("UserAgent = %q, want the default scanner agent", conf.UserAgent)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oju.db")

	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := st.AddPlatform("Acme", "https://acme.example", "acme.example"); err != nil {
		t.Fatalf("seed platform: %v", err)
	}
	conf, err := st.LoadConfiguration()
	if err != nil {
		t.Fatalf("load configuration: %v", err)
	}
	conf.MaxWorkers = 5
	if err := st.SaveConfiguration(conf); err != nil {
		t.Fatalf("save configuration: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	st2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { st2.Close() }) //nolint:errcheck // test cleanup

	platforms, err := st2.ActivePlatforms()
	if err != nil {
		t.Fatalf("load platforms: %v", err)
	}
	if len(platforms) != 1 {
		t.Fatalf("expected 1 platform after reopen, got %d", len(platforms))
	}
	conf2, err := st2.LoadConfiguration()
	if err != nil {
		t.Fatalf("load configuration: %v", err)
	}
	if conf2.MaxWorkers != 5 {
		t.Errorf("migrations clobbered a saved setting: MaxWorkers = %d, want 5", conf2.MaxWorkers)
	}
}
