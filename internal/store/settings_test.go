package store

import "testing"

func TestScanConfigRoundTrip(t *testing.T) {
	st := openStore(t)

	c, err := st.LoadScanConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c.SSLEnabled = false
	c.SizeTolerance = 4096
	c.HTTPMaxResponseMS = 1500
	c.VTEnabled = true
	c.VTAPIKey = "test-key"
	if err := st.SaveScanConfig(c); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.LoadScanConfig()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.SSLEnabled {
		t.Error("SSLEnabled should persist as false")
	}
	if got.SizeTolerance != 4096 {
		t.Errorf("SizeTolerance = %d, want 4096", got.SizeTolerance)
	}
	if got.HTTPMaxResponseMS != 1500 {
		t.Errorf("HTTPMaxResponseMS = %d, want 1500", got.HTTPMaxResponseMS)
	}
	if !got.VTEnabled || got.VTAPIKey != "test-key" {
		t.Errorf("VT settings not persisted: %+v", got)
	}
}

func TestConfigurationRoundTrip(t *testing.T) {
	st := openStore(t)

	c, err := st.LoadConfiguration()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c.NotificationEmail = "soc@acme.example"
	c.NotifyEnabled = false
	c.UseProxy = true
	c.FallbackDirectOnProxyFail = false
	c.UserAgent = "custom-agent/1.0"
	c.ScanFrequencyS = 600
	c.MaxWorkers = 3
	if err := st.SaveConfiguration(c); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.LoadConfiguration()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got != c {
		t.Errorf("configuration round trip mismatch:\n got %+v\nwant %+v", got, c)
	}
}

func TestProxiesKeepConfiguredOrder(t *testing.T) {
	st := openStore(t)

	for _, u := range []string{"socks5://relay-1:1080", "socks5://relay-2:1080", "socks5://relay-1:1080"} {
		if err := st.AddProxy(u); err != nil {
			t.Fatalf("add proxy: %v", err)
		}
	}

	got, err := st.Proxies()
	if err != nil {
		t.Fatalf("proxies: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("duplicates should be ignored, got %v", got)
	}
	if got[0] != "socks5://relay-1:1080" || got[1] != "socks5://relay-2:1080" {
		t.Errorf("rotation order lost: %v", got)
	}
}

func TestDNSServersAndWhitelist(t *testing.T) {
	st := openStore(t)

	for i := 0; i < 2; i++ {
		if err := st.AddDNSServer("9.9.9.9:53"); err != nil {
			t.Fatalf("add dns server: %v", err)
		}
		if err := st.AddWhitelistHost("cdn.acme.example"); err != nil {
			t.Fatalf("add whitelist host: %v", err)
		}
	}

	servers, err := st.DNSServers()
	if err != nil {
		t.Fatalf("dns servers: %v", err)
	}
	if len(servers) != 1 || servers[0] != "9.9.9.9:53" {
		t.Errorf("dns servers = %v", servers)
	}

	hosts, err := st.WhitelistHosts()
	if err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if len(hosts) != 1 || hosts[0] != "cdn.acme.example" {
		t.Errorf("whitelist = %v", hosts)
	}
}
