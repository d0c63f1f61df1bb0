package store

import (
	"testing"
	"time"
)

func TestUpsertTaskReplacesInterval(t *testing.T) {
	st := openStore(t)

	if err := st.UpsertTask("monitor", time.Hour, true); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.UpsertTask("monitor", 30*time.Minute, false); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if err := st.UpsertTask("cleanup", 24*time.Hour, true); err != nil {
		t.Fatalf("upsert cleanup: %v", err)
	}

	tasks, err := st.Tasks()
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	// Ordered by name: cleanup before monitor.
	if tasks[0].Name != "cleanup" || tasks[1].Name != "monitor" {
		t.Fatalf("unexpected order: %s, %s", tasks[0].Name, tasks[1].Name)
	}
	if tasks[1].Interval != 30*time.Minute {
		t.Errorf("monitor interval = %v, want 30m", tasks[1].Interval)
	}
	if tasks[1].Enabled {
		t.Error("second upsert should have disabled the task")
	}
}

func TestLeaseMutualExclusion(t *testing.T) {
	st := openStore(t)
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	ttl := 6 * time.Hour

	ok, err := st.AcquireLease("monitor", "host-a", ttl, now)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatal("free lease should be acquired")
	}

	ok, err = st.AcquireLease("monitor", "host-b", ttl, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("acquire held: %v", err)
	}
	if ok {
		t.Error("live lease must not transfer to another holder")
	}

	// A crashed run of the same holder also waits for expiry.
	ok, err = st.AcquireLease("monitor", "host-a", ttl, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("re-acquire own lease: %v", err)
	}
	if ok {
		t.Error("live lease must not renew before expiry")
	}

	ok, err = st.AcquireLease("monitor", "host-b", ttl, now.Add(ttl))
	if err != nil {
		t.Fatalf("acquire expired: %v", err)
	}
	if !ok {
		t.Error("expired lease should be taken over")
	}
}

func TestReleaseLeaseChecksHolder(t *testing.T) {
	st := openStore(t)
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	ttl := 6 * time.Hour

	if _, err := st.AcquireLease("monitor", "host-a", ttl, now); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Releasing someone else's lease is a no-op.
	if err := st.ReleaseLease("monitor", "host-b"); err != nil {
		t.Fatalf("release foreign: %v", err)
	}
	ok, err := st.AcquireLease("monitor", "host-c", ttl, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("acquire after foreign release: %v", err)
	}
	if ok {
		t.Error("foreign release must not free the lease")
	}

	if err := st.ReleaseLease("monitor", "host-a"); err != nil {
		t.Fatalf("release own: %v", err)
	}
	ok, err = st.AcquireLease("monitor", "host-c", ttl, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if !ok {
		t.Error("released lease should be free")
	}
}

func TestPruneExpiredLeases(t *testing.T) {
	st := openStore(t)
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	if _, err := st.AcquireLease("monitor", "host-a", time.Hour, now); err != nil {
		t.Fatalf("acquire short: %v", err)
	}
	if _, err := st.AcquireLease("vt_scan", "host-a", 10*time.Hour, now); err != nil {
		t.Fatalf("acquire long: %v", err)
	}

	n, err := st.PruneExpiredLeases(now.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d leases, want 1", n)
	}

	ok, err := st.AcquireLease("vt_scan", "host-b", time.Hour, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("acquire surviving: %v", err)
	}
	if ok {
		t.Error("live lease should survive the prune")
	}
}

func TestPruneEmailLog(t *testing.T) {
	st := openStore(t)
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	if err := st.LogEmail("old digest", "a@acme.example", "sent", "", now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("log old: %v", err)
	}
	if err := st.LogEmail("new alert", "a@acme.example", "failed", "connection refused", now); err != nil {
		t.Fatalf("log new: %v", err)
	}

	n, err := st.PruneEmailLog(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}

	n, err = st.PruneEmailLog(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("second prune: %v", err)
	}
	if n != 0 {
		t.Errorf("second prune removed %d rows, want 0", n)
	}
}
