package notify

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ojulabs/oju/internal/store"
)

func digestPlatform(entityID int64, entity, url string) *store.PlatformInfo {
	return &store.PlatformInfo{
		Platform: store.Platform{URL: url, EntityID: entityID},
		Entity:   store.Entity{ID: entityID, Name: entity},
		FocalPoints: []store.FocalPoint{
			{FullName: "Alice", Email: "alice@" + entity + ".example", IsActive: true},
			{FullName: "Mallory", Email: "mallory@" + entity + ".example", IsActive: false},
		},
	}
}

func TestDigestSubjectThresholds(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		affected int
		want     string
	}{
		{"clean", 10, 0, "Oju Monitoring - 0 sites with issues (0.0%)"},
		{"below important", 10, 2, "Oju Monitoring - 2 sites with issues (20.0%)"},
		{"important at quarter", 8, 2, "[IMPORTANT] Oju Monitoring - 2 sites with issues (25.0%)"},
		{"important below half", 10, 4, "[IMPORTANT] Oju Monitoring - 4 sites with issues (40.0%)"},
		{"urgent at half", 10, 5, "[URGENT] Oju Monitoring - 5 sites with issues (50.0%)"},
		{"urgent full fleet", 3, 3, "[URGENT] Oju Monitoring - 3 sites with issues (100.0%)"},
		{"empty fleet", 0, 0, "Oju Monitoring - 0 sites with issues (0.0%)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDigest(tt.total)
			for i := 0; i < tt.affected; i++ {
				d.Add(digestPlatform(int64(i+1), "ent", fmt.Sprintf("https://site%d.example", i)), store.KindSSL)
			}
			if got := d.Subject(); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDigestAddDeduplicates(t *testing.T) {
	d := NewDigest(5)
	p := digestPlatform(1, "acme", "https://acme.example")

	d.Add(p, store.KindSSL)
	d.Add(p, store.KindSSL)
	d.Add(p, store.KindAvailability)

	if got := d.Affected(); got != 1 {
		t.Errorf("Affected() = %d, want 1 (same platform)", got)
	}

	sections := d.Sections()
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}
	for _, sec := range sections {
		if sec.Count != 1 {
			t.Errorf("section %q count = %d, want 1", sec.Title, sec.Count)
		}
	}
}

func TestDigestSectionsOrderedAndGrouped(t *testing.T) {
	d := NewDigest(10)
	d.Add(digestPlatform(2, "beta", "https://beta.example"), store.KindDefacement)
	d.Add(digestPlatform(1, "acme", "https://acme.example"), store.KindSSL)
	d.Add(digestPlatform(1, "acme", "https://shop.acme.example"), store.KindSSL)

	sections := d.Sections()
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}
	// SSL sorts before defacement regardless of insertion order.
	if sections[0].Title != "SSL Certificates issues" {
		t.Errorf("first section = %q, want SSL", sections[0].Title)
	}
	if sections[0].Color != "#e53935" {
		t.Errorf("ssl color = %q", sections[0].Color)
	}
	if sections[0].Count != 2 {
		t.Errorf("ssl count = %d, want 2", sections[0].Count)
	}
	if len(sections[0].Entities) != 1 || sections[0].Entities[0].Name != "acme" {
		t.Fatalf("ssl entities = %+v", sections[0].Entities)
	}
	if len(sections[0].Entities[0].Platforms) != 2 {
		t.Errorf("acme platforms = %v", sections[0].Entities[0].Platforms)
	}

	if sections[1].Title != "Defacement issues" || sections[1].Color != "#d32f2f" {
		t.Errorf("second section = %q (%s)", sections[1].Title, sections[1].Color)
	}

	// Only active focal points ride along.
	fps := sections[0].Entities[0].FocalPoints
	if len(fps) != 1 || fps[0].FullName != "Alice" {
		t.Errorf("focal points = %+v, want active Alice only", fps)
	}
}

func TestRenderDigest(t *testing.T) {
	d := NewDigest(4)
	d.Add(digestPlatform(1, "acme", "https://acme.example"), store.KindAvailability)

	body, err := renderDigest(d, testTime())
	if err != nil {
		t.Fatalf("renderDigest: %v", err)
	}
	for _, want := range []string{
		"Website availability issues",
		"https://acme.example",
		"acme",
		"Alice",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("digest body missing %q", want)
		}
	}
}
