package notify

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ojulabs/oju/internal/store"
)

// digestKinds fixes the section order of the run summary. VirusTotal alerts
// come from their own scan cycle and are excluded.
var digestKinds = []store.AlertKind{
	store.KindSSL,
	store.KindSSLExpiring,
	store.KindDomainUnavailable,
	store.KindDomainExpiring,
	store.KindAvailability,
	store.KindDefacement,
}

var digestTitles = map[store.AlertKind]string{
	store.KindSSL:               "SSL Certificates issues",
	store.KindSSLExpiring:       "SSL Certificates expiring soon",
	store.KindDomainUnavailable: "Domains unavailable",
	store.KindDomainExpiring:    "Domains expiring soon",
	store.KindAvailability:      "Website availability issues",
	store.KindDefacement:        "Defacement issues",
}

var digestColors = map[store.AlertKind]string{
	store.KindSSL:               "#e53935",
	store.KindSSLExpiring:       "#fb8c00",
	store.KindDomainUnavailable: "#e53935",
	store.KindDomainExpiring:    "#fb8c00",
	store.KindAvailability:      "#e53935",
	store.KindDefacement:        "#d32f2f",
}

// Digest accumulates the issues a monitoring run opens, grouped by kind and
// entity, for the consolidated summary mail. Safe for concurrent Add calls
// from probe workers.
type Digest struct {
	total int

	mu       sync.Mutex
	kinds    map[store.AlertKind]map[int64]*DigestEntity
	affected map[string]bool
}

// DigestEntity is one entity's slice of a digest section.
type DigestEntity struct {
	Name        string
	Platforms   []string
	FocalPoints []store.FocalPoint
}

// NewDigest starts an empty digest over a fleet of total platforms.
func NewDigest(total int) *Digest {
	return &Digest{
		total:    total,
		kinds:    make(map[store.AlertKind]map[int64]*DigestEntity),
		affected: make(map[string]bool),
	}
}

// Add records that p has an open issue of the given kind. Repeated adds for
// the same platform and kind collapse to one row.
func (d *Digest) Add(p *store.PlatformInfo, kind store.AlertKind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entities := d.kinds[kind]
	if entities == nil {
		entities = make(map[int64]*DigestEntity)
		d.kinds[kind] = entities
	}
	ent := entities[p.EntityID]
	if ent == nil {
		ent = &DigestEntity{Name: p.Entity.Name}
		for i := range p.FocalPoints {
			if p.FocalPoints[i].IsActive {
				ent.FocalPoints = append(ent.FocalPoints, p.FocalPoints[i])
			}
		}
		entities[p.EntityID] = ent
	}
	d.affected[p.URL] = true
	for _, u := range ent.Platforms {
		if u == p.URL {
			return
		}
	}
	ent.Platforms = append(ent.Platforms, p.URL)
}

// Affected returns how many distinct platforms have at least one issue.
func (d *Digest) Affected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.affected)
}

// Total returns the fleet size the digest covers.
func (d *Digest) Total() int { return d.total }

// Empty reports whether the run found no issues.
func (d *Digest) Empty() bool { return d.Affected() == 0 }

// Subject builds the summary subject line. Half the fleet affected makes
// the run URGENT, a quarter IMPORTANT.
func (d *Digest) Subject() string {
	affected := d.Affected()
	var pct float64
	if d.total > 0 {
		pct = float64(affected) / float64(d.total) * 100
	}
	base := fmt.Sprintf("Oju Monitoring - %d sites with issues (%.1f%%)", affected, pct)
	switch {
	case pct >= 50:
		return "[URGENT] " + base
	case pct >= 25:
		return "[IMPORTANT] " + base
	default:
		return base
	}
}

// DigestSection is one kind's block in the rendered digest.
type DigestSection struct {
	Title    string
	Color    string
	Count    int
	Entities []DigestEntity
}

// Sections flattens the accumulated issues into ordered template sections.
// Kinds with no issues are omitted.
func (d *Digest) Sections() []DigestSection {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []DigestSection
	for _, kind := range digestKinds {
		entities := d.kinds[kind]
		if len(entities) == 0 {
			continue
		}
		sec := DigestSection{Title: digestTitles[kind], Color: digestColors[kind]}
		ids := make([]int64, 0, len(entities))
		for id := range entities {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			sec.Entities = append(sec.Entities, *entities[id])
			sec.Count += len(entities[id].Platforms)
		}
		out = append(out, sec)
	}
	return out
}
