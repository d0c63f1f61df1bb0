// Package metrics provides Prometheus instrumentation for oju.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ojulabs/oju/internal/monitor"
	"github.com/ojulabs/oju/internal/store"
)

// Collector translates the latest run report and open alerts into gauge values.
type Collector struct {
	alertsActive  *prometheus.GaugeVec
	alertOpenedAt *prometheus.GaugeVec
	runPlatforms  prometheus.Gauge
	runAffected   prometheus.Gauge
	runCreated    prometheus.Gauge
	runResolved   prometheus.Gauge
	runDuration   prometheus.Gauge
	mu            sync.Mutex
}

// NewCollector creates and registers metrics on the given registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		alertsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "oju",
			Name:      "alerts_active",
			Help:      "Number of open alerts by kind.",
		}, []string{"kind", "severity"}),

		alertOpenedAt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "oju",
			Name:      "alert_opened_timestamp",
			Help:      "Unix timestamp when the open alert was created.",
		}, []string{"kind", "severity", "platform", "entity"}),

		runPlatforms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oju",
			Name:      "run_platforms_scanned",
			Help:      "Platforms covered by the last monitoring run.",
		}),

		runAffected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oju",
			Name:      "run_platforms_affected",
			Help:      "Platforms with at least one failed check in the last monitoring run.",
		}),

		runCreated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oju",
			Name:      "run_alerts_created",
			Help:      "Alerts opened by the last monitoring run.",
		}),

		runResolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oju",
			Name:      "run_alerts_resolved",
			Help:      "Alerts auto-resolved by the last monitoring run.",
		}),

		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oju",
			Name:      "run_duration_seconds",
			Help:      "Duration of the last monitoring run in seconds.",
		}),
	}

	reg.MustRegister(c.alertsActive)
	reg.MustRegister(c.alertOpenedAt)
	reg.MustRegister(c.runPlatforms)
	reg.MustRegister(c.runAffected)
	reg.MustRegister(c.runCreated)
	reg.MustRegister(c.runResolved)
	reg.MustRegister(c.runDuration)

	return c
}

// Update replaces the alert gauges from the given alert set and, when report
// is non-nil, the run gauges from the report. Alert refreshes between runs
// pass a nil report so the run gauges keep their last values.
func (c *Collector) Update(report *monitor.RunReport, alerts []store.AlertView) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.alertsActive.Reset()
	c.alertOpenedAt.Reset()

	if report != nil {
		c.runPlatforms.Set(float64(report.Platforms))
		c.runAffected.Set(float64(report.Affected))
		c.runCreated.Set(float64(report.Created))
		c.runResolved.Set(float64(report.Resolved))
		c.runDuration.Set(report.Duration.Seconds())
	}

	counts := map[store.AlertKind]int{}
	for i := range alerts {
		a := &alerts[i]
		counts[a.Kind]++

		c.alertOpenedAt.With(prometheus.Labels{
			"kind":     string(a.Kind),
			"severity": string(a.Kind.Severity()),
			"platform": a.PlatformURL,
			"entity":   a.EntityName,
		}).Set(float64(a.CreatedAt.Unix()))
	}

	for kind, count := range counts {
		c.alertsActive.With(prometheus.Labels{
			"kind":     string(kind),
			"severity": string(kind.Severity()),
		}).Set(float64(count))
	}
}
