package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TenantsProvisioned prometheus.Counter
	TenantsFinalized   prometheus.Counter
	ResolveOutcomes    *prometheus.CounterVec
	ResolveDuration    prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		TenantsProvisioned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "framelight_tenants_provisioned_total",
			Help: "Total number of pending tenants auto-provisioned on first auth contact",
		}),
		TenantsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "framelight_tenants_finalized_total",
			Help: "Total number of pending tenants finalized into active ones",
		}),
		ResolveOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "framelight_tenant_resolve_total",
			Help: "Tenant context resolution outcomes",
		}, []string{"outcome"}),
		ResolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "framelight_tenant_resolve_duration_seconds",
			Help:    "Duration of tenant context resolution (runs before every handler)",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) ObserveResolve(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.ResolveOutcomes.WithLabelValues(outcome).Inc()
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementProvisioned() {
	if m != nil {
		m.TenantsProvisioned.Inc()
	}
}

func (m *Metrics) IncrementFinalized() {
	if m != nil {
		m.TenantsFinalized.Inc()
	}
}
