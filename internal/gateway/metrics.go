package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Redirects *prometheus.CounterVec
	Errors    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Redirects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "framelight_gateway_redirects_total",
			Help: "Callback redirects issued, by provider",
		}, []string{"provider"}),
		Errors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "framelight_gateway_errors_total",
			Help: "Callback routing errors, by error code",
		}, []string{"code"}),
	}
}

func (m *Metrics) IncrementRedirect(provider string) {
	if m != nil {
		m.Redirects.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) IncrementError(code string) {
	if m != nil {
		m.Errors.WithLabelValues(code).Inc()
	}
}
