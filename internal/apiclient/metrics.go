package apiclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors a Client reports to.
type Metrics struct {
	// Requests counts attempts by method and status code ("error" for transport failures).
	Requests *prometheus.CounterVec
	// Renewals counts completed renewals by outcome ("success" or "failure").
	Renewals *prometheus.CounterVec
	// Retries counts calls replayed after a successful renewal.
	Retries prometheus.Counter
	// RenewalWaiters is the number of callers currently waiting on a renewal.
	RenewalWaiters prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kokomemo",
			Name:      "requests_total",
			Help:      "API call attempts by method and status code.",
		}, []string{"method", "code"}),
		Renewals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kokomemo",
			Name:      "renewals_total",
			Help:      "Credential renewals by outcome.",
		}, []string{"outcome"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kokomemo",
			Name:      "retries_total",
			Help:      "Calls replayed after a successful renewal.",
		}),
		RenewalWaiters: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "kokomemo",
			Name:      "renewal_waiters",
			Help:      "Callers currently waiting on an in-flight renewal.",
		}),
	}
}
