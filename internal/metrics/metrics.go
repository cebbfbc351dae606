package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Submissions records order submission outcomes and payment authorization
// latency.
type Submissions struct {
	outcomes       *prometheus.CounterVec
	authorizations *prometheus.HistogramVec
}

func NewSubmissions(reg prometheus.Registerer) *Submissions {
	m := &Submissions{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "order_submissions_total",
			Help:      "Order submission attempts by outcome.",
		}, []string{"outcome"}),
		authorizations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkout",
			Name:      "payment_authorization_duration_seconds",
			Help:      "Latency of payment authorization calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
	}
	reg.MustRegister(m.outcomes, m.authorizations)
	return m
}

func (m *Submissions) ObserveSubmission(outcome string) {
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *Submissions) ObserveAuthorization(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.authorizations.WithLabelValues(result).Observe(d.Seconds())
}
