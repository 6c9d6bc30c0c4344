// Package metrics exposes Prometheus counters for challenge traffic.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codecaptcha"

// Submission outcomes.
const (
	OutcomeSolved    = "solved"
	OutcomeIncorrect = "incorrect"
	OutcomeConsumed  = "consumed"
	OutcomeExpired   = "expired"
	OutcomeNotFound  = "not_found"
	OutcomeError     = "error"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	created       prometheus.Counter
	fallbacks     prometheus.Counter
	submissions   *prometheus.CounterVec
	verifications *prometheus.CounterVec
	swept         *prometheus.CounterVec
}

// New registers all collectors, plus Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_created_total",
			Help:      "Challenges generated and stored.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_fallbacks_total",
			Help:      "Generations that degraded to the fallback question.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Answer submissions by outcome.",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_verifications_total",
			Help:      "Proof token verifications by result.",
		}, []string{"result"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Rows removed by the retention worker.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.created, m.fallbacks, m.submissions, m.verifications, m.swept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ChallengeCreated(fallback bool) {
	if m == nil {
		return
	}
	m.created.Inc()
	if fallback {
		m.fallbacks.Inc()
	}
}

func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Verification(ok bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if ok {
		result = "accepted"
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Swept(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.WithLabelValues(kind).Add(float64(n))
}
