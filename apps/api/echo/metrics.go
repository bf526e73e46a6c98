package echoapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/masomo-identity/core/authz"
	"github.com/trezcool/masomo-identity/core/identity"
)

// Metrics are exposed on GET /metrics, from their own registry.
type Metrics struct {
	registry      *prometheus.Registry
	registrations *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	tokensIssued  *prometheus.CounterVec
	auditGaps     prometheus.Counter
	rateLimited   prometheus.Counter
}

var _ authz.Recorder = (*Metrics)(nil)

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Accounts registered, by role.",
		}, []string{"role"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Authorization decisions, by action and outcome.",
		}, []string{"action", "outcome"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_tokens_issued_total",
			Help:      "Identity tokens issued, by role.",
		}, []string{"role"}),
		auditGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_gaps_total",
			Help:      "Privileged mutations committed without their audit entry.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.registrations,
		m.decisions,
		m.tokensIssued,
		m.auditGaps,
		m.rateLimited,
	)
	return m
}

func (m *Metrics) ObserveDecision(action authz.Action, d authz.Decision) {
	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied"
	}
	m.decisions.WithLabelValues(string(action), outcome).Inc()
}

func (m *Metrics) observeRegistration(role identity.Role) {
	m.registrations.WithLabelValues(role.Name()).Inc()
}

func (m *Metrics) observeIssued(toks []identity.Token) {
	for _, tok := range toks {
		m.tokensIssued.WithLabelValues(tok.Role.Name()).Inc()
	}
}

func (m *Metrics) observeAuditGap()    { m.auditGaps.Inc() }
func (m *Metrics) observeRateLimited() { m.rateLimited.Inc() }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
