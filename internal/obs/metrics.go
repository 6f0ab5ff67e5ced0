// Package obs holds the Prometheus metrics shared by the authorization layer.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the portal exports.
type Metrics struct {
	CacheRequests      *prometheus.CounterVec
	CacheFetches       *prometheus.CounterVec
	GuardDecisions     *prometheus.CounterVec
	GuardLoopBreaks    prometheus.Counter
	GuardUnsafeTargets prometheus.Counter
	VerificationCalls  *prometheus.CounterVec
	VerificationPolls  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests and library callers want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_cache_requests_total",
			Help: "Claims cache lookups by result (hit, stale, miss).",
		}, []string{"result"}),
		CacheFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_cache_fetches_total",
			Help: "Identity provider fetches by outcome.",
		}, []string{"outcome"}),
		GuardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guard_decisions_total",
			Help: "Authorization guard decisions by outcome.",
		}, []string{"outcome"}),
		GuardLoopBreaks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guard_redirect_loops_total",
			Help: "Redirects overridden because a loop was detected.",
		}),
		GuardUnsafeTargets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guard_unsafe_targets_total",
			Help: "Redirect or return targets rejected by safety checks.",
		}),
		VerificationCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_requests_total",
			Help: "Verification service calls by operation and result code.",
		}, []string{"op", "code"}),
		VerificationPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_polls_total",
			Help: "Completed verification polls by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CacheRequests, m.CacheFetches,
			m.GuardDecisions, m.GuardLoopBreaks, m.GuardUnsafeTargets,
			m.VerificationCalls, m.VerificationPolls,
		)
	}
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
