package permit

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects engine counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	decisions *prometheus.CounterVec
	cache     *prometheus.CounterVec
	bypasses  prometheus.Counter
	failures  prometheus.Counter
}

// NewMetrics creates the engine counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "permit_decisions_total",
			Help: "Authorization decisions by check and outcome.",
		}, []string{"check", "outcome"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "permit_cache_lookups_total",
			Help: "Snapshot cache lookups by result.",
		}, []string{"result"}),
		bypasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "permit_superadmin_bypass_total",
			Help: "Decisions granted through the super-admin override.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "permit_resolve_failures_total",
			Help: "Snapshot resolutions that failed and denied the decision.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.decisions, m.cache, m.bypasses, m.failures} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) decision(check Kind, allowed bool) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.decisions.WithLabelValues(string(check), outcome).Inc()
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cache.WithLabelValues("hit").Inc()
		return
	}
	m.cache.WithLabelValues("miss").Inc()
}

func (m *Metrics) bypass() {
	if m != nil {
		m.bypasses.Inc()
	}
}

func (m *Metrics) resolveFailure() {
	if m != nil {
		m.failures.Inc()
	}
}
