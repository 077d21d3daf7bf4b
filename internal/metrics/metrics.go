package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "capability_registry"

// Metrics holds the registry's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registeredWorkers        prometheus.Gauge
	lifecycleOperations      *prometheus.CounterVec
	attestationVerifications *prometheus.CounterVec
	queries                  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registeredWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_workers",
			Help:      "Number of worker bundles currently registered.",
		}),
		lifecycleOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_operations_total",
			Help:      "Register, remove, revoke and clear operations applied to the registry.",
		}, []string{"action"}),
		attestationVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attestation_verifications_total",
			Help:      "Attestation integrity checks by outcome.",
		}, []string{"result"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_queries_total",
			Help:      "Capability matching queries by kind.",
		}, []string{"query"}),
	}
	reg.MustRegister(
		m.registeredWorkers,
		m.lifecycleOperations,
		m.attestationVerifications,
		m.queries,
	)
	return m
}

// SetRegisteredWorkers records the current registry size.
func (m *Metrics) SetRegisteredWorkers(n int) {
	if m == nil {
		return
	}
	m.registeredWorkers.Set(float64(n))
}

// LifecycleOperation counts one registry mutation.
func (m *Metrics) LifecycleOperation(action string) {
	if m == nil {
		return
	}
	m.lifecycleOperations.WithLabelValues(action).Inc()
}

// AttestationVerification counts one integrity check.
func (m *Metrics) AttestationVerification(ok bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if ok {
		result = "valid"
	}
	m.attestationVerifications.WithLabelValues(result).Inc()
}

// Query counts one matching query.
func (m *Metrics) Query(name string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(name).Inc()
}
