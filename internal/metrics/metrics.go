package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for ledger operations, document pinning
// and view fetches. A nil *Metrics is valid and records nothing.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	FailuresTotal     *prometheus.CounterVec
	DocumentsPinned   *prometheus.CounterVec
	ViewFetches       *prometheus.CounterVec
	RegistryState     *prometheus.GaugeVec
}

// New registers every metric with reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_ledger_operations_total",
			Help: "Ledger operations by name and outcome",
		}, []string{"operation", "outcome"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations from signing to re-read",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		FailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_failures_total",
			Help: "Classified failures by kind and program error code",
		}, []string{"operation", "kind", "code"}),
		DocumentsPinned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_documents_pinned_total",
			Help: "Documents pinned to content-addressed storage by outcome",
		}, []string{"outcome"}),
		ViewFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_view_fetches_total",
			Help: "Read-side aggregate fetches by aggregate and outcome",
		}, []string{"aggregate", "outcome"}),
		RegistryState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "registry_bootstrap_state",
			Help: "1 for the guard's current state, 0 otherwise",
		}, []string{"state"}),
	}
}

// ObserveOperation records the outcome and duration of a ledger operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time, kind, code string) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if kind == "" {
		m.OperationsTotal.WithLabelValues(operation, "success").Inc()
		return
	}
	m.OperationsTotal.WithLabelValues(operation, "failure").Inc()
	m.FailuresTotal.WithLabelValues(operation, kind, code).Inc()
}

// ObservePinned records pin outcomes.
func (m *Metrics) ObservePinned(succeeded, failed int) {
	if m == nil {
		return
	}
	m.DocumentsPinned.WithLabelValues("success").Add(float64(succeeded))
	m.DocumentsPinned.WithLabelValues("failure").Add(float64(failed))
}

// ObserveViewFetch records one aggregate fetch.
func (m *Metrics) ObserveViewFetch(aggregate string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.ViewFetches.WithLabelValues(aggregate, outcome).Inc()
}

// SetRegistryState marks state as current among states.
func (m *Metrics) SetRegistryState(current string, states ...string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.RegistryState.WithLabelValues(s).Set(v)
	}
}
