package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("mint", time.Now(), "", "")
	m.ObserveOperation("mint", time.Now(), "REMOTE_PROGRAM_REJECTED", "ProjectNotVerified")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("mint", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("mint", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("mint", "REMOTE_PROGRAM_REJECTED", "ProjectNotVerified")))
}

func TestObservePinnedAndViews(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObservePinned(2, 1)
	m.ObserveViewFetch("balance", nil)
	m.ObserveViewFetch("balance", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocumentsPinned.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsPinned.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ViewFetches.WithLabelValues("balance", "failure")))
}

func TestSetRegistryState(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetRegistryState("READY", "ABSENT", "READY")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryState.WithLabelValues("READY")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RegistryState.WithLabelValues("ABSENT")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("mint", time.Now(), "", "")
		m.ObservePinned(1, 0)
		m.ObserveViewFetch("x", nil)
		m.SetRegistryState("READY", "READY")
	})
}
