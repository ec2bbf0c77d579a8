package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics(t *testing.T) {
	//Arrange
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg, "booking-saga")

	//Act
	m.RecordSagaTransition("CREATED", "PAYMENT_INITIATED")
	m.RecordSagaTransition("CREATED", "PAYMENT_INITIATED")
	m.RecordCommandEmitted("InitiatePayment")
	m.IncVersionConflict()
	m.IncTimeoutFired("payment")
	m.IncDuplicateDropped("saga")
	m.RecordUseCaseExecution("HandleSagaEvent", true, 20*time.Millisecond)

	//Assert
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sagaTransitions.WithLabelValues("CREATED", "PAYMENT_INITIATED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.versionConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.timeoutsFired.WithLabelValues("payment")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["booking_saga_commands_emitted_total"])
	assert.True(t, names["app_usecase_duration_seconds"])
	assert.True(t, names["go_goroutines"])
}

func TestNopSatisfiesInterface(t *testing.T) {
	var m Metrics = Nop()
	assert.NotPanics(t, func() {
		m.RecordSagaFinished("COMPLETED")
		m.ObserveHTTPRequestDuration("GET", "/", "200", 0.1)
	})
}
