package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"obd-service/internal/obd"
	"obd-service/internal/telemetry"
)

func TestObserveCommand(t *testing.T) {
	m := NewMetrics(zaptest.NewLogger(t))

	m.ObserveCommand("010C", obd.OutcomeOK, 15, 120*time.Millisecond)
	m.ObserveCommand("010C", obd.OutcomeUnprompted, 8, time.Second)
	m.ObserveCommand("0105", obd.OutcomeTimeout, 0, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("010C", obd.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("0105", obd.OutcomeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unpromptedTotal))
}

func TestObserveCycleCountsFailures(t *testing.T) {
	m := NewMetrics(zaptest.NewLogger(t))
	failure := telemetry.Measurement{Value: -1, Err: errors.New("timeout")}

	m.ObserveCycle(telemetry.Reading{
		RPM:         telemetry.Measurement{Value: 900},
		Speed:       failure,
		Temperature: failure,
	}, 300*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollCycles))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.measurementFailures.WithLabelValues("rpm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.measurementFailures.WithLabelValues("speed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.measurementFailures.WithLabelValues("temperature")))
}

func TestGauges(t *testing.T) {
	m := NewMetrics(zaptest.NewLogger(t))

	m.SetAdapterConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.adapterConnected))
	m.SetAdapterConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.adapterConnected))

	m.StreamClientConnected()
	m.StreamClientConnected()
	m.StreamClientDisconnected()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamClients))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCommand("ATZ", obd.OutcomeOK, 1, time.Millisecond)
		m.ObserveCycle(telemetry.Reading{}, time.Millisecond)
		m.SetAdapterConnected(true)
		m.StreamClientConnected()
		m.StreamClientDisconnected()
		m.RunRuntimeMonitor(context.Background(), time.Second)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := NewMetrics(zaptest.NewLogger(t))
	m.ObserveCommand("ATZ", obd.OutcomeOK, 12, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.RunRuntimeMonitor(ctx, time.Hour)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `obd_commands_total{command="ATZ",outcome="ok"} 1`)
	assert.Contains(t, body, "obd_goroutines")
	assert.Contains(t, body, "obd_adapter_connected 0")
}
