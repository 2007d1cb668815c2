package monitor

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"obd-service/internal/obd"
	"obd-service/internal/telemetry"
)

const namespace = "obd"

// Metrics holds the service collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	commandsTotal       *prometheus.CounterVec
	commandDuration     *prometheus.HistogramVec
	responseBytes       prometheus.Histogram
	unpromptedTotal     prometheus.Counter
	pollCycles          prometheus.Counter
	pollCycleDuration   prometheus.Histogram
	measurementFailures *prometheus.CounterVec
	adapterConnected    prometheus.Gauge
	streamClients       prometheus.Gauge
	goroutines          prometheus.Gauge
	memoryUsage         prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logger:   logger.With(zap.String("component", "metrics")),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Adapter command exchanges by outcome.",
		}, []string{"command", "outcome"}),

		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from write to end of response collection.",
			Buckets:   []float64{0.05, 0.1, 0.15, 0.2, 0.3, 0.5, 0.75, 1, 1.5},
		}, []string{"command"}),

		responseBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_bytes",
			Help:      "Raw response size per exchange.",
			Buckets:   prometheus.LinearBuckets(0, 32, 9),
		}),

		unpromptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unprompted_responses_total",
			Help:      "Responses returned without the adapter prompt.",
		}),

		pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed telemetry poll cycles.",
		}),

		pollCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of one poll cycle.",
			Buckets:   prometheus.DefBuckets,
		}),

		measurementFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurement_failures_total",
			Help:      "Failed measurements by name.",
		}, []string{"measurement"}),

		adapterConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adapter_connected",
			Help:      "1 while an adapter session is active.",
		}),

		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected websocket clients.",
		}),

		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Current goroutine count.",
		}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Allocated heap bytes.",
		}),
	}

	m.registry.MustRegister(
		m.commandsTotal,
		m.commandDuration,
		m.responseBytes,
		m.unpromptedTotal,
		m.pollCycles,
		m.pollCycleDuration,
		m.measurementFailures,
		m.adapterConnected,
		m.streamClients,
		m.goroutines,
		m.memoryUsage,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCommand implements obd.CommandObserver.
func (m *Metrics) ObserveCommand(command, outcome string, responseBytes int, duration time.Duration) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, outcome).Inc()
	m.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
	m.responseBytes.Observe(float64(responseBytes))
	if outcome == obd.OutcomeUnprompted {
		m.unpromptedTotal.Inc()
	}
}

// ObserveCycle implements telemetry.CycleObserver.
func (m *Metrics) ObserveCycle(r telemetry.Reading, duration time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.Inc()
	m.pollCycleDuration.Observe(duration.Seconds())
	r.Each(func(name string, meas telemetry.Measurement) {
		if !meas.OK() {
			m.measurementFailures.WithLabelValues(name).Inc()
		}
	})
}

// SetAdapterConnected records the adapter session state.
func (m *Metrics) SetAdapterConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.adapterConnected.Set(1)
	} else {
		m.adapterConnected.Set(0)
	}
}

func (m *Metrics) StreamClientConnected() {
	if m != nil {
		m.streamClients.Inc()
	}
}

func (m *Metrics) StreamClientDisconnected() {
	if m != nil {
		m.streamClients.Dec()
	}
}

// RunRuntimeMonitor samples goroutine and heap gauges every interval
// until ctx is done.
func (m *Metrics) RunRuntimeMonitor(ctx context.Context, interval time.Duration) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.sampleRuntime()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Metrics) sampleRuntime() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryUsage.Set(float64(memStats.Alloc))

	m.logger.Debug("Runtime sample",
		zap.Int("goroutines", runtime.NumGoroutine()),
		zap.Float64("memory_mb", float64(memStats.Alloc)/1024/1024),
	)
}
