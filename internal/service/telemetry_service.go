// internal/service/telemetry_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"obd-service/internal/config"
	"obd-service/internal/monitor"
	"obd-service/internal/obd"
	"obd-service/internal/protocol"
	"obd-service/internal/telemetry"
	"obd-service/internal/utils"
)

var (
	ErrAlreadyConnected   = errors.New("adapter session already active")
	ErrDevicePathRequired = errors.New("device path is required")
)

// Adapter is an initialized adapter session as seen by the service.
type Adapter interface {
	telemetry.Source
	Close() error
	Path() string
	Stats() protocol.ProtocolStats
}

// AdapterFactory opens and initializes the adapter at path.
type AdapterFactory func(ctx context.Context, path string) (Adapter, error)

// EventHandler is notified about adapter session changes.
type EventHandler interface {
	OnAdapterConnected(status Status)
	OnAdapterDisconnected(path string, reason string)
	OnAdapterError(path string, err error)
}

// Status describes the current adapter session
type Status struct {
	Connected   bool                    `json:"connected"`
	Connecting  bool                    `json:"connecting"`
	DevicePath  string                  `json:"device_path,omitempty"`
	SessionID   string                  `json:"session_id,omitempty"`
	ConnectedAt *time.Time              `json:"connected_at,omitempty"`
	Polling     bool                    `json:"polling"`
	Stats       *protocol.ProtocolStats `json:"stats,omitempty"`
}

// NewAdapterFactory builds adapters from the adapter section of cfg.
func NewAdapterFactory(cfg *config.Config, logger *zap.Logger, metrics *monitor.Metrics) AdapterFactory {
	return func(ctx context.Context, path string) (Adapter, error) {
		var opts []obd.Option
		if metrics != nil {
			opts = append(opts, obd.WithObserver(metrics))
		}
		return obd.Connect(ctx, AdapterConfig(&cfg.Adapter, path), logger, opts...)
	}
}

// AdapterConfig maps configuration onto adapter settings for path.
func AdapterConfig(cfg *config.AdapterConfig, path string) obd.Config {
	return obd.Config{
		Serial: protocol.SerialConfig{
			Port:        path,
			BaudRate:    cfg.BaudRate,
			DataBits:    cfg.DataBits,
			StopBits:    cfg.StopBits,
			Parity:      cfg.Parity,
			ReadTimeout: cfg.ReadTimeout,
		},
		Channel: obd.ChannelConfig{
			ResponseSize: cfg.ResponseSize,
			SettleDelay:  cfg.SettleDelay,
			ReadBudget:   cfg.ReadBudget,
			PollInterval: cfg.PollInterval,
		},
		ResetDelay: cfg.ResetDelay,
	}
}

// TelemetryService manages the adapter session and its poller. The poller
// is the only code that talks to the adapter; everything else reads the
// shared state.
type TelemetryService struct {
	factory AdapterFactory
	state   *telemetry.State
	config  *config.Config
	logger  *utils.ServiceLogger
	metrics *monitor.Metrics

	mutex       sync.Mutex
	events      EventHandler
	connecting  bool
	adapter     Adapter
	poller      *telemetry.Poller
	sessionID   string
	connectedAt time.Time
}

// NewTelemetryService creates a service with no active session
func NewTelemetryService(
	factory AdapterFactory,
	state *telemetry.State,
	cfg *config.Config,
	metrics *monitor.Metrics,
	logger *zap.Logger,
) *TelemetryService {
	return &TelemetryService{
		factory: factory,
		state:   state,
		config:  cfg,
		metrics: metrics,
		logger:  utils.NewServiceLogger(logger, "telemetry-service"),
	}
}

// SetEventHandler installs the session event receiver.
func (ts *TelemetryService) SetEventHandler(events EventHandler) {
	ts.mutex.Lock()
	ts.events = events
	ts.mutex.Unlock()
}

// Connect initializes the adapter at path and starts polling it. An empty
// path falls back to the configured device.
func (ts *TelemetryService) Connect(ctx context.Context, path string) (Status, error) {
	if path == "" {
		path = ts.config.Adapter.DevicePath
	}
	if path == "" {
		return Status{}, ErrDevicePathRequired
	}

	ts.mutex.Lock()
	if ts.adapter != nil || ts.connecting {
		ts.mutex.Unlock()
		return Status{}, ErrAlreadyConnected
	}
	ts.connecting = true
	events := ts.events
	ts.mutex.Unlock()

	ts.logger.Info("Connecting adapter", zap.String("device_path", path))

	adapter, err := ts.factory(ctx, path)
	if err != nil {
		ts.mutex.Lock()
		ts.connecting = false
		ts.mutex.Unlock()

		ts.logger.Error("Failed to connect adapter", zap.String("device_path", path), zap.Error(err))
		if events != nil {
			events.OnAdapterError(path, err)
		}
		return Status{}, fmt.Errorf("failed to connect adapter: %w", err)
	}

	poller := telemetry.NewPoller(adapter, ts.state, ts.config.Poller.Interval, ts.logger.Logger)
	if ts.metrics != nil {
		poller.SetObserver(ts.metrics)
	}
	// the poller outlives the request that started it
	if err := poller.Start(context.Background()); err != nil {
		adapter.Close()
		ts.mutex.Lock()
		ts.connecting = false
		ts.mutex.Unlock()
		return Status{}, fmt.Errorf("failed to start poller: %w", err)
	}

	ts.mutex.Lock()
	ts.adapter = adapter
	ts.poller = poller
	ts.sessionID = uuid.New().String()
	ts.connectedAt = time.Now()
	ts.connecting = false
	status := ts.statusLocked()
	ts.mutex.Unlock()

	ts.metrics.SetAdapterConnected(true)
	ts.logger.Info("Adapter connected",
		zap.String("device_path", path),
		zap.String("session_id", status.SessionID),
	)
	if events != nil {
		events.OnAdapterConnected(status)
	}
	return status, nil
}

// Disconnect stops polling and closes the adapter. It is a no-op when no
// session is active.
func (ts *TelemetryService) Disconnect() error {
	return ts.disconnect("requested")
}

func (ts *TelemetryService) disconnect(reason string) error {
	ts.mutex.Lock()
	adapter, poller, events := ts.adapter, ts.poller, ts.events
	ts.adapter, ts.poller = nil, nil
	ts.sessionID = ""
	ts.connectedAt = time.Time{}
	ts.mutex.Unlock()

	if adapter == nil {
		return nil
	}

	poller.Stop()
	err := adapter.Close()
	ts.state.Reset()
	ts.metrics.SetAdapterConnected(false)

	ts.logger.Info("Adapter disconnected",
		zap.String("device_path", adapter.Path()),
		zap.String("reason", reason),
	)
	if events != nil {
		events.OnAdapterDisconnected(adapter.Path(), reason)
	}

	if err != nil {
		return fmt.Errorf("failed to close adapter: %w", err)
	}
	return nil
}

// Snapshot returns the latest telemetry.
func (ts *TelemetryService) Snapshot() telemetry.Snapshot {
	return ts.state.Snapshot()
}

// IsConnected reports whether a session is active.
func (ts *TelemetryService) IsConnected() bool {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	return ts.adapter != nil
}

// Status describes the current session.
func (ts *TelemetryService) Status() Status {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	return ts.statusLocked()
}

func (ts *TelemetryService) statusLocked() Status {
	status := Status{Connecting: ts.connecting}
	if ts.adapter == nil {
		return status
	}

	stats := ts.adapter.Stats()
	connectedAt := ts.connectedAt
	status.Connected = true
	status.DevicePath = ts.adapter.Path()
	status.SessionID = ts.sessionID
	status.ConnectedAt = &connectedAt
	status.Polling = ts.poller != nil && ts.poller.Running()
	status.Stats = &stats
	return status
}

// Close ends any active session.
func (ts *TelemetryService) Close() error {
	return ts.disconnect("shutdown")
}
