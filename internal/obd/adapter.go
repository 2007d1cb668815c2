package obd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"obd-service/internal/protocol"
	"obd-service/internal/utils"
)

// Config holds everything needed to bring up an adapter.
type Config struct {
	Serial     protocol.SerialConfig `json:"serial"`
	Channel    ChannelConfig         `json:"channel"`
	ResetDelay time.Duration         `json:"reset_delay"`
}

// DefaultConfig returns ELM327 defaults for the device at path.
func DefaultConfig(path string) Config {
	return Config{
		Serial:     protocol.DefaultSerialConfig(path),
		Channel:    DefaultChannelConfig(),
		ResetDelay: 100 * time.Millisecond,
	}
}

// Option configures an Adapter
type Option func(*Adapter)

// WithObserver reports every command exchange to observer.
func WithObserver(observer CommandObserver) Option {
	return func(a *Adapter) {
		a.channel.SetObserver(observer)
	}
}

// Adapter is an initialized ELM327 session on one transport.
type Adapter struct {
	transport protocol.Transport
	channel   *Channel
	config    Config
	logger    *utils.AdapterLogger

	mutex     sync.RWMutex
	connected bool
}

// NewAdapter wraps transport without opening it.
func NewAdapter(transport protocol.Transport, config Config, logger *zap.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		transport: transport,
		channel:   NewChannel(transport, config.Channel, logger),
		config:    config,
		logger:    utils.NewAdapterLogger(logger, transport.Path()),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Connect opens the serial device in config and runs the init sequence.
func Connect(ctx context.Context, config Config, logger *zap.Logger, opts ...Option) (*Adapter, error) {
	transport := protocol.NewSerialConnection(config.Serial, logger)
	a := NewAdapter(transport, config, logger, opts...)
	if err := a.Init(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Init opens the transport and prepares the adapter: reset, wait, then
// best-effort echo off and automatic protocol selection. Only an open
// failure or a reset that gets no reply at all is fatal; in the latter case
// the transport is closed again.
func (a *Adapter) Init(ctx context.Context) error {
	if err := a.transport.Open(ctx); err != nil {
		a.logger.LogConnection("open", false, err)
		return fmt.Errorf("%w: %s: %w", ErrConnection, a.transport.Path(), err)
	}

	if _, err := a.channel.SendCommand(ctx, CommandReset); err != nil {
		a.logger.LogConnection("reset", false, err)
		if closeErr := a.transport.Close(); closeErr != nil {
			a.logger.Warn("Failed to close adapter after reset failure", zap.Error(closeErr))
		}
		return fmt.Errorf("%w: %w", ErrProtocolInit, err)
	}

	if err := sleepContext(ctx, a.config.ResetDelay); err != nil {
		if closeErr := a.transport.Close(); closeErr != nil {
			a.logger.Warn("Failed to close adapter after cancelled reset", zap.Error(closeErr))
		}
		return err
	}

	for _, cmd := range []string{CommandEchoOff, CommandAutoProtocol} {
		if _, err := a.channel.SendCommand(ctx, cmd); err != nil {
			a.logger.Warn("Adapter setup command failed", zap.String("command", cmd), zap.Error(err))
		}
	}

	a.mutex.Lock()
	a.connected = true
	a.mutex.Unlock()

	a.logger.LogConnection("init", true, nil)
	return nil
}

// Close releases the device. Calling it more than once is safe.
func (a *Adapter) Close() error {
	a.mutex.Lock()
	wasConnected := a.connected
	a.connected = false
	a.mutex.Unlock()

	if err := a.transport.Close(); err != nil {
		return err
	}
	if wasConnected {
		a.logger.LogConnection("close", true, nil)
	}
	return nil
}

// IsConnected reports whether Init succeeded and Close has not been called.
func (a *Adapter) IsConnected() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.connected && a.transport.IsOpen()
}

// Path returns the device path
func (a *Adapter) Path() string {
	return a.transport.Path()
}

// Stats returns transport statistics
func (a *Adapter) Stats() protocol.ProtocolStats {
	return a.transport.Stats()
}

// SendCommand runs one raw exchange on a connected adapter.
func (a *Adapter) SendCommand(ctx context.Context, cmd string) (Response, error) {
	if !a.IsConnected() {
		return Response{}, &CommandError{Command: cmd, Err: ErrNotConnected}
	}
	return a.channel.SendCommand(ctx, cmd)
}

// Query requests pid and decodes the reply.
func (a *Adapter) Query(ctx context.Context, pid PID) (int, error) {
	resp, err := a.SendCommand(ctx, pid.String())
	if err != nil {
		return Unavailable, err
	}

	value, err := Decode(pid, resp.Bytes())
	if err != nil {
		return Unavailable, &CommandError{Command: pid.String(), Err: err}
	}
	return value, nil
}

// ReadRPM returns engine speed in revolutions per minute.
func (a *Adapter) ReadRPM(ctx context.Context) (int, error) {
	return a.Query(ctx, PIDEngineRPM)
}

// ReadSpeed returns vehicle speed in km/h.
func (a *Adapter) ReadSpeed(ctx context.Context) (int, error) {
	return a.Query(ctx, PIDVehicleSpeed)
}

// ReadCoolantTemp returns engine coolant temperature in °C.
func (a *Adapter) ReadCoolantTemp(ctx context.Context) (int, error) {
	return a.Query(ctx, PIDCoolantTemp)
}
