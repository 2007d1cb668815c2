// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// openPort is replaced in tests
var openPort = func(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	Port        string        `json:"port"`
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      string        `json:"parity"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// DefaultSerialConfig returns the ELM327 line settings: 38400 8N1 with a one
// second inactivity timeout.
func DefaultSerialConfig(port string) SerialConfig {
	return SerialConfig{
		Port:        port,
		BaudRate:    38400,
		DataBits:    8,
		StopBits:    1,
		Parity:      "none",
		ReadTimeout: time.Second,
	}
}

// SerialConnection implements Transport for serial connections
type SerialConnection struct {
	config SerialConfig
	port   Port
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool

	statsMutex sync.Mutex
	stats      ProtocolStats
}

// NewSerialConnection creates a new serial connection
func NewSerialConnection(config SerialConfig, logger *zap.Logger) *SerialConnection {
	return &SerialConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
	}
}

// Open opens and configures the serial device, then discards anything
// already buffered in either direction.
func (sc *SerialConnection) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}

	if sc.config.Port == "" {
		return fmt.Errorf("serial port is required")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	sc.logger.Info("Opening serial port",
		zap.Int("baud_rate", sc.config.BaudRate),
		zap.Int("data_bits", sc.config.DataBits),
		zap.String("parity", sc.config.Parity),
	)

	port, err := openPort(sc.config.Port, sc.mode())
	if err != nil {
		sc.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	// VMIN=0 / VTIME semantics: return on the first byte or after the
	// timeout elapses with nothing received.
	if err := port.SetReadTimeout(sc.config.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	if err := flushPort(port); err != nil {
		port.Close()
		return fmt.Errorf("failed to flush serial port: %w", err)
	}

	sc.port = port
	sc.isOpen = true
	sc.updateStats(func(s *ProtocolStats) {
		s.IsConnected = true
		s.LastActivity = time.Now()
	})

	sc.logger.Info("Serial port opened successfully")
	return nil
}

// Close closes the serial connection. Closing a closed connection is a no-op.
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return nil
	}

	err := sc.port.Close()
	sc.port = nil
	sc.isOpen = false
	sc.updateStats(func(s *ProtocolStats) { s.IsConnected = false })

	if err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Info("Serial port closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.isOpen && sc.port != nil
}

// Write writes data to the serial port and reports how many bytes the
// device accepted. A short count is not turned into an error here.
func (sc *SerialConnection) Write(ctx context.Context, data []byte) (int, error) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return 0, fmt.Errorf("serial port not open")
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	startTime := time.Now()
	n, err := sc.port.Write(data)
	if err != nil {
		sc.updateStats(func(s *ProtocolStats) { s.ErrorCount++ })
		sc.logger.Error("Serial write failed", zap.Error(err))
		return n, fmt.Errorf("failed to write to serial port: %w", err)
	}

	duration := time.Since(startTime)
	sc.updateStats(func(s *ProtocolStats) {
		s.BytesWritten += int64(n)
		s.OperationCount++
		s.LastActivity = time.Now()
		updateAverageLatency(s, duration)
	})

	sc.logger.Debug("Serial write completed", zap.Int("bytes", n), zap.ByteString("data", data[:n]))
	return n, nil
}

// ReadTimeout performs a single read that returns as soon as any byte is
// available, or with n == 0 once timeout has elapsed.
func (sc *SerialConnection) ReadTimeout(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return 0, fmt.Errorf("serial port not open")
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	if timeout <= 0 {
		timeout = sc.config.ReadTimeout
	}
	if err := sc.port.SetReadTimeout(timeout); err != nil {
		return 0, fmt.Errorf("failed to set read timeout: %w", err)
	}

	n, err := sc.port.Read(buf)
	if err != nil {
		sc.updateStats(func(s *ProtocolStats) { s.ErrorCount++ })
		return n, fmt.Errorf("failed to read from serial port: %w", err)
	}

	if n > 0 {
		sc.updateStats(func(s *ProtocolStats) {
			s.BytesRead += int64(n)
			s.OperationCount++
			s.LastActivity = time.Now()
		})
	}
	return n, nil
}

// Flush discards unread input and unsent output
func (sc *SerialConnection) Flush() error {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return fmt.Errorf("serial port not open")
	}
	return flushPort(sc.port)
}

// Path returns the device path
func (sc *SerialConnection) Path() string {
	return sc.config.Port
}

// Stats returns a copy of the connection statistics
func (sc *SerialConnection) Stats() ProtocolStats {
	sc.statsMutex.Lock()
	defer sc.statsMutex.Unlock()
	return sc.stats
}

func (sc *SerialConnection) mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: sc.config.BaudRate,
		DataBits: sc.config.DataBits,
	}

	switch sc.config.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch sc.config.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode
}

func (sc *SerialConnection) updateStats(fn func(s *ProtocolStats)) {
	sc.statsMutex.Lock()
	fn(&sc.stats)
	sc.statsMutex.Unlock()
}

func flushPort(port Port) error {
	if err := port.ResetInputBuffer(); err != nil {
		return err
	}
	return port.ResetOutputBuffer()
}

// updateAverageLatency updates the running average latency
func updateAverageLatency(s *ProtocolStats, newLatency time.Duration) {
	if s.AverageLatency == 0 {
		s.AverageLatency = newLatency
	} else {
		s.AverageLatency = (s.AverageLatency + newLatency) / 2
	}
}
