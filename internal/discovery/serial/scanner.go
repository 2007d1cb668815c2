// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"obd-service/internal/discovery"
)

// Confidence for ports without a known USB bridge
const (
	confidenceBluetooth = 0.5
	confidenceUnknown   = 0.3
	confidenceOther     = 0.1
)

// listPorts is replaced in tests
var listPorts = enumerator.GetDetailedPortsList

// Scanner lists serial ports via the OS enumerator
type Scanner struct {
	logger  *zap.Logger
	bridges *discovery.BridgeDatabase
}

// NewScanner creates a serial port scanner
func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{
		logger:  logger.With(zap.String("scanner", "serial")),
		bridges: discovery.NewBridgeDatabase(),
	}
}

// ScannerType returns "serial"
func (s *Scanner) ScannerType() string {
	return "serial"
}

// IsAvailable is always true; the enumerator supports every platform
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan lists ports and rates how likely each one hosts an ELM327
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.Port, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	details, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	ports := make([]*discovery.Port, 0, len(details))
	for _, d := range details {
		ports = append(ports, s.describe(d))
	}

	s.logger.Debug("Serial scan completed", zap.Int("ports_found", len(ports)))
	return ports, nil
}

func (s *Scanner) describe(d *enumerator.PortDetails) *discovery.Port {
	port := &discovery.Port{
		Path:         d.Name,
		Kind:         "serial",
		IsUSB:        d.IsUSB,
		VendorID:     strings.ToUpper(d.VID),
		ProductID:    strings.ToUpper(d.PID),
		SerialNumber: d.SerialNumber,
		Product:      d.Product,
		Confidence:   confidenceOther,
	}

	switch {
	case d.IsUSB:
		port.Kind = "usb"
		port.Confidence = confidenceUnknown
		if bridge := s.bridges.Lookup(d.VID, d.PID); bridge != nil {
			port.Bridge = bridge.Vendor + " " + bridge.Chip
			port.Confidence = bridge.Confidence
		}
	case strings.HasPrefix(filepath.Base(d.Name), "rfcomm"):
		port.Kind = "bluetooth"
		port.Confidence = confidenceBluetooth
	}

	return port
}
