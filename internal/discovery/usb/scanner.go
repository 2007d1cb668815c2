// internal/discovery/usb/scanner.go
package usb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"obd-service/internal/discovery"
)

// KindBridge marks a USB bridge found on the bus. Its Path is a bus
// locator, not a device node; the serial scanner reports the tty once a
// driver binds it.
const KindBridge = "usb-bridge"

const defaultScanTimeout = 5 * time.Second

// listDescriptors is replaced in tests
var listDescriptors = func() ([]*gousb.DeviceDesc, error) {
	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	var descs []*gousb.DeviceDesc
	// the opener never opens anything; it only collects descriptors
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		descs = append(descs, desc)
		return false
	})
	return descs, err
}

// Scanner walks the USB bus for known ELM327 bridge chips
type Scanner struct {
	logger  *zap.Logger
	bridges *discovery.BridgeDatabase
	timeout time.Duration
}

// NewScanner creates a USB bus scanner
func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{
		logger:  logger.With(zap.String("scanner", "usb")),
		bridges: discovery.NewBridgeDatabase(),
		timeout: defaultScanTimeout,
	}
}

// ScannerType returns "usb"
func (s *Scanner) ScannerType() string {
	return "usb"
}

// IsAvailable reports whether libusb can enumerate the bus
func (s *Scanner) IsAvailable() bool {
	if _, err := listDescriptors(); err != nil {
		s.logger.Debug("USB bus not accessible", zap.Error(err))
		return false
	}
	return true
}

// Scan returns one entry per known bridge on the bus
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.Port, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		descs []*gousb.DeviceDesc
		err   error
	}
	done := make(chan result, 1)
	go func() {
		descs, err := listDescriptors()
		done <- result{descs, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", res.err)
	}

	var ports []*discovery.Port
	for _, desc := range res.descs {
		if port := s.describe(desc); port != nil {
			ports = append(ports, port)
		}
	}

	s.logger.Debug("USB scan completed",
		zap.Int("devices_examined", len(res.descs)),
		zap.Int("bridges_found", len(ports)),
		zap.Duration("scan_duration", time.Since(startTime)),
	)
	return ports, nil
}

func (s *Scanner) describe(desc *gousb.DeviceDesc) *discovery.Port {
	vid := fmt.Sprintf("%04X", uint16(desc.Vendor))
	pid := fmt.Sprintf("%04X", uint16(desc.Product))

	bridge := s.bridges.Lookup(vid, pid)
	if bridge == nil {
		return nil
	}

	return &discovery.Port{
		Path:       fmt.Sprintf("usb:%d-%d", desc.Bus, desc.Address),
		Kind:       KindBridge,
		IsUSB:      true,
		VendorID:   vid,
		ProductID:  pid,
		Bridge:     bridge.Vendor + " " + bridge.Chip,
		Confidence: bridge.Confidence,
	}
}
