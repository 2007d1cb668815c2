// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// PortScanner lists candidate adapter ports of one kind
type PortScanner interface {
	Scan(ctx context.Context) ([]*Port, error)
	ScannerType() string
	IsAvailable() bool
}

// Port describes a device node an adapter may be attached to
type Port struct {
	Path         string  `json:"path"`
	Kind         string  `json:"kind"`
	IsUSB        bool    `json:"is_usb"`
	VendorID     string  `json:"vendor_id,omitempty"`
	ProductID    string  `json:"product_id,omitempty"`
	SerialNumber string  `json:"serial_number,omitempty"`
	Product      string  `json:"product,omitempty"`
	Bridge       string  `json:"bridge,omitempty"`
	Confidence   float64 `json:"confidence"` // 0.0-1.0 that an ELM327 is attached
}

// ScannerManager runs every registered scanner
type ScannerManager struct {
	scanners map[string]PortScanner
	logger   *zap.Logger
}

// NewScannerManager creates an empty manager
func NewScannerManager(logger *zap.Logger) *ScannerManager {
	return &ScannerManager{
		scanners: make(map[string]PortScanner),
		logger:   logger,
	}
}

// RegisterScanner adds scanner, replacing one of the same type
func (sm *ScannerManager) RegisterScanner(scanner PortScanner) {
	scannerType := scanner.ScannerType()
	sm.scanners[scannerType] = scanner
	sm.logger.Info("Scanner registered", zap.String("type", scannerType))
}

// ScanAll merges the results of all available scanners, most likely
// adapters first. A failing scanner is logged and skipped.
func (sm *ScannerManager) ScanAll(ctx context.Context) ([]*Port, error) {
	ports := []*Port{}

	for scannerType, scanner := range sm.scanners {
		if !scanner.IsAvailable() {
			sm.logger.Debug("Scanner not available, skipping", zap.String("type", scannerType))
			continue
		}

		found, err := scanner.Scan(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			sm.logger.Error("Scanner failed", zap.String("type", scannerType), zap.Error(err))
			continue
		}

		ports = append(ports, found...)
		sm.logger.Info("Scanner completed",
			zap.String("type", scannerType),
			zap.Int("ports_found", len(found)),
		)
	}

	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].Confidence != ports[j].Confidence {
			return ports[i].Confidence > ports[j].Confidence
		}
		return ports[i].Path < ports[j].Path
	})
	return ports, nil
}

// ScanByType runs a single scanner
func (sm *ScannerManager) ScanByType(ctx context.Context, scannerType string) ([]*Port, error) {
	scanner, exists := sm.scanners[scannerType]
	if !exists {
		return nil, fmt.Errorf("scanner type not found: %s", scannerType)
	}

	if !scanner.IsAvailable() {
		return nil, fmt.Errorf("scanner not available: %s", scannerType)
	}

	return scanner.Scan(ctx)
}

// AvailableScanners returns the types that can currently scan
func (sm *ScannerManager) AvailableScanners() []string {
	available := []string{}
	for scannerType, scanner := range sm.scanners {
		if scanner.IsAvailable() {
			available = append(available, scannerType)
		}
	}
	sort.Strings(available)
	return available
}
