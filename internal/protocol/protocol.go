// internal/protocol/protocol.go
package protocol

import (
	"context"
	"time"
)

// Port is the subset of go.bug.st/serial.Port used by the transport
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Transport represents a half-duplex byte link to an adapter.
//
// A transport is owned by exactly one goroutine at a time; only Stats and
// IsOpen may be called from elsewhere.
type Transport interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Data communication
	Write(ctx context.Context, data []byte) (int, error)
	ReadTimeout(ctx context.Context, buf []byte, timeout time.Duration) (int, error)
	Flush() error

	// Diagnostics
	Path() string
	Stats() ProtocolStats
}

// ProtocolStats provides protocol-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}
