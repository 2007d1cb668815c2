package obd

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"obd-service/internal/protocol"
)

// fakeTransport replays canned replies keyed by command.
type fakeTransport struct {
	mu sync.Mutex

	path       string
	open       bool
	openErr    error
	closeErr   error
	flushErr   error
	writeErr   error
	readErr    error
	shortWrite bool

	replies map[string][]string
	pending []string

	written  []string
	timeouts []time.Duration
	reads    int
	closes   int
}

func newFakeTransport(replies map[string][]string) *fakeTransport {
	if replies == nil {
		replies = map[string][]string{}
	}
	return &fakeTransport{path: "/dev/fake0", replies: replies}
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closes++
	return f.closeErr
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return 0, errors.New("serial port not open")
	}
	f.written = append(f.written, string(data))
	if f.writeErr != nil {
		return 0, f.writeErr
	}

	cmd := strings.TrimRight(string(data), "\r")
	f.pending = append([]string(nil), f.replies[cmd]...)

	if f.shortWrite {
		return len(data) - 1, nil
	}
	return len(data), nil
}

func (f *fakeTransport) ReadTimeout(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	f.mu.Lock()
	f.reads++
	f.timeouts = append(f.timeouts, timeout)

	if len(f.pending) > 0 {
		chunk := f.pending[0]
		n := copy(buf, chunk)
		if n < len(chunk) {
			f.pending[0] = chunk[n:]
		} else {
			f.pending = f.pending[1:]
		}
		f.mu.Unlock()
		return n, nil
	}
	readErr := f.readErr
	f.mu.Unlock()

	if readErr != nil {
		return 0, readErr
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(timeout):
		return 0, nil
	}
}

func (f *fakeTransport) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
	return f.flushErr
}

func (f *fakeTransport) Path() string {
	return f.path
}

func (f *fakeTransport) Stats() protocol.ProtocolStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return protocol.ProtocolStats{IsConnected: f.open, OperationCount: int64(f.reads)}
}

func (f *fakeTransport) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func (f *fakeTransport) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type recordedCommand struct {
	command string
	outcome string
	bytes   int
}

type recordingObserver struct {
	mu       sync.Mutex
	commands []recordedCommand
}

func (r *recordingObserver) ObserveCommand(command, outcome string, responseBytes int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, recordedCommand{command, outcome, responseBytes})
}

func (r *recordingObserver) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c.outcome)
	}
	return out
}

func testChannelConfig() ChannelConfig {
	return ChannelConfig{
		ResponseSize: 256,
		SettleDelay:  time.Millisecond,
		ReadBudget:   60 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}
}
