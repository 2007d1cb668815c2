package obd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"obd-service/internal/protocol"
	"obd-service/internal/utils"
)

// Command outcomes reported to a CommandObserver.
const (
	OutcomeOK           = "ok"
	OutcomeUnprompted   = "unprompted"
	OutcomeTimeout      = "timeout"
	OutcomeIOError      = "io_error"
	OutcomeNotConnected = "not_connected"
	OutcomeCancelled    = "cancelled"
)

// ChannelConfig bounds a single command/response exchange.
type ChannelConfig struct {
	// ResponseSize is the response buffer capacity including the
	// terminator slot, so at most ResponseSize-1 bytes are kept.
	ResponseSize int `json:"response_size"`

	// SettleDelay is waited after the write before the first read.
	SettleDelay time.Duration `json:"settle_delay"`

	// ReadBudget is the total time spent collecting a response.
	ReadBudget time.Duration `json:"read_budget"`

	// PollInterval caps a single blocking read so cancellation is noticed.
	PollInterval time.Duration `json:"poll_interval"`
}

// DefaultChannelConfig returns the ELM327 exchange timings.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		ResponseSize: 256,
		SettleDelay:  100 * time.Millisecond,
		ReadBudget:   time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

// Response is the raw text an adapter returned for one command.
type Response struct {
	Raw      []byte
	Prompted bool
	Elapsed  time.Duration
}

func (r Response) String() string {
	return string(r.Raw)
}

// Bytes returns the hex payload of the response.
func (r Response) Bytes() []byte {
	return ParseHex(string(r.Raw))
}

// CommandObserver receives one call per exchange.
type CommandObserver interface {
	ObserveCommand(command, outcome string, responseBytes int, duration time.Duration)
}

// Channel runs command/response exchanges over a transport. Exchanges are
// serialized; the adapter handles one command at a time.
type Channel struct {
	transport protocol.Transport
	config    ChannelConfig
	logger    *utils.AdapterLogger
	observer  CommandObserver

	mutex sync.Mutex
}

// NewChannel creates a channel. Zero fields in config take their defaults.
func NewChannel(transport protocol.Transport, config ChannelConfig, logger *zap.Logger) *Channel {
	defaults := DefaultChannelConfig()
	if config.ResponseSize < 2 {
		config.ResponseSize = defaults.ResponseSize
	}
	if config.ReadBudget <= 0 {
		config.ReadBudget = defaults.ReadBudget
	}
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}

	return &Channel{
		transport: transport,
		config:    config,
		logger:    utils.NewAdapterLogger(logger, transport.Path()),
	}
}

// SetObserver installs an observer for completed exchanges.
func (c *Channel) SetObserver(observer CommandObserver) {
	c.mutex.Lock()
	c.observer = observer
	c.mutex.Unlock()
}

// Config returns the effective exchange settings.
func (c *Channel) Config() ChannelConfig {
	return c.config
}

// SendCommand writes cmd terminated by a carriage return and collects the
// reply until the prompt appears, the buffer fills, or the read budget is
// spent. A reply that never showed the prompt is still returned with
// Prompted set to false. Only an exchange in which no byte arrived at all
// fails with ErrTimeout.
func (c *Channel) SendCommand(ctx context.Context, cmd string) (Response, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	start := time.Now()
	resp, outcome, err := c.exchange(ctx, cmd)
	resp.Elapsed = time.Since(start)

	c.logger.LogCommand(cmd, resp.Raw, resp.Prompted, resp.Elapsed, err)
	if c.observer != nil {
		c.observer.ObserveCommand(cmd, outcome, len(resp.Raw), resp.Elapsed)
	}

	if err != nil {
		return resp, &CommandError{Command: cmd, Err: err}
	}
	if !resp.Prompted {
		c.logger.Warn("Adapter response ended without prompt",
			zap.String("command", cmd),
			zap.Int("response_bytes", len(resp.Raw)),
		)
	}
	return resp, nil
}

func (c *Channel) exchange(ctx context.Context, cmd string) (Response, string, error) {
	if !c.transport.IsOpen() {
		return Response{}, OutcomeNotConnected, ErrNotConnected
	}

	if err := c.transport.Flush(); err != nil {
		c.logger.Warn("Failed to discard buffered data", zap.Error(err))
	}

	frame := Frame(cmd)
	n, err := c.transport.Write(ctx, frame)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, OutcomeCancelled, ctxErr
		}
		return Response{}, OutcomeIOError, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if n != len(frame) {
		return Response{}, OutcomeIOError, fmt.Errorf("%w: wrote %d of %d bytes", ErrIO, n, len(frame))
	}

	if err := sleepContext(ctx, c.config.SettleDelay); err != nil {
		return Response{}, OutcomeCancelled, err
	}

	return c.readResponse(ctx)
}

func (c *Channel) readResponse(ctx context.Context) (Response, string, error) {
	buf := make([]byte, c.config.ResponseSize-1)
	total := 0
	deadline := time.Now().Add(c.config.ReadBudget)

	var readErr error
	prompted := false

	for total < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wait := remaining
		if c.config.PollInterval > 0 && wait > c.config.PollInterval {
			wait = c.config.PollInterval
		}

		if err := ctx.Err(); err != nil {
			return Response{Raw: buf[:total]}, OutcomeCancelled, err
		}

		n, err := c.transport.ReadTimeout(ctx, buf[total:], wait)
		if n > 0 {
			prompted = bytes.IndexByte(buf[total:total+n], Prompt) >= 0
			total += n
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Response{Raw: buf[:total]}, OutcomeCancelled, ctxErr
			}
			readErr = err
			break
		}
		if prompted {
			break
		}
	}

	resp := Response{Raw: buf[:total], Prompted: prompted}
	if total == 0 {
		if readErr != nil {
			return resp, OutcomeTimeout, fmt.Errorf("%w: %w", ErrTimeout, readErr)
		}
		return resp, OutcomeTimeout, fmt.Errorf("%w after %s", ErrTimeout, c.config.ReadBudget)
	}
	if readErr != nil {
		c.logger.Warn("Read failed after partial response", zap.Error(readErr))
	}
	if !prompted {
		return resp, OutcomeUnprompted, nil
	}
	return resp, OutcomeOK, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTimeout reports whether err means the adapter never answered.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
