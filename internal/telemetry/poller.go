package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the pause between poll cycles.
const DefaultInterval = 100 * time.Millisecond

var ErrPollerRunning = errors.New("telemetry: poller already running")

// Source answers the three queries of a poll cycle.
type Source interface {
	ReadRPM(ctx context.Context) (int, error)
	ReadSpeed(ctx context.Context) (int, error)
	ReadCoolantTemp(ctx context.Context) (int, error)
}

// CycleObserver is told about every completed cycle.
type CycleObserver interface {
	ObserveCycle(r Reading, duration time.Duration)
}

// Poller reads a Source in a loop and publishes into a State. It is the
// only user of the Source while running.
type Poller struct {
	source   Source
	state    *State
	interval time.Duration
	logger   *zap.Logger
	observer CycleObserver

	mutex  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a stopped poller. A zero interval uses DefaultInterval.
func NewPoller(source Source, state *State, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		source:   source,
		state:    state,
		interval: interval,
		logger:   logger.With(zap.String("component", "poller")),
	}
}

// SetObserver must be called before Start.
func (p *Poller) SetObserver(observer CycleObserver) {
	p.observer = observer
}

// Start runs the poll loop in a new goroutine until Stop is called or ctx
// is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.done != nil {
		return ErrPollerRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	p.logger.Info("Telemetry poller started", zap.Duration("interval", p.interval))
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to unwind.
// Stopping a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mutex.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mutex.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("Telemetry poller stopped")
}

// Running reports whether the loop goroutine is active.
func (p *Poller) Running() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Run polls on the calling goroutine until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if ctx.Err() != nil {
			return
		}

		p.Cycle(ctx)

		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// Cycle queries RPM, speed and coolant temperature in that order and
// publishes the successful ones. Nothing is published if ctx is cancelled
// mid-cycle.
func (p *Poller) Cycle(ctx context.Context) Reading {
	start := time.Now()

	var r Reading
	r.RPM = measure(ctx, p.source.ReadRPM)
	r.Speed = measure(ctx, p.source.ReadSpeed)
	r.Temperature = measure(ctx, p.source.ReadCoolantTemp)

	if ctx.Err() != nil {
		return r
	}

	p.state.Apply(r)

	r.Each(func(name string, m Measurement) {
		if !m.OK() {
			p.logger.Debug("Measurement failed", zap.String("measurement", name), zap.Error(m.Err))
		}
	})
	if p.observer != nil {
		p.observer.ObserveCycle(r, time.Since(start))
	}
	return r
}

func measure(ctx context.Context, read func(context.Context) (int, error)) Measurement {
	if err := ctx.Err(); err != nil {
		return Measurement{Value: unavailable, Err: err}
	}
	v, err := read(ctx)
	return Measurement{Value: v, Err: err}
}
