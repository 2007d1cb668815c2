package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubSource struct {
	mu    sync.Mutex
	calls []string
	delay time.Duration

	rpm, speed, temp Measurement
}

func (s *stubSource) read(ctx context.Context, name string, m Measurement) (int, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return unavailable, ctx.Err()
		case <-time.After(delay):
		}
	}
	return m.Value, m.Err
}

func (s *stubSource) ReadRPM(ctx context.Context) (int, error) {
	return s.read(ctx, "rpm", s.rpm)
}

func (s *stubSource) ReadSpeed(ctx context.Context) (int, error) {
	return s.read(ctx, "speed", s.speed)
}

func (s *stubSource) ReadCoolantTemp(ctx context.Context) (int, error) {
	return s.read(ctx, "temperature", s.temp)
}

func (s *stubSource) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type countingObserver struct {
	cycles atomic.Int64
}

func (c *countingObserver) ObserveCycle(r Reading, d time.Duration) {
	c.cycles.Add(1)
}

func TestCycleQueriesInOrderAndPublishes(t *testing.T) {
	src := &stubSource{rpm: ok(1726), speed: ok(80), temp: ok(85)}
	state := NewState()
	p := NewPoller(src, state, 0, zaptest.NewLogger(t))

	r := p.Cycle(context.Background())

	assert.Equal(t, []string{"rpm", "speed", "temperature"}, src.callLog())
	assert.True(t, r.RPM.OK())
	assert.Equal(t, Snapshot{RPM: 1726, Speed: 80, Temperature: 85}, withoutTime(state.Snapshot()))
}

func TestCycleFailedQueries(t *testing.T) {
	src := &stubSource{rpm: ok(1000), speed: ok(50), temp: ok(90)}
	state := NewState()
	p := NewPoller(src, state, 0, zaptest.NewLogger(t))
	p.Cycle(context.Background())

	src.rpm, src.speed, src.temp = failed(), ok(55), failed()
	r := p.Cycle(context.Background())

	// RPM keeps its last value; the coolant sentinel passes the -40 floor
	assert.False(t, r.Temperature.OK())
	assert.Equal(t, Snapshot{RPM: 1000, Speed: 55, Temperature: -1}, withoutTime(state.Snapshot()))
}

func TestCycleCancelledPublishesNothing(t *testing.T) {
	src := &stubSource{rpm: ok(1000), speed: ok(50), temp: ok(90)}
	state := NewState()
	p := NewPoller(src, state, 0, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := p.Cycle(ctx)

	assert.False(t, r.RPM.OK())
	assert.Empty(t, src.callLog())
	assert.Equal(t, NewState().Snapshot(), state.Snapshot())
}

func TestPollerStartStop(t *testing.T) {
	src := &stubSource{rpm: ok(700), speed: ok(0), temp: ok(60)}
	state := NewState()
	obs := &countingObserver{}
	p := NewPoller(src, state, 5*time.Millisecond, zaptest.NewLogger(t))
	p.SetObserver(obs)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrPollerRunning)
	assert.True(t, p.Running())

	assert.Eventually(t, func() bool { return obs.cycles.Load() >= 3 }, time.Second, 5*time.Millisecond)

	p.Stop()
	assert.False(t, p.Running())
	assert.Equal(t, 700, state.Snapshot().RPM)

	calls := len(src.callLog())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, len(src.callLog()))

	p.Stop()
}

func TestPollerStopInterruptsBlockedRead(t *testing.T) {
	src := &stubSource{delay: 10 * time.Second, rpm: ok(1), speed: ok(1), temp: ok(1)}
	p := NewPoller(src, NewState(), 0, zaptest.NewLogger(t))

	require.NoError(t, p.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(src.callLog()) == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	p.Stop()
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollerCanRestart(t *testing.T) {
	src := &stubSource{rpm: ok(1), speed: ok(1), temp: ok(1)}
	p := NewPoller(src, NewState(), time.Millisecond, zaptest.NewLogger(t))

	require.NoError(t, p.Start(context.Background()))
	p.Stop()
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
}

func TestPollerStopsWithParentContext(t *testing.T) {
	src := &stubSource{rpm: ok(1), speed: ok(1), temp: ok(1)}
	p := NewPoller(src, NewState(), time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !p.Running() }, time.Second, time.Millisecond)
	p.Stop()
}

func withoutTime(s Snapshot) Snapshot {
	s.UpdatedAt = time.Time{}
	return s
}
