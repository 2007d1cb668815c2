package telemetry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errQuery = errors.New("no response")

func ok(v int) Measurement         { return Measurement{Value: v} }
func failed() Measurement          { return Measurement{Value: unavailable, Err: errQuery} }
func failedWith(v int) Measurement { return Measurement{Value: v, Err: errQuery} }

func TestNewStateInitialValues(t *testing.T) {
	snap := NewState().Snapshot()
	assert.Equal(t, -1, snap.RPM)
	assert.Equal(t, -1, snap.Speed)
	assert.Equal(t, InitialTemperature, snap.Temperature)
	assert.True(t, snap.UpdatedAt.IsZero())
}

func TestApplyKeepsPreviousValuesOnFailure(t *testing.T) {
	s := NewState()
	assert.True(t, s.Apply(Reading{RPM: ok(1726), Speed: ok(80), Temperature: ok(85)}))

	assert.False(t, s.Apply(Reading{RPM: failed(), Speed: failed(), Temperature: failedWith(-41)}))

	snap := s.Snapshot()
	assert.Equal(t, 1726, snap.RPM)
	assert.Equal(t, 80, snap.Speed)
	assert.Equal(t, 85, snap.Temperature)
}

func TestApplyUpdatesFieldsIndependently(t *testing.T) {
	s := NewState()
	s.Apply(Reading{RPM: ok(800), Speed: failed(), Temperature: ok(-40)})

	snap := s.Snapshot()
	assert.Equal(t, 800, snap.RPM)
	assert.Equal(t, -1, snap.Speed)
	assert.Equal(t, -40, snap.Temperature)
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestApplyAcceptsValuesRegardlessOfError(t *testing.T) {
	s := NewState()
	s.Apply(Reading{RPM: ok(900), Speed: ok(10), Temperature: ok(70)})

	assert.True(t, s.Apply(Reading{RPM: failed(), Speed: failed(), Temperature: failed()}))

	snap := s.Snapshot()
	assert.Equal(t, 900, snap.RPM)
	assert.Equal(t, 10, snap.Speed)
	assert.Equal(t, -1, snap.Temperature, "failed coolant query shows its sentinel")

	s.Apply(Reading{RPM: failedWith(0), Speed: failedWith(0), Temperature: failedWith(-40)})

	snap = s.Snapshot()
	assert.Zero(t, snap.RPM)
	assert.Zero(t, snap.Speed)
	assert.Equal(t, -40, snap.Temperature)
}

func TestApplyAcceptsZeroReadings(t *testing.T) {
	s := NewState()
	s.Apply(Reading{RPM: ok(0), Speed: ok(0), Temperature: ok(0)})

	snap := s.Snapshot()
	assert.Zero(t, snap.RPM)
	assert.Zero(t, snap.Speed)
	assert.Zero(t, snap.Temperature)
}

func TestReset(t *testing.T) {
	s := NewState()
	s.Apply(Reading{RPM: ok(3000), Speed: ok(120), Temperature: ok(95)})
	s.Reset()
	assert.Equal(t, NewState().Snapshot(), s.Snapshot())
}

func TestSnapshotIsConsistentUnderConcurrentWrites(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.Apply(Reading{RPM: ok(i), Speed: ok(i), Temperature: ok(i)})
		}
	}()

	for i := 0; i < 1000; i++ {
		snap := s.Snapshot()
		if snap.RPM >= 0 {
			assert.Equal(t, snap.RPM, snap.Speed)
			assert.Equal(t, snap.RPM, snap.Temperature)
		}
	}
	wg.Wait()
}
