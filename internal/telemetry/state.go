package telemetry

import (
	"sync"
	"time"
)

const (
	// InitialTemperature is shown before the first successful coolant read.
	InitialTemperature = 20

	unavailable    = -1
	minTemperature = -40
)

// Snapshot is a consistent copy of the latest readings.
type Snapshot struct {
	RPM         int       `json:"rpm"`
	Speed       int       `json:"speed"`
	Temperature int       `json:"temperature"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Measurement is one query result. Err is set when the query failed.
type Measurement struct {
	Value int
	Err   error
}

// OK reports whether the measurement produced a value.
func (m Measurement) OK() bool {
	return m.Err == nil
}

// Reading holds the three measurements of one poll cycle.
type Reading struct {
	RPM         Measurement
	Speed       Measurement
	Temperature Measurement
}

// Each calls fn for every measurement, named rpm, speed and temperature.
func (r Reading) Each(fn func(name string, m Measurement)) {
	fn("rpm", r.RPM)
	fn("speed", r.Speed)
	fn("temperature", r.Temperature)
}

// State is the telemetry triple shared between the poller and consumers.
// Fields are accepted by value: RPM and speed unless they are the -1
// sentinel, temperature whenever it is at least -40. Rejected values leave
// the previous one in place.
type State struct {
	mutex    sync.Mutex
	snapshot Snapshot
}

// NewState returns a state with RPM and speed unavailable and the
// placeholder temperature.
func NewState() *State {
	return &State{snapshot: Snapshot{
		RPM:         unavailable,
		Speed:       unavailable,
		Temperature: InitialTemperature,
	}}
}

// Apply publishes the acceptable values of r and reports whether any field
// changed. Err is not consulted, so a failed coolant query whose sentinel
// is -1 shows as -1 °C.
func (s *State) Apply(r Reading) bool {
	now := time.Now()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	updated := false
	if r.RPM.Value != unavailable {
		s.snapshot.RPM = r.RPM.Value
		updated = true
	}
	if r.Speed.Value != unavailable {
		s.snapshot.Speed = r.Speed.Value
		updated = true
	}
	if r.Temperature.Value >= minTemperature {
		s.snapshot.Temperature = r.Temperature.Value
		updated = true
	}
	if updated {
		s.snapshot.UpdatedAt = now
	}
	return updated
}

// Snapshot returns a copy of the current readings.
func (s *State) Snapshot() Snapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.snapshot
}

// Reset restores the initial values.
func (s *State) Reset() {
	s.mutex.Lock()
	s.snapshot = NewState().snapshot
	s.mutex.Unlock()
}
