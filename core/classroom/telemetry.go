package classroom

import "sync"

// Telemetry keeps the most recently received screen sample per student.
// Samples carry no sequence number, so "latest" means latest received, not latest produced.
type Telemetry struct {
	mu      sync.RWMutex
	samples map[string]ScreenSample
}

func NewTelemetry() *Telemetry {
	return &Telemetry{samples: make(map[string]ScreenSample)}
}

// Upsert overwrites the sample of `userID` unconditionally.
func (t *Telemetry) Upsert(userID string, sample ScreenSample) {
	t.mu.Lock()
	t.samples[userID] = sample
	t.mu.Unlock()
}

func (t *Telemetry) Get(userID string) (ScreenSample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.samples[userID]
	return s, ok
}

// Snapshot returns a copy of every sample keyed by student id.
func (t *Telemetry) Snapshot() map[string]ScreenSample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := make(map[string]ScreenSample, len(t.samples))
	for id, s := range t.samples {
		m[id] = s
	}
	return m
}

func (t *Telemetry) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}
