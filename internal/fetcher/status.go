package fetcher

import (
	"sync"
	"time"
)

const latencyWindow = 10

// SourceStatus is a point-in-time view of a source's connectivity and performance.
type SourceStatus struct {
	Name            string        `json:"name"`
	Connected       bool          `json:"connected"`
	LastUpdate      time.Time     `json:"last_update"`
	ErrorCount      int           `json:"error_count"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	Instruments     []string      `json:"supported_instruments"`
	HealthScore     float64       `json:"health_score"`
}

// HealthScore maps connectivity, error count and mean latency onto [0,1].
func HealthScore(connected bool, errorCount int, avgResponse time.Duration) float64 {
	if !connected {
		return 0
	}

	score := 0.5
	score -= min(float64(errorCount)*0.05, 0.3)

	avg := avgResponse.Seconds()
	switch {
	case avg < 1.0:
		score += min((1.0-avg)*0.2, 0.2)
	case avg > 3.0:
		score -= min((avg-3.0)*0.1, 0.3)
	}

	return max(0, min(1, score))
}

// Tracker keeps the mutable health state shared by source implementations.
type Tracker struct {
	mu          sync.Mutex
	name        string
	instruments []string
	connected   bool
	lastUpdate  time.Time
	errorCount  int
	latencies   []time.Duration
}

// NewTracker constructs a tracker for the named source.
func NewTracker(name string, instruments []string) *Tracker {
	return &Tracker{
		name:        name,
		instruments: append([]string(nil), instruments...),
		latencies:   make([]time.Duration, 0, latencyWindow),
	}
}

func (t *Tracker) SetConnected(connected bool) {
	t.mu.Lock()
	t.connected = connected
	t.mu.Unlock()
}

func (t *Tracker) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Tracker) RecordError() {
	t.mu.Lock()
	t.errorCount++
	t.mu.Unlock()
}

// RecordLatency appends to the rolling window, evicting the oldest sample at capacity.
func (t *Tracker) RecordLatency(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.latencies) == latencyWindow {
		copy(t.latencies, t.latencies[1:])
		t.latencies = t.latencies[:latencyWindow-1]
	}
	t.latencies = append(t.latencies, d)
}

func (t *Tracker) Touch(at time.Time) {
	t.mu.Lock()
	t.lastUpdate = at
	t.mu.Unlock()
}

// Status returns a copy of the current state with the derived health score.
func (t *Tracker) Status() SourceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	var avg time.Duration
	if len(t.latencies) > 0 {
		var total time.Duration
		for _, l := range t.latencies {
			total += l
		}
		avg = total / time.Duration(len(t.latencies))
	}

	return SourceStatus{
		Name:            t.name,
		Connected:       t.connected,
		LastUpdate:      t.lastUpdate,
		ErrorCount:      t.errorCount,
		AvgResponseTime: avg,
		Instruments:     append([]string(nil), t.instruments...),
		HealthScore:     HealthScore(t.connected, t.errorCount, avg),
	}
}
