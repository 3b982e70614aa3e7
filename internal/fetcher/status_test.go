package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHealthScore(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		errors    int
		avg       time.Duration
		want      float64
	}{
		{"disconnected", false, 0, 0, 0},
		{"fast and clean", true, 0, 0, 0.7},
		{"half second", true, 0, 500 * time.Millisecond, 0.6},
		{"neutral latency", true, 0, 2 * time.Second, 0.5},
		{"error cap", true, 20, 2 * time.Second, 0.2},
		{"slow", true, 0, 5 * time.Second, 0.3},
		{"slow cap with errors", true, 10, 10 * time.Second, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := HealthScore(tc.connected, tc.errors, tc.avg)
			if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("HealthScore = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTrackerLatencyWindowEvictsOldest(t *testing.T) {
	tr := NewTracker("s", nil)
	tr.RecordLatency(100 * time.Second)
	for i := 0; i < latencyWindow; i++ {
		tr.RecordLatency(time.Second)
	}
	if got := tr.Status().AvgResponseTime; got != time.Second {
		t.Fatalf("avg = %v, oldest sample should have been evicted", got)
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource("static", map[string]Quote{
		"BTC/USD": {Bid: 100, Ask: 101},
		"ETH/USD": {Bid: 10, Ask: 9},
	}, noopLogger())

	if _, err := src.FetchTicker(context.Background(), "BTC/USD"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before Connect, got %v", err)
	}
	if !src.Connect(context.Background()) {
		t.Fatal("connect should succeed")
	}

	quotes, err := src.FetchAllTickers(context.Background())
	if err != nil {
		t.Fatalf("FetchAllTickers: %v", err)
	}
	if len(quotes) != 1 || quotes["BTC/USD"].Source != "static" {
		t.Fatalf("crossed ETH quote should be dropped, got %v", quotes)
	}
	if src.Status().ErrorCount != 1 {
		t.Fatalf("crossed quote should count as an error")
	}

	src.SetError(errors.New("boom"))
	if src.HealthCheck(context.Background()) {
		t.Fatal("health check should fail while erroring")
	}
	if src.Status().Connected {
		t.Fatal("failed probe should mark the source disconnected")
	}
}
