package publish

import (
	"context"
	"errors"
	"time"

	"arbwatch/internal/alerting"
	"arbwatch/internal/fetcher"
	"arbwatch/internal/opportunity"
)

// EventType names a push event.
type EventType string

const (
	EventArbitrageUpdate EventType = "arbitrage_update"
	EventAlertTriggered  EventType = "alert_triggered"
	EventHealthUpdate    EventType = "health_update"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// ArbitrageUpdate is emitted after every detection cycle.
type ArbitrageUpdate struct {
	Opportunities    []opportunity.Opportunity `json:"opportunities"`
	Timestamp        time.Time                 `json:"timestamp"`
	DetectionTime    float64                   `json:"detection_time"`
	ConnectedSources []string                  `json:"connected_sources"`
	TriggeredAlerts  int                       `json:"triggered_alerts"`
}

// AlertTriggered carries the matches of one cycle.
type AlertTriggered struct {
	Triggers  []alerting.Trigger `json:"alerts"`
	Timestamp time.Time          `json:"timestamp"`
}

// HealthUpdate is emitted by the slower health cycle.
type HealthUpdate struct {
	Sources          []fetcher.SourceStatus `json:"sources"`
	ConnectedSources []string               `json:"connected_sources"`
	Timestamp        time.Time              `json:"timestamp"`
}

// Publisher delivers events on a best-effort basis.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Multi fans an event out to every publisher.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Publisher = Multi(nil)
