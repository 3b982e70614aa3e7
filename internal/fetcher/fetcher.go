package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrNotConnected is returned when a source is asked for data before a successful Connect.
	ErrNotConnected = errors.New("source not connected")
	// ErrMalformedQuote marks a ticker response without a usable bid/ask.
	ErrMalformedQuote = errors.New("malformed quote")
	// ErrCrossedBook marks a ticker whose bid is not strictly below its ask.
	ErrCrossedBook = errors.New("crossed book")
	// ErrSourceRejected marks an error object returned by the source itself.
	ErrSourceRejected = errors.New("source rejected request")
	// ErrUnknownSchema is returned when a schema name has no built-in definition.
	ErrUnknownSchema = errors.New("unknown source schema")
)

// Quote is a normalised top-of-book reading from one source for one instrument.
type Quote struct {
	Source             string    `json:"source"`
	Instrument         string    `json:"instrument"`
	Bid                float64   `json:"bid"`
	Ask                float64   `json:"ask"`
	Timestamp          time.Time `json:"timestamp"`
	BidVolume          *float64  `json:"bid_volume,omitempty"`
	AskVolume          *float64  `json:"ask_volume,omitempty"`
	LastPrice          *float64  `json:"last_price,omitempty"`
	DailyChange        *float64  `json:"daily_change,omitempty"`
	DailyChangePercent *float64  `json:"daily_change_percent,omitempty"`
}

// Validate enforces finite prices, bid>0, ask>0 and bid<ask.
func (q Quote) Validate() error {
	if !finite(q.Bid) || !finite(q.Ask) || q.Bid <= 0 || q.Ask <= 0 {
		return fmt.Errorf("%w: %s %s bid=%v ask=%v", ErrMalformedQuote, q.Source, q.Instrument, q.Bid, q.Ask)
	}
	if q.Bid >= q.Ask {
		return fmt.Errorf("%w: %s %s bid=%v ask=%v", ErrCrossedBook, q.Source, q.Instrument, q.Bid, q.Ask)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Mid returns the midpoint of bid and ask.
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Spread returns the quoted ask-bid gap of this single source.
func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

// SpreadPercent returns Spread relative to the bid, in percent.
func (q Quote) SpreadPercent() float64 {
	if q.Bid <= 0 {
		return 0
	}
	return q.Spread() / q.Bid * 100
}

// Source is a single quote provider.
type Source interface {
	Name() string
	Instruments() []string
	Connect(ctx context.Context) bool
	FetchTicker(ctx context.Context, instrument string) (Quote, error)
	FetchAllTickers(ctx context.Context) (map[string]Quote, error)
	HealthCheck(ctx context.Context) bool
	Status() SourceStatus
}

func floatPtr(v float64) *float64 {
	return &v
}
