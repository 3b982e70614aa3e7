package fetcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StaticSource serves fixed quotes from memory. It backs alert simulation and tests.
type StaticSource struct {
	name    string
	tracker *Tracker
	logger  zerolog.Logger

	mu     sync.RWMutex
	quotes map[string]Quote
	err    error
	now    func() time.Time
}

// NewStaticSource builds a source that quotes the given instruments.
func NewStaticSource(name string, quotes map[string]Quote, logger zerolog.Logger) *StaticSource {
	instruments := make([]string, 0, len(quotes))
	stored := make(map[string]Quote, len(quotes))
	for instrument, q := range quotes {
		q.Source = name
		q.Instrument = instrument
		stored[instrument] = q
		instruments = append(instruments, instrument)
	}
	sort.Strings(instruments)

	return &StaticSource{
		name:    name,
		tracker: NewTracker(name, instruments),
		logger:  logger.With().Str("component", "source").Str("source", name).Logger(),
		quotes:  stored,
		now:     time.Now,
	}
}

// Set replaces the quote for one instrument.
func (s *StaticSource) Set(instrument string, bid, ask float64) {
	s.mu.Lock()
	q := s.quotes[instrument]
	q.Source = s.name
	q.Instrument = instrument
	q.Bid = bid
	q.Ask = ask
	s.quotes[instrument] = q
	s.mu.Unlock()
}

// SetError makes every subsequent fetch fail with err; nil clears it.
func (s *StaticSource) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *StaticSource) Name() string {
	return s.name
}

func (s *StaticSource) Instruments() []string {
	return s.tracker.Status().Instruments
}

func (s *StaticSource) Status() SourceStatus {
	return s.tracker.Status()
}

func (s *StaticSource) Connect(context.Context) bool {
	s.mu.RLock()
	err := s.err
	s.mu.RUnlock()
	if err != nil {
		s.tracker.RecordError()
		return false
	}
	s.tracker.SetConnected(true)
	return true
}

func (s *StaticSource) FetchTicker(_ context.Context, instrument string) (Quote, error) {
	if !s.tracker.Connected() {
		return Quote{}, fmt.Errorf("%s: %w", s.name, ErrNotConnected)
	}
	start := time.Now()

	s.mu.RLock()
	q, ok := s.quotes[instrument]
	err := s.err
	s.mu.RUnlock()

	s.tracker.RecordLatency(time.Since(start))
	if err != nil {
		s.tracker.RecordError()
		return Quote{}, err
	}
	if !ok {
		s.tracker.RecordError()
		return Quote{}, fmt.Errorf("%w: %s has no quote for %s", ErrMalformedQuote, s.name, instrument)
	}
	if err := q.Validate(); err != nil {
		s.tracker.RecordError()
		s.logger.Warn().Err(err).Str("instrument", instrument).Msg("rejected ticker")
		return Quote{}, err
	}

	q.Timestamp = s.now()
	return q, nil
}

func (s *StaticSource) FetchAllTickers(ctx context.Context) (map[string]Quote, error) {
	return fetchAll(ctx, s, 0, s.tracker, s.logger)
}

func (s *StaticSource) HealthCheck(ctx context.Context) bool {
	return probeHealth(ctx, s, s.tracker)
}

var _ Source = (*StaticSource)(nil)
