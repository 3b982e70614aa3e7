package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// HTTPOptions parameterise a schema-driven HTTP source.
type HTTPOptions struct {
	Name           string
	Schema         Schema
	Instruments    []string
	Timeout        time.Duration
	RateLimit      float64
	Burst          int
	MaxConcurrency int
	Retry          RetryPolicy
	UserAgent      string
}

// HTTPSource fetches tickers from a JSON HTTP endpoint described by a Schema.
type HTTPSource struct {
	opts    HTTPOptions
	schema  Schema
	client  *http.Client
	limiter *rate.Limiter
	tracker *Tracker
	logger  zerolog.Logger
	now     func() time.Time
}

// NewHTTPSource validates the schema and constructs the source.
func NewHTTPSource(opts HTTPOptions, logger zerolog.Logger) (*HTTPSource, error) {
	if opts.Name == "" {
		opts.Name = opts.Schema.Name
	}
	if opts.Name == "" {
		return nil, errors.New("source name is required")
	}
	if err := opts.Schema.Validate(); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &HTTPSource{
		opts:    opts,
		schema:  opts.Schema,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		tracker: NewTracker(opts.Name, opts.Instruments),
		logger:  logger.With().Str("component", "source").Str("source", opts.Name).Logger(),
		now:     time.Now,
	}, nil
}

func (s *HTTPSource) Name() string {
	return s.opts.Name
}

func (s *HTTPSource) Instruments() []string {
	return append([]string(nil), s.opts.Instruments...)
}

func (s *HTTPSource) Status() SourceStatus {
	return s.tracker.Status()
}

// Connect probes the status endpoint (or the first instrument when none is
// configured). It is a no-op once connected.
func (s *HTTPSource) Connect(ctx context.Context) bool {
	if s.tracker.Connected() {
		return true
	}

	err := s.opts.Retry.Do(ctx, s.probe)
	if err != nil {
		s.tracker.RecordError()
		s.tracker.SetConnected(false)
		s.logger.Error().Err(err).Msg("connect failed")
		return false
	}

	s.tracker.SetConnected(true)
	s.logger.Info().Msg("connected")
	return true
}

func (s *HTTPSource) probe(ctx context.Context) error {
	if endpoint := s.schema.StatusURL(); endpoint != "" {
		_, err := s.getJSON(ctx, endpoint)
		return err
	}
	if len(s.opts.Instruments) == 0 {
		return nil
	}
	instrument := s.opts.Instruments[0]
	payload, err := s.getJSON(ctx, s.schema.TickerURL(instrument))
	if err != nil {
		return err
	}
	_, err = Normalize(s.opts.Name, instrument, payload, s.schema.Fields, s.now())
	return err
}

// FetchTicker returns a validated quote or an error; every failure counts against the source.
func (s *HTTPSource) FetchTicker(ctx context.Context, instrument string) (Quote, error) {
	if !s.tracker.Connected() {
		return Quote{}, fmt.Errorf("%s: %w", s.opts.Name, ErrNotConnected)
	}

	start := s.now()
	var payload any
	err := s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		payload, fetchErr = s.getJSON(ctx, s.schema.TickerURL(instrument))
		return fetchErr
	})
	s.tracker.RecordLatency(s.now().Sub(start))
	if err != nil {
		s.tracker.RecordError()
		return Quote{}, fmt.Errorf("fetch %s from %s: %w", instrument, s.opts.Name, err)
	}

	quote, err := Normalize(s.opts.Name, instrument, payload, s.schema.Fields, s.now())
	if err != nil {
		s.tracker.RecordError()
		s.logger.Warn().Err(err).Str("instrument", instrument).Msg("rejected ticker")
		return Quote{}, err
	}

	s.logger.Debug().Str("instrument", instrument).
		Float64("bid", quote.Bid).
		Float64("ask", quote.Ask).
		Msg("ticker")
	return quote, nil
}

// FetchAllTickers fetches every tracked instrument concurrently. Failed
// instruments are omitted from the result.
func (s *HTTPSource) FetchAllTickers(ctx context.Context) (map[string]Quote, error) {
	return fetchAll(ctx, s, s.opts.MaxConcurrency, s.tracker, s.logger)
}

// HealthCheck reconnects if needed and probes the first instrument.
func (s *HTTPSource) HealthCheck(ctx context.Context) bool {
	return probeHealth(ctx, s, s.tracker)
}

func (s *HTTPSource) getJSON(ctx context.Context, endpoint string) (any, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return DecodePayload(resp.Body)
}

func fetchAll(ctx context.Context, src Source, limit int, tracker *Tracker, logger zerolog.Logger) (map[string]Quote, error) {
	if !tracker.Connected() {
		return nil, fmt.Errorf("%s: %w", src.Name(), ErrNotConnected)
	}

	var (
		mu      sync.Mutex
		results = make(map[string]Quote)
		g       errgroup.Group
	)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, instrument := range src.Instruments() {
		g.Go(func() error {
			quote, err := src.FetchTicker(ctx, instrument)
			if err != nil {
				logger.Debug().Err(err).Str("instrument", instrument).Msg("instrument skipped")
				return nil
			}
			mu.Lock()
			results[instrument] = quote
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	tracker.Touch(time.Now())
	return results, nil
}

func probeHealth(ctx context.Context, src Source, tracker *Tracker) bool {
	if !tracker.Connected() && !src.Connect(ctx) {
		return false
	}
	instruments := src.Instruments()
	if len(instruments) == 0 {
		return true
	}

	_, err := src.FetchTicker(ctx, instruments[0])
	tracker.SetConnected(err == nil)
	return err == nil
}

var _ Source = (*HTTPSource)(nil)
