package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"arbwatch/internal/fetcher"
)

// QuoteTable maps source -> instrument -> quote. Tables handed out by the
// registry are shared snapshots and must not be modified.
type QuoteTable map[string]map[string]fetcher.Quote

// Sources returns the number of sources with at least one quote.
func (t QuoteTable) Sources() int {
	return len(t)
}

// Options configure the registry.
type Options struct {
	Instruments         []string
	HealthCheckInterval time.Duration
	FetchTimeout        time.Duration
	CacheTTL            time.Duration
}

// Registry owns the registered sources and the latest aggregated quote table.
type Registry struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	mu              sync.RWMutex
	sources         []fetcher.Source
	byName          map[string]fetcher.Source
	table           QuoteTable
	lastUpdate      time.Time
	lastHealthCheck time.Time
}

// New constructs an empty registry.
func New(opts Options, logger zerolog.Logger) *Registry {
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = time.Minute
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	return &Registry{
		opts:   opts,
		logger: logger.With().Str("component", "registry").Logger(),
		now:    time.Now,
		byName: make(map[string]fetcher.Source),
		table:  QuoteTable{},
	}
}

// Register adds a source. Names must be unique.
func (r *Registry) Register(src fetcher.Source) error {
	if src == nil {
		return errors.New("nil source")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[src.Name()]; exists {
		return fmt.Errorf("source %q already registered", src.Name())
	}
	r.sources = append(r.sources, src)
	r.byName[src.Name()] = src
	return nil
}

// Instruments returns the tracked instruments.
func (r *Registry) Instruments() []string {
	return append([]string(nil), r.opts.Instruments...)
}

func (r *Registry) snapshotSources() []fetcher.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]fetcher.Source(nil), r.sources...)
}

// Initialize connects every source concurrently. A failing source only
// reports false.
func (r *Registry) Initialize(ctx context.Context) map[string]bool {
	results := r.eachSource(ctx, func(ctx context.Context, src fetcher.Source) bool {
		return src.Connect(ctx)
	}, "connect")

	for name, ok := range results {
		r.logger.Info().Str("source", name).Bool("connected", ok).Msg("source initialised")
	}

	r.mu.Lock()
	r.lastHealthCheck = r.now()
	r.mu.Unlock()
	return results
}

// PerformHealthChecks probes every source concurrently.
func (r *Registry) PerformHealthChecks(ctx context.Context) map[string]bool {
	r.logger.Debug().Msg("performing health checks")
	results := r.eachSource(ctx, func(ctx context.Context, src fetcher.Source) bool {
		return src.HealthCheck(ctx)
	}, "health check")

	for _, src := range r.snapshotSources() {
		status := src.Status()
		r.logger.Info().
			Str("source", status.Name).
			Bool("healthy", results[status.Name]).
			Float64("score", status.HealthScore).
			Int("errors", status.ErrorCount).
			Dur("avg_response", status.AvgResponseTime).
			Msg("health check")
	}

	r.mu.Lock()
	r.lastHealthCheck = r.now()
	r.mu.Unlock()
	return results
}

func (r *Registry) eachSource(ctx context.Context, fn func(context.Context, fetcher.Source) bool, op string) map[string]bool {
	sources := r.snapshotSources()
	var (
		mu      sync.Mutex
		results = make(map[string]bool, len(sources))
		g       errgroup.Group
	)
	for _, src := range sources {
		g.Go(func() error {
			ok := false
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error().Str("source", src.Name()).Interface("panic", rec).Msgf("%s panicked", op)
				}
				mu.Lock()
				results[src.Name()] = ok
				mu.Unlock()
			}()
			ok = fn(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Registry) healthCheckDue() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now().Sub(r.lastHealthCheck) > r.opts.HealthCheckInterval
}

type fetchResult struct {
	source string
	quotes map[string]fetcher.Quote
	err    error
}

// FetchAllQuotes fans out to every connected source and swaps in the new
// table once the fan-out completes or the outer timeout expires. Failing or
// panicking sources are logged and left out; it never returns an error.
func (r *Registry) FetchAllQuotes(ctx context.Context) QuoteTable {
	if r.healthCheckDue() {
		r.PerformHealthChecks(ctx)
	}

	var connected []fetcher.Source
	for _, src := range r.snapshotSources() {
		if src.Status().Connected {
			connected = append(connected, src)
		}
	}
	if len(connected) == 0 {
		r.logger.Warn().Msg("no connected sources available")
		return QuoteTable{}
	}

	// In-flight fetches outlive the outer timeout; each is bounded by its own request timeout.
	fetchCtx := context.WithoutCancel(ctx)
	results := make(chan fetchResult, len(connected))
	for _, src := range connected {
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					results <- fetchResult{source: src.Name(), err: fmt.Errorf("panic: %v", rec)}
				}
			}()
			quotes, err := src.FetchAllTickers(fetchCtx)
			results <- fetchResult{source: src.Name(), quotes: quotes, err: err}
		}()
	}

	timer := time.NewTimer(r.opts.FetchTimeout)
	defer timer.Stop()

	table := make(QuoteTable, len(connected))
	pending := len(connected)
collect:
	for pending > 0 {
		select {
		case res := <-results:
			pending--
			if res.err != nil {
				r.logger.Error().Err(res.err).Str("source", res.source).Msg("fetch failed")
				continue
			}
			if len(res.quotes) > 0 {
				table[res.source] = res.quotes
			}
		case <-timer.C:
			r.logger.Warn().Int("pending", pending).Dur("timeout", r.opts.FetchTimeout).Msg("fetch timed out, using partial results")
			break collect
		case <-ctx.Done():
			r.logger.Warn().Int("pending", pending).Msg("fetch cancelled, using partial results")
			break collect
		}
	}

	r.mu.Lock()
	r.table = table
	r.lastUpdate = r.now()
	r.mu.Unlock()

	r.logger.Info().Int("sources", len(table)).Msg("fetched quotes")
	return table
}

// Table returns the cached quote table and when it was fetched.
func (r *Registry) Table() (QuoteTable, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table, r.lastUpdate
}

// GetQuote serves from cache when fresh, otherwise tries one direct fetch
// from a connected source.
func (r *Registry) GetQuote(ctx context.Context, source, instrument string) (fetcher.Quote, bool) {
	r.mu.RLock()
	q, cached := r.table[source][instrument]
	fresh := r.now().Sub(r.lastUpdate) < r.opts.CacheTTL
	src, known := r.byName[source]
	r.mu.RUnlock()

	if cached && fresh {
		return q, true
	}
	if !known || !src.Status().Connected {
		return fetcher.Quote{}, false
	}

	q, err := src.FetchTicker(ctx, instrument)
	if err != nil {
		r.logger.Debug().Err(err).Str("source", source).Str("instrument", instrument).Msg("direct fetch failed")
		return fetcher.Quote{}, false
	}
	return q, true
}

// Statuses returns every source's status in registration order.
func (r *Registry) Statuses() []fetcher.SourceStatus {
	sources := r.snapshotSources()
	out := make([]fetcher.SourceStatus, 0, len(sources))
	for _, src := range sources {
		out = append(out, src.Status())
	}
	return out
}

// ConnectedSources lists the names of currently connected sources.
func (r *Registry) ConnectedSources() []string {
	var out []string
	for _, src := range r.snapshotSources() {
		if src.Status().Connected {
			out = append(out, src.Name())
		}
	}
	return out
}
