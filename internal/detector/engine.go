package detector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"arbwatch/internal/aggregator"
	"arbwatch/internal/opportunity"
)

// QuoteProvider supplies one aggregated snapshot per cycle.
type QuoteProvider interface {
	FetchAllQuotes(ctx context.Context) aggregator.QuoteTable
	Instruments() []string
}

// Options configure detection.
type Options struct {
	MinSpreadPercent float64
	Retention        time.Duration
	StatsWindow      int
	Policy           opportunity.Policy
}

// Stats summarise recent detection cycles.
type Stats struct {
	TotalDetections    int           `json:"total_detections"`
	OpportunitiesFound int           `json:"opportunities_found"`
	AvgDetectionTime   time.Duration `json:"avg_detection_time"`
	LastDetectionTime  time.Duration `json:"last_detection_time"`
}

// Engine compares quotes pairwise across sources and keeps the live
// opportunity set plus a rolling history.
type Engine struct {
	quotes QuoteProvider
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	live      []opportunity.Opportunity
	byID      map[string]opportunity.Opportunity
	history   []opportunity.Opportunity
	durations []time.Duration
	total     int
	found     int
}

// New constructs an Engine.
func New(quotes QuoteProvider, opts Options, logger zerolog.Logger) *Engine {
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = 100
	}
	if opts.Policy.SpreadDivisor == 0 {
		opts.Policy = opportunity.DefaultPolicy()
	}
	return &Engine{
		quotes: quotes,
		opts:   opts,
		logger: logger.With().Str("component", "detector").Logger(),
		now:    time.Now,
		byID:   make(map[string]opportunity.Opportunity),
	}
}

// DetectOpportunities runs one cycle against a fresh snapshot. Failures,
// including panics, are logged and yield an empty result.
func (e *Engine) DetectOpportunities(ctx context.Context) (opps []opportunity.Opportunity) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error().Interface("panic", rec).Msg("detection cycle failed")
			opps = nil
		}
	}()

	start := time.Now()
	table := e.quotes.FetchAllQuotes(ctx)
	if table.Sources() < 2 {
		e.logger.Warn().Int("sources", table.Sources()).Msg("need at least 2 sources for detection")
		return nil
	}

	at := e.now()
	opps = Compare(table, e.quotes.Instruments(), e.opts.MinSpreadPercent, e.opts.Policy, at)
	opps = e.record(opps, at, time.Since(start))

	if len(opps) == 0 {
		e.logger.Debug().Dur("took", time.Since(start)).Msg("no opportunities")
		return opps
	}
	e.logger.Info().Int("count", len(opps)).Dur("took", time.Since(start)).Msg("opportunities found")
	for _, o := range opps[:min(3, len(opps))] {
		e.logger.Info().
			Str("instrument", o.Instrument).
			Str("buy", o.BuySource).
			Str("sell", o.SellSource).
			Float64("spread_pct", o.SpreadPercent).
			Float64("profit", o.ProfitPotential).
			Msg("opportunity")
	}
	return opps
}

// Compare evaluates every ordered pair of distinct sources per instrument
// and returns the qualifying opportunities sorted for reporting.
func Compare(table aggregator.QuoteTable, instruments []string, minSpreadPercent float64, policy opportunity.Policy, at time.Time) []opportunity.Opportunity {
	sources := make([]string, 0, len(table))
	for name := range table {
		sources = append(sources, name)
	}
	sort.Strings(sources)

	var out []opportunity.Opportunity
	for _, instrument := range instruments {
		var quoting []string
		for _, name := range sources {
			if _, ok := table[name][instrument]; ok {
				quoting = append(quoting, name)
			}
		}
		if len(quoting) < 2 {
			continue
		}

		for _, buyName := range quoting {
			for _, sellName := range quoting {
				if buyName == sellName {
					continue
				}
				buy, sell := table[buyName][instrument], table[sellName][instrument]
				spread, pct := opportunity.Gap(buy.Ask, sell.Bid)
				if spread <= 0 || pct < minSpreadPercent {
					continue
				}
				out = append(out, opportunity.New(opportunity.Raw{
					Instrument: instrument,
					BuySource:  buyName,
					SellSource: sellName,
					BuyPrice:   buy.Ask,
					SellPrice:  sell.Bid,
					BuyVolume:  buy.AskVolume,
					SellVolume: sell.BidVolume,
					Timestamp:  at,
				}, policy))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProfitPotential != out[j].ProfitPotential {
			return out[i].ProfitPotential > out[j].ProfitPotential
		}
		if out[i].SpreadPercent != out[j].SpreadPercent {
			return out[i].SpreadPercent > out[j].SpreadPercent
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// record swaps the live table, extends and prunes history and annotates
// each new opportunity with its historical frequency.
func (e *Engine) record(opps []opportunity.Opportunity, at time.Time, took time.Duration) []opportunity.Opportunity {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, opps...)
	e.history = prune(e.history, at.Add(-e.opts.Retention))

	counts := make(map[string]int)
	for _, h := range e.history {
		counts[h.Route()]++
	}
	denominator := float64(max(1, len(e.history)))

	annotated := make([]opportunity.Opportunity, len(opps))
	for i, o := range opps {
		annotated[i] = o.WithFrequency(float64(counts[o.Route()]) / denominator)
	}
	copy(e.history[len(e.history)-len(annotated):], annotated)

	e.live = annotated
	e.byID = make(map[string]opportunity.Opportunity, len(annotated))
	for _, o := range annotated {
		e.byID[o.ID] = o
	}

	e.total++
	e.found += len(annotated)
	if len(e.durations) == e.opts.StatsWindow {
		copy(e.durations, e.durations[1:])
		e.durations = e.durations[:len(e.durations)-1]
	}
	e.durations = append(e.durations, took)

	return append([]opportunity.Opportunity(nil), annotated...)
}

func prune(history []opportunity.Opportunity, cutoff time.Time) []opportunity.Opportunity {
	kept := history[:0]
	for _, h := range history {
		if h.Timestamp.After(cutoff) {
			kept = append(kept, h)
		}
	}
	clear(history[len(kept):])
	return kept
}

// Opportunities returns the live set in reporting order.
func (e *Engine) Opportunities() []opportunity.Opportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]opportunity.Opportunity(nil), e.live...)
}

// OpportunitiesFor returns the live opportunities for one instrument.
func (e *Engine) OpportunitiesFor(instrument string) []opportunity.Opportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []opportunity.Opportunity
	for _, o := range e.live {
		if o.Instrument == instrument {
			out = append(out, o)
		}
	}
	return out
}

// Opportunity looks up a live opportunity by id.
func (e *Engine) Opportunity(id string) (opportunity.Opportunity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.byID[id]
	return o, ok
}

// History returns retained opportunities, oldest first.
func (e *Engine) History() []opportunity.Opportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]opportunity.Opportunity(nil), e.history...)
}

// Stats reports cycle counters and the mean cycle duration over the window.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statsLocked()
}

func (e *Engine) statsLocked() Stats {
	s := Stats{TotalDetections: e.total, OpportunitiesFound: e.found}
	if n := len(e.durations); n > 0 {
		var sum time.Duration
		for _, d := range e.durations {
			sum += d
		}
		s.AvgDetectionTime = sum / time.Duration(n)
		s.LastDetectionTime = e.durations[n-1]
	}
	return s
}
