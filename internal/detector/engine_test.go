package detector

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"arbwatch/internal/aggregator"
	"arbwatch/internal/fetcher"
	"arbwatch/internal/opportunity"
)

type fakeProvider struct {
	table       aggregator.QuoteTable
	instruments []string
	panics      bool
}

func (f *fakeProvider) FetchAllQuotes(context.Context) aggregator.QuoteTable {
	if f.panics {
		panic("registry exploded")
	}
	return f.table
}

func (f *fakeProvider) Instruments() []string { return f.instruments }

func quote(bid, ask float64) fetcher.Quote {
	return fetcher.Quote{Bid: bid, Ask: ask}
}

func newEngine(p *fakeProvider, minSpread float64) (*Engine, *time.Time) {
	e := New(p, Options{MinSpreadPercent: minSpread}, zerolog.Nop())
	now := time.Unix(1700000000, 0)
	e.now = func() time.Time { return now }
	return e, &now
}

func TestThresholdBoundary(t *testing.T) {
	p := &fakeProvider{
		instruments: []string{"BTC/USD"},
		table: aggregator.QuoteTable{
			"A": {"BTC/USD": quote(9.9, 10)},
			"B": {"BTC/USD": quote(10.06, 10.2)},
		},
	}

	e, _ := newEngine(p, 0.6)
	opps := e.DetectOpportunities(context.Background())
	if len(opps) != 1 {
		t.Fatalf("threshold 0.6%% should yield 1 opportunity, got %d", len(opps))
	}
	if opps[0].BuySource != "A" || opps[0].SellSource != "B" || opps[0].SpreadPercent != 0.6 {
		t.Fatalf("unexpected opportunity %+v", opps[0])
	}

	e, _ = newEngine(p, 0.61)
	if opps := e.DetectOpportunities(context.Background()); len(opps) != 0 {
		t.Fatalf("threshold 0.61%% should yield none, got %d", len(opps))
	}
}

func TestOnlyProfitableDirection(t *testing.T) {
	p := &fakeProvider{
		instruments: []string{"ETH/USD"},
		table: aggregator.QuoteTable{
			"X": {"ETH/USD": quote(99.5, 100)},
			"Y": {"ETH/USD": quote(101, 101.5)},
		},
	}
	e, _ := newEngine(p, 0.05)
	opps := e.DetectOpportunities(context.Background())
	if len(opps) != 1 {
		t.Fatalf("expected exactly one direction, got %d", len(opps))
	}
	if opps[0].BuySource != "X" || opps[0].SellSource != "Y" {
		t.Fatalf("应为 X 买入 Y 卖出, got %s -> %s", opps[0].BuySource, opps[0].SellSource)
	}
}

func TestFewerThanTwoSources(t *testing.T) {
	p := &fakeProvider{
		instruments: []string{"BTC/USD"},
		table:       aggregator.QuoteTable{"A": {"BTC/USD": quote(1, 2)}},
	}
	e, _ := newEngine(p, 0)
	if opps := e.DetectOpportunities(context.Background()); len(opps) != 0 {
		t.Fatalf("single source must yield nothing")
	}
	if e.Stats().TotalDetections != 0 {
		t.Fatal("short-circuited cycles are not counted")
	}
}

func TestInstrumentQuotedByOneSourceIsSkipped(t *testing.T) {
	p := &fakeProvider{
		instruments: []string{"BTC/USD", "ETH/USD"},
		table: aggregator.QuoteTable{
			"A": {"BTC/USD": quote(1, 2), "ETH/USD": quote(10, 11)},
			"B": {"BTC/USD": quote(3, 4)},
		},
	}
	e, _ := newEngine(p, 0)
	for _, o := range e.DetectOpportunities(context.Background()) {
		if o.Instrument == "ETH/USD" {
			t.Fatal("ETH quoted by one source only")
		}
	}
}

func TestPanicYieldsEmptyCycle(t *testing.T) {
	e, _ := newEngine(&fakeProvider{panics: true}, 0)
	if opps := e.DetectOpportunities(context.Background()); len(opps) != 0 {
		t.Fatalf("panic should yield empty result")
	}
}

func TestSortedByProfitThenSpread(t *testing.T) {
	vol := func(v float64) *float64 { return &v }
	p := &fakeProvider{
		instruments: []string{"XRP/USD", "LTC/USD", "ADA/USD"},
		table: aggregator.QuoteTable{
			"A": {
				"XRP/USD": {Bid: 0.4, Ask: 0.5, AskVolume: vol(100)},
				"LTC/USD": {Bid: 60, Ask: 70},
				"ADA/USD": {Bid: 0.2, Ask: 0.3},
			},
			"B": {
				"XRP/USD": {Bid: 0.6, Ask: 0.7, BidVolume: vol(100)},
				"LTC/USD": {Bid: 71, Ask: 72},
				"ADA/USD": {Bid: 0.33, Ask: 0.4},
			},
		},
	}
	e, _ := newEngine(p, 0)
	opps := e.DetectOpportunities(context.Background())
	if len(opps) != 3 {
		t.Fatalf("expected 3 opportunities, got %d", len(opps))
	}
	if opps[0].Instrument != "XRP/USD" {
		t.Fatalf("highest profit first, got %s", opps[0].Instrument)
	}
	// zero-profit entries ordered by spread percent: ADA 10% before LTC 1.43%
	if opps[1].Instrument != "ADA/USD" || opps[2].Instrument != "LTC/USD" {
		t.Fatalf("ties should break on spread percent, got %s, %s", opps[1].Instrument, opps[2].Instrument)
	}
}

func TestHistoryRetentionAndFrequency(t *testing.T) {
	p := &fakeProvider{
		instruments: []string{"BTC/USD"},
		table: aggregator.QuoteTable{
			"A": {"BTC/USD": quote(99, 100)},
			"B": {"BTC/USD": quote(101, 102)},
		},
	}
	e, now := newEngine(p, 0)

	first := e.DetectOpportunities(context.Background())
	if len(first) != 1 || first[0].HistoricalFrequency != 1 {
		t.Fatalf("first sighting should have frequency 1, got %+v", first)
	}

	// a second pair enters history one hour later
	*now = now.Add(time.Hour)
	p.table["C"] = map[string]fetcher.Quote{"BTC/USD": quote(98, 98.5)}
	second := e.DetectOpportunities(context.Background())
	for _, o := range second {
		if o.BuySource == "A" && o.SellSource == "B" && math.Abs(o.HistoricalFrequency-2.0/float64(len(e.History()))) > 1e-9 {
			t.Fatalf("A->B frequency = %v", o.HistoricalFrequency)
		}
	}

	*now = now.Add(24*time.Hour + time.Second)
	delete(p.table, "C")
	third := e.DetectOpportunities(context.Background())
	history := e.History()
	for _, h := range history {
		if !h.Timestamp.After(now.Add(-24 * time.Hour)) {
			t.Fatalf("entry older than 24h retained: %v", h.Timestamp)
		}
	}
	if len(history) != 1 || len(third) != 1 || third[0].HistoricalFrequency != 1 {
		t.Fatalf("only the current sighting should remain, got %+v (history %d)", third, len(history))
	}
	if got := e.Analytics().Historical.TotalOpportunities; got != len(history) {
		t.Fatalf("historical analytics = %d, want %d", got, len(history))
	}
}

func TestAnalytics(t *testing.T) {
	p := &fakeProvider{
		instruments: []string{"BTC/USD"},
		table: aggregator.QuoteTable{
			"A": {"BTC/USD": quote(99, 100)},
			"B": {"BTC/USD": quote(102, 103)},
		},
	}
	e, _ := newEngine(p, 0)
	opps := e.DetectOpportunities(context.Background())

	a := e.Analytics()
	if a.Current.TotalOpportunities != len(opps) || a.Current.MaxSpreadPercent != 2 {
		t.Fatalf("unexpected current analytics %+v", a.Current)
	}
	if a.Historical.OpportunitiesPerHour != float64(len(opps))/24 {
		t.Fatalf("per hour = %v", a.Historical.OpportunitiesPerHour)
	}
	if a.Detection.TotalDetections != 1 || a.Detection.OpportunitiesFound != len(opps) {
		t.Fatalf("unexpected stats %+v", a.Detection)
	}
	if _, ok := e.Opportunity(opps[0].ID); !ok {
		t.Fatal("live opportunity should be addressable by id")
	}
	if got := e.OpportunitiesFor("ETH/USD"); len(got) != 0 {
		t.Fatalf("unexpected ETH opportunities %v", got)
	}
}

func TestStatsWindowIsBounded(t *testing.T) {
	p := &fakeProvider{
		instruments: []string{"BTC/USD"},
		table: aggregator.QuoteTable{
			"A": {"BTC/USD": quote(1, 2)},
			"B": {"BTC/USD": quote(1, 2)},
		},
	}
	e := New(p, Options{StatsWindow: 5, Policy: opportunity.DefaultPolicy()}, zerolog.Nop())
	for i := 0; i < 12; i++ {
		e.DetectOpportunities(context.Background())
	}
	e.mu.RLock()
	n := len(e.durations)
	e.mu.RUnlock()
	if n != 5 {
		t.Fatalf("durations window = %d, want 5", n)
	}
	if e.Stats().TotalDetections != 12 {
		t.Fatalf("total detections = %d", e.Stats().TotalDetections)
	}
}
