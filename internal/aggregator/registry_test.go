package aggregator

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"arbwatch/internal/fetcher"
)

// faultySource wraps a static source and misbehaves on FetchAllTickers.
type faultySource struct {
	*fetcher.StaticSource
	panics bool
	delay  time.Duration
	calls  atomic.Int32
}

func (f *faultySource) FetchAllTickers(ctx context.Context) (map[string]fetcher.Quote, error) {
	f.calls.Add(1)
	if f.panics {
		panic("exchange exploded")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.StaticSource.FetchAllTickers(ctx)
}

func static(name string, bid, ask float64) *fetcher.StaticSource {
	return fetcher.NewStaticSource(name, map[string]fetcher.Quote{
		"BTC/USD": {Bid: bid, Ask: ask},
	}, zerolog.Nop())
}

func newRegistry(t *testing.T, opts Options, sources ...fetcher.Source) *Registry {
	t.Helper()
	if opts.Instruments == nil {
		opts.Instruments = []string{"BTC/USD"}
	}
	r := New(opts, zerolog.Nop())
	for _, src := range sources {
		if err := r.Register(src); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return r
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newRegistry(t, Options{}, static("a", 1, 2))
	if err := r.Register(static("a", 1, 2)); err == nil {
		t.Fatal("重复注册应报错")
	}
}

func TestInitializeToleratesPartialFailure(t *testing.T) {
	bad := static("bad", 1, 2)
	bad.SetError(errors.New("down"))
	r := newRegistry(t, Options{}, static("a", 1, 2), bad)

	results := r.Initialize(context.Background())
	if !results["a"] || results["bad"] {
		t.Fatalf("unexpected init results %v", results)
	}
	if got := r.ConnectedSources(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("connected = %v", got)
	}
}

func TestFetchAllQuotesSurvivesPanickingSource(t *testing.T) {
	boom := &faultySource{StaticSource: static("boom", 99, 100), panics: true}
	r := newRegistry(t, Options{}, static("a", 100, 101), static("b", 100.5, 101.5), boom)
	r.Initialize(context.Background())

	table := r.FetchAllQuotes(context.Background())
	if len(table) != 2 {
		t.Fatalf("expected 2 sources, got %d: %v", len(table), table)
	}
	if _, ok := table["boom"]; ok {
		t.Fatal("panicking source must be excluded")
	}
	if boom.calls.Load() != 1 {
		t.Fatalf("panicking source should have been called once")
	}
	cached, _ := r.Table()
	if len(cached) != 2 {
		t.Fatal("cache should hold the completed fan-out")
	}
}

func TestFetchAllQuotesExcludesErroringSource(t *testing.T) {
	bad := static("bad", 1, 2)
	r := newRegistry(t, Options{}, static("a", 100, 101), static("b", 100, 101), bad)
	r.Initialize(context.Background())
	bad.SetError(errors.New("timeout"))

	table := r.FetchAllQuotes(context.Background())
	if len(table) != 2 || table["a"] == nil || table["b"] == nil {
		t.Fatalf("unexpected table %v", table)
	}
}

func TestFetchAllQuotesOuterTimeoutKeepsPartialResults(t *testing.T) {
	slow := &faultySource{StaticSource: static("slow", 1, 2), delay: 500 * time.Millisecond}
	r := newRegistry(t, Options{FetchTimeout: 50 * time.Millisecond}, static("fast", 1, 2), slow)
	r.Initialize(context.Background())

	start := time.Now()
	table := r.FetchAllQuotes(context.Background())
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("outer timeout not honoured: %v", elapsed)
	}
	if len(table) != 1 || table["fast"] == nil {
		t.Fatalf("expected only the fast source, got %v", table)
	}
}

func TestFetchAllQuotesRunsDueHealthChecks(t *testing.T) {
	src := static("a", 1, 2)
	r := newRegistry(t, Options{HealthCheckInterval: time.Minute}, src)

	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }
	r.Initialize(context.Background())

	src.SetError(errors.New("down"))
	now = now.Add(2 * time.Minute)
	table := r.FetchAllQuotes(context.Background())
	if len(table) != 0 {
		t.Fatalf("source failing its health check should not be fetched, got %v", table)
	}
	if len(r.ConnectedSources()) != 0 {
		t.Fatal("health check should have disconnected the source")
	}
}

func TestGetQuoteCacheThenDirect(t *testing.T) {
	src := static("a", 1, 2)
	r := newRegistry(t, Options{CacheTTL: 30 * time.Second}, src)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }
	r.Initialize(context.Background())
	r.FetchAllQuotes(context.Background())

	src.Set("BTC/USD", 5, 6)
	q, ok := r.GetQuote(context.Background(), "a", "BTC/USD")
	if !ok || q.Bid != 1 {
		t.Fatalf("fresh cache should be served, got %+v %v", q, ok)
	}

	now = now.Add(31 * time.Second)
	q, ok = r.GetQuote(context.Background(), "a", "BTC/USD")
	if !ok || q.Bid != 5 {
		t.Fatalf("stale cache should trigger a direct fetch, got %+v %v", q, ok)
	}

	if _, ok := r.GetQuote(context.Background(), "missing", "BTC/USD"); ok {
		t.Fatal("unknown source should not be found")
	}
}

func TestMarketSummary(t *testing.T) {
	r := newRegistry(t, Options{}, static("a", 99, 101), static("b", 101, 103))
	if _, ok := r.MarketSummary(); ok {
		t.Fatal("summary should be empty before the first fetch")
	}
	r.Initialize(context.Background())
	r.FetchAllQuotes(context.Background())

	summary, ok := r.MarketSummary()
	if !ok {
		t.Fatal("summary should be available")
	}
	btc := summary.Instruments["BTC/USD"]
	if btc.MinMid != 100 || btc.MaxMid != 102 || btc.AvgMid != 101 {
		t.Fatalf("unexpected mid stats %+v", btc)
	}
	if math.Abs(btc.MidStdDev-1) > 1e-9 {
		t.Fatalf("stddev = %v, want 1", btc.MidStdDev)
	}
	if summary.ConnectedSources != 2 || summary.TotalSources != 2 || btc.SourceCount != 2 {
		t.Fatalf("unexpected counts %+v", summary)
	}
}
