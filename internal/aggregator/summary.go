package aggregator

import (
	"math"
	"time"
)

// PriceLevel is one source's top of book for an instrument.
type PriceLevel struct {
	Bid  float64  `json:"bid"`
	Ask  float64  `json:"ask"`
	Mid  float64  `json:"mid"`
	Last *float64 `json:"last,omitempty"`
}

// QuoteSpread is the bid/ask gap within a single source.
type QuoteSpread struct {
	Absolute float64 `json:"absolute"`
	Percent  float64 `json:"percent"`
}

// VolumeLevel is the quoted size on each side.
type VolumeLevel struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// InstrumentSummary compares one instrument across sources.
type InstrumentSummary struct {
	Prices      map[string]PriceLevel  `json:"prices"`
	Spreads     map[string]QuoteSpread `json:"spreads"`
	Volumes     map[string]VolumeLevel `json:"volumes"`
	MinMid      float64                `json:"min_price"`
	MaxMid      float64                `json:"max_price"`
	AvgMid      float64                `json:"avg_price"`
	MidStdDev   float64                `json:"price_stddev"`
	SourceCount int                    `json:"source_count"`
}

// MarketSummary is a cross-source view of the cached quote table.
type MarketSummary struct {
	TotalInstruments int                          `json:"total_instruments"`
	ConnectedSources int                          `json:"connected_sources"`
	TotalSources     int                          `json:"total_sources"`
	LastUpdate       time.Time                    `json:"last_update"`
	Instruments      map[string]InstrumentSummary `json:"instruments"`
}

// MarketSummary summarises the cached table. ok is false before the first fetch.
func (r *Registry) MarketSummary() (MarketSummary, bool) {
	table, lastUpdate := r.Table()
	if len(table) == 0 {
		return MarketSummary{}, false
	}

	instruments := r.Instruments()
	summary := MarketSummary{
		TotalInstruments: len(instruments),
		ConnectedSources: len(r.ConnectedSources()),
		TotalSources:     len(r.snapshotSources()),
		LastUpdate:       lastUpdate,
		Instruments:      make(map[string]InstrumentSummary, len(instruments)),
	}

	for _, instrument := range instruments {
		s := InstrumentSummary{
			Prices:  make(map[string]PriceLevel),
			Spreads: make(map[string]QuoteSpread),
			Volumes: make(map[string]VolumeLevel),
		}
		var mids []float64
		for source, quotes := range table {
			q, ok := quotes[instrument]
			if !ok {
				continue
			}
			mid := q.Mid()
			s.Prices[source] = PriceLevel{Bid: q.Bid, Ask: q.Ask, Mid: mid, Last: q.LastPrice}
			s.Spreads[source] = QuoteSpread{Absolute: q.Spread(), Percent: q.SpreadPercent()}
			if q.BidVolume != nil && q.AskVolume != nil {
				s.Volumes[source] = VolumeLevel{Bid: *q.BidVolume, Ask: *q.AskVolume}
			}
			mids = append(mids, mid)
		}
		s.SourceCount = len(mids)
		s.MinMid, s.MaxMid, s.AvgMid, s.MidStdDev = midStats(mids)
		summary.Instruments[instrument] = s
	}
	return summary, true
}

// midStats returns min, max, mean and population standard deviation.
func midStats(mids []float64) (lo, hi, mean, stddev float64) {
	if len(mids) == 0 {
		return 0, 0, 0, 0
	}
	lo, hi = mids[0], mids[0]
	var sum float64
	for _, m := range mids {
		lo = min(lo, m)
		hi = max(hi, m)
		sum += m
	}
	mean = sum / float64(len(mids))
	if len(mids) > 1 {
		var variance float64
		for _, m := range mids {
			variance += (m - mean) * (m - mean)
		}
		stddev = math.Sqrt(variance / float64(len(mids)))
	}
	return lo, hi, mean, stddev
}
