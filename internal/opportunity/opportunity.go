package opportunity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Raw carries the observed legs of a directional price gap.
type Raw struct {
	Instrument string
	BuySource  string
	SellSource string
	BuyPrice   float64
	SellPrice  float64
	BuyVolume  *float64
	SellVolume *float64
	Timestamp  time.Time
}

// Opportunity is a scored, directional gap between two sources. Values are
// never mutated after New; WithFrequency returns an annotated copy.
type Opportunity struct {
	ID                    string    `json:"id"`
	Instrument            string    `json:"instrument"`
	BuySource             string    `json:"buy_source"`
	SellSource            string    `json:"sell_source"`
	BuyPrice              float64   `json:"buy_price"`
	SellPrice             float64   `json:"sell_price"`
	Spread                float64   `json:"spread"`
	SpreadPercent         float64   `json:"spread_percent"`
	Timestamp             time.Time `json:"timestamp"`
	BuyVolume             *float64  `json:"buy_volume,omitempty"`
	SellVolume            *float64  `json:"sell_volume,omitempty"`
	ConfidenceScore       float64   `json:"confidence_score"`
	ProfitPotential       float64   `json:"profit_potential"`
	ExecutionTimeEstimate float64   `json:"execution_time_estimate"`
	RiskTier              RiskTier  `json:"risk_tier"`
	HistoricalFrequency   float64   `json:"historical_frequency"`
}

// Gap returns sell-buy and its percentage of the buy price, computed in
// decimal so that exact inputs give exact thresholds.
func Gap(buyPrice, sellPrice float64) (spread, percent float64) {
	buy := decimal.NewFromFloat(buyPrice)
	if !buy.IsPositive() {
		return 0, 0
	}
	diff := decimal.NewFromFloat(sellPrice).Sub(buy)
	return diff.InexactFloat64(), diff.Div(buy).Mul(hundred).InexactFloat64()
}

// New scores raw under the policy.
func New(raw Raw, p Policy) Opportunity {
	spread, percent := Gap(raw.BuyPrice, raw.SellPrice)
	base := BaseAsset(raw.Instrument)

	return Opportunity{
		ID:                    ID(raw.Instrument, raw.BuySource, raw.SellSource, raw.Timestamp),
		Instrument:            raw.Instrument,
		BuySource:             raw.BuySource,
		SellSource:            raw.SellSource,
		BuyPrice:              raw.BuyPrice,
		SellPrice:             raw.SellPrice,
		Spread:                spread,
		SpreadPercent:         percent,
		Timestamp:             raw.Timestamp,
		BuyVolume:             raw.BuyVolume,
		SellVolume:            raw.SellVolume,
		ConfidenceScore:       confidence(p, base, raw, percent),
		ProfitPotential:       profit(p, base, raw, spread),
		ExecutionTimeEstimate: executionWindow(p, base, percent),
		RiskTier:              p.RiskTier(percent),
	}
}

// ID keys an opportunity by instrument, direction and second.
func ID(instrument, buySource, sellSource string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%d", instrument, buySource, sellSource, at.Unix())
}

// WithFrequency returns a copy annotated with its historical frequency.
func (o Opportunity) WithFrequency(f float64) Opportunity {
	o.HistoricalFrequency = f
	return o
}

// ExecutionWindow is ExecutionTimeEstimate as a duration.
func (o Opportunity) ExecutionWindow() time.Duration {
	return time.Duration(o.ExecutionTimeEstimate * float64(time.Second))
}

// Route keys the instrument and trade direction, ignoring time.
func (o Opportunity) Route() string {
	return o.Instrument + "|" + o.BuySource + "|" + o.SellSource
}

func confidence(p Policy, base string, raw Raw, percent float64) float64 {
	score := p.BaseConfidence
	score += min(percent/p.SpreadDivisor, p.SpreadFactorCap)

	if minVol, ok := minVolume(raw); ok {
		score += min(minVol/p.volumeScale(base), p.VolumeFactorCap)
	}
	score += p.reliability(raw.BuySource, raw.SellSource)

	return min(1.0, score)
}

func profit(p Policy, base string, raw Raw, spread float64) float64 {
	minVol, ok := minVolume(raw)
	if !ok {
		return 0
	}
	tradeable := min(minVol, p.volumeCap(base))
	return spread * p.SlippageFactor * tradeable
}

// executionWindow is in seconds.
func executionWindow(p Policy, base string, percent float64) float64 {
	factor := max(p.MinWindowFactor, 2.0-percent/p.WindowSpreadUnit)
	if containsFold(p.HighLiquidityBases, base) {
		factor *= p.HighLiquidityFactor
	}
	return p.BaseExecutionWindow.Seconds() * factor
}

// minVolume treats absent or non-positive volumes as unknown.
func minVolume(raw Raw) (float64, bool) {
	if raw.BuyVolume == nil || raw.SellVolume == nil || *raw.BuyVolume <= 0 || *raw.SellVolume <= 0 {
		return 0, false
	}
	return min(*raw.BuyVolume, *raw.SellVolume), true
}
