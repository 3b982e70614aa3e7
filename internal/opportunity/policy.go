package opportunity

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Policy holds the scoring constants. The zero value is not usable; start from DefaultPolicy.
type Policy struct {
	BaseConfidence      float64            `mapstructure:"base_confidence"`
	SpreadDivisor       float64            `mapstructure:"spread_divisor"`
	SpreadFactorCap     float64            `mapstructure:"spread_factor_cap"`
	VolumeFactorCap     float64            `mapstructure:"volume_factor_cap"`
	VolumeScales        map[string]float64 `mapstructure:"volume_scales"`
	DefaultVolumeScale  float64            `mapstructure:"default_volume_scale"`
	TrustedSources      []string           `mapstructure:"trusted_sources"`
	GoodSources         []string           `mapstructure:"good_sources"`
	TrustedBothBonus    float64            `mapstructure:"trusted_both_bonus"`
	TrustedOneBonus     float64            `mapstructure:"trusted_one_bonus"`
	GoodBothBonus       float64            `mapstructure:"good_both_bonus"`
	SlippageFactor      float64            `mapstructure:"slippage_factor"`
	VolumeCaps          map[string]float64 `mapstructure:"volume_caps"`
	DefaultVolumeCap    float64            `mapstructure:"default_volume_cap"`
	BaseExecutionWindow time.Duration      `mapstructure:"base_execution_window"`
	MinWindowFactor     float64            `mapstructure:"min_window_factor"`
	WindowSpreadUnit    float64            `mapstructure:"window_spread_unit"`
	HighLiquidityBases  []string           `mapstructure:"high_liquidity_bases"`
	HighLiquidityFactor float64            `mapstructure:"high_liquidity_factor"`
	// RiskThresholds are the exclusive lower bounds of medium-low, medium,
	// medium-high and high, in spread percent.
	RiskThresholds []float64 `mapstructure:"risk_thresholds"`
}

func DefaultPolicy() Policy {
	return Policy{
		BaseConfidence:     0.4,
		SpreadDivisor:      3,
		SpreadFactorCap:    0.25,
		VolumeFactorCap:    0.15,
		VolumeScales:       map[string]float64{"BTC": 2, "ETH": 10},
		DefaultVolumeScale: 100,
		TrustedSources:     []string{"kraken"},
		GoodSources:        []string{"kucoin", "bitfinex"},
		TrustedBothBonus:   0.15,
		TrustedOneBonus:    0.10,
		GoodBothBonus:      0.05,
		SlippageFactor:     0.9,
		VolumeCaps: map[string]float64{
			"BTC": 0.5, "ETH": 5, "XRP": 1000, "LTC": 10,
			"ADA": 1000, "DOT": 100, "LINK": 100, "UNI": 100,
		},
		DefaultVolumeCap:    100,
		BaseExecutionWindow: 30 * time.Second,
		MinWindowFactor:     0.5,
		WindowSpreadUnit:    0.5,
		HighLiquidityBases:  []string{"BTC", "ETH"},
		HighLiquidityFactor: 0.7,
		RiskThresholds:      []float64{0.1, 0.2, 0.5, 1.0},
	}
}

// Validate rejects policies that would produce out-of-range or non-monotone scores.
func (p Policy) Validate() error {
	var errs []error
	if p.SpreadDivisor <= 0 {
		errs = append(errs, errors.New("spread_divisor must be positive"))
	}
	if p.DefaultVolumeScale <= 0 {
		errs = append(errs, errors.New("default_volume_scale must be positive"))
	}
	for base, scale := range p.VolumeScales {
		if scale <= 0 {
			errs = append(errs, fmt.Errorf("volume_scales.%s must be positive", base))
		}
	}
	if p.WindowSpreadUnit <= 0 {
		errs = append(errs, errors.New("window_spread_unit must be positive"))
	}
	if p.BaseExecutionWindow <= 0 {
		errs = append(errs, errors.New("base_execution_window must be positive"))
	}
	if len(p.RiskThresholds) != int(RiskHigh) {
		errs = append(errs, fmt.Errorf("risk_thresholds needs %d values", int(RiskHigh)))
	} else if !slices.IsSorted(p.RiskThresholds) {
		errs = append(errs, errors.New("risk_thresholds must be ascending"))
	}
	return errors.Join(errs...)
}

// RiskTier maps a spread percent onto its tier using strict thresholds.
func (p Policy) RiskTier(spreadPercent float64) RiskTier {
	tier := RiskLow
	for i, threshold := range p.RiskThresholds {
		if spreadPercent > threshold {
			tier = RiskTier(i + 1)
		}
	}
	return tier
}

func (p Policy) volumeScale(base string) float64 {
	if scale, ok := p.VolumeScales[base]; ok {
		return scale
	}
	return p.DefaultVolumeScale
}

func (p Policy) volumeCap(base string) float64 {
	if limit, ok := p.VolumeCaps[base]; ok {
		return limit
	}
	return p.DefaultVolumeCap
}

func (p Policy) reliability(buy, sell string) float64 {
	trustedBuy := containsFold(p.TrustedSources, buy)
	trustedSell := containsFold(p.TrustedSources, sell)
	switch {
	case trustedBuy && trustedSell:
		return p.TrustedBothBonus
	case trustedBuy || trustedSell:
		return p.TrustedOneBonus
	case containsFold(p.GoodSources, buy) && containsFold(p.GoodSources, sell):
		return p.GoodBothBonus
	default:
		return 0
	}
}

// BaseAsset returns the part of an instrument before the first separator.
func BaseAsset(instrument string) string {
	base, _, _ := strings.Cut(instrument, "/")
	if b, _, found := strings.Cut(base, "-"); found {
		base = b
	}
	return strings.ToUpper(strings.TrimSpace(base))
}

func containsFold(list []string, v string) bool {
	return slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(s, v) })
}
