package alerting

import (
	"slices"

	"arbwatch/internal/opportunity"
)

// Condition 描述一条用户定义的告警规则。
type Condition struct {
	ID                 string               `json:"id" mapstructure:"id"`
	Name               string               `json:"name" mapstructure:"name"`
	Instrument         string               `json:"instrument,omitempty" mapstructure:"instrument"`
	MinSpreadPercent   float64              `json:"min_spread_percent" mapstructure:"min_spread_percent"`
	MinProfitPotential float64              `json:"min_profit_potential" mapstructure:"min_profit_potential"`
	MinConfidenceScore float64              `json:"min_confidence_score" mapstructure:"min_confidence_score"`
	PreferredSources   []string             `json:"preferred_sources,omitempty" mapstructure:"preferred_sources"`
	MaxRiskTier        opportunity.RiskTier `json:"max_risk_tier" mapstructure:"max_risk_tier"`
	Enabled            bool                 `json:"enabled" mapstructure:"enabled"`
}

// DefaultCondition returns the thresholds applied when a rule omits them.
func DefaultCondition() Condition {
	return Condition{
		MinSpreadPercent:   0.1,
		MinConfidenceScore: 0.5,
		MaxRiskTier:        opportunity.RiskMediumHigh,
		Enabled:            true,
	}
}

// Matches 判断机会是否满足规则。
func (c Condition) Matches(o opportunity.Opportunity) bool {
	if !c.Enabled {
		return false
	}
	if c.Instrument != "" && c.Instrument != o.Instrument {
		return false
	}
	if o.SpreadPercent < c.MinSpreadPercent ||
		o.ProfitPotential < c.MinProfitPotential ||
		o.ConfidenceScore < c.MinConfidenceScore {
		return false
	}
	if len(c.PreferredSources) > 0 &&
		!slices.Contains(c.PreferredSources, o.BuySource) &&
		!slices.Contains(c.PreferredSources, o.SellSource) {
		return false
	}
	return o.RiskTier <= c.MaxRiskTier
}

// Trigger pairs a matching condition with the opportunity it matched.
type Trigger struct {
	Condition   Condition               `json:"condition"`
	Opportunity opportunity.Opportunity `json:"opportunity"`
}
