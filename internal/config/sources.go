package config

import (
	"fmt"
	"time"

	"arbwatch/internal/alerting"
	"arbwatch/internal/fetcher"
	"arbwatch/internal/opportunity"
)

// SourceConfig declares one quote source. Schema names a built-in mapping
// that the remaining fields override.
type SourceConfig struct {
	Name           string            `mapstructure:"name"`
	Schema         string            `mapstructure:"schema"`
	BaseURL        string            `mapstructure:"base_url"`
	TickerPath     string            `mapstructure:"ticker_path"`
	StatusPath     string            `mapstructure:"status_path"`
	Symbols        map[string]string `mapstructure:"symbols"`
	Fields         fetcher.FieldMap  `mapstructure:"fields"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	RateLimit      float64           `mapstructure:"rate_limit"`
	Burst          int               `mapstructure:"burst"`
	MaxConcurrency int               `mapstructure:"max_concurrency"`
	RetryAttempts  int               `mapstructure:"retry_attempts"`
	RetryBackoff   time.Duration     `mapstructure:"retry_backoff"`
	UserAgent      string            `mapstructure:"user_agent"`
	Enabled        *bool             `mapstructure:"enabled"`
}

func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ResolveSchema merges the overrides onto the named built-in schema and validates the result.
func (s SourceConfig) ResolveSchema() (fetcher.Schema, error) {
	return fetcher.ResolveSchema(s.Schema, fetcher.Schema{
		Name:       s.Name,
		BaseURL:    s.BaseURL,
		TickerPath: s.TickerPath,
		StatusPath: s.StatusPath,
		Symbols:    s.Symbols,
		Fields:     s.Fields,
	})
}

// HTTPOptions builds adapter options for the given instruments.
func (s SourceConfig) HTTPOptions(instruments []string) (fetcher.HTTPOptions, error) {
	schema, err := s.ResolveSchema()
	if err != nil {
		return fetcher.HTTPOptions{}, err
	}
	retry := fetcher.DefaultRetryPolicy()
	if s.RetryAttempts > 0 {
		retry.Attempts = s.RetryAttempts
	}
	if s.RetryBackoff > 0 {
		retry.Backoff = s.RetryBackoff
	}
	return fetcher.HTTPOptions{
		Name:           s.Name,
		Schema:         schema,
		Instruments:    instruments,
		Timeout:        s.RequestTimeout,
		RateLimit:      s.RateLimit,
		Burst:          s.Burst,
		MaxConcurrency: s.MaxConcurrency,
		Retry:          retry,
		UserAgent:      s.UserAgent,
	}, nil
}

// AlertRuleConfig declares an alert condition. Omitted thresholds take the
// alerting defaults.
type AlertRuleConfig struct {
	ID                 string   `mapstructure:"id"`
	Name               string   `mapstructure:"name"`
	Instrument         string   `mapstructure:"instrument"`
	MinSpreadPercent   *float64 `mapstructure:"min_spread_percent"`
	MinProfitPotential *float64 `mapstructure:"min_profit_potential"`
	MinConfidenceScore *float64 `mapstructure:"min_confidence_score"`
	PreferredSources   []string `mapstructure:"preferred_sources"`
	MaxRiskTier        string   `mapstructure:"max_risk_tier"`
	Enabled            *bool    `mapstructure:"enabled"`
}

// Condition converts the rule, applying defaults.
func (r AlertRuleConfig) Condition() (alerting.Condition, error) {
	c := alerting.DefaultCondition()
	c.ID = r.ID
	c.Name = r.Name
	c.Instrument = r.Instrument
	c.PreferredSources = r.PreferredSources
	if r.MinSpreadPercent != nil {
		c.MinSpreadPercent = *r.MinSpreadPercent
	}
	if r.MinProfitPotential != nil {
		c.MinProfitPotential = *r.MinProfitPotential
	}
	if r.MinConfidenceScore != nil {
		c.MinConfidenceScore = *r.MinConfidenceScore
	}
	if r.Enabled != nil {
		c.Enabled = *r.Enabled
	}
	if r.MaxRiskTier != "" {
		tier, err := opportunity.ParseRiskTier(r.MaxRiskTier)
		if err != nil {
			return alerting.Condition{}, err
		}
		c.MaxRiskTier = tier
	}
	if c.MinSpreadPercent < 0 || c.MinProfitPotential < 0 || c.MinConfidenceScore < 0 {
		return alerting.Condition{}, fmt.Errorf("alert %q: thresholds must not be negative", r.Name)
	}
	return c, nil
}

// EnabledSources returns the sources that are switched on.
func (c *Config) EnabledSources() []SourceConfig {
	var out []SourceConfig
	for _, s := range c.Sources {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}
