package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"arbwatch/internal/opportunity"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Detection.Interval != 15*time.Second || cfg.Detection.FailureBackoff != 10*time.Second {
		t.Fatalf("unexpected detection defaults %+v", cfg.Detection)
	}
	if cfg.Detection.MinSpreadPercent != 0.05 || cfg.Detection.HistoryRetention != 24*time.Hour {
		t.Fatalf("unexpected detection defaults %+v", cfg.Detection)
	}
	if cfg.Health.Interval != time.Minute || cfg.Health.CacheTTL != 30*time.Second {
		t.Fatalf("unexpected health defaults %+v", cfg.Health)
	}
	if len(cfg.Instruments) != 8 || len(cfg.EnabledSources()) != 3 {
		t.Fatalf("默认应有 8 个交易对和 3 个数据源, got %d/%d", len(cfg.Instruments), len(cfg.EnabledSources()))
	}
	if cfg.Scoring.VolumeCaps["BTC"] != 0.5 {
		t.Fatalf("scoring defaults not applied: %+v", cfg.Scoring.VolumeCaps)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
instruments: ["btc/usd", "SOL/USD"]
sources:
  - name: kraken
    schema: kraken
    symbols:
      SOL/USD: SOLUSD
  - name: mirror
    schema: kucoin
    base_url: http://localhost:9000
    rate_limit: 5
  - name: off
    schema: bitfinex
    enabled: false
scoring:
  volume_caps:
    SOL: 250
alerts:
  - name: wide btc
    instrument: BTC/USD
    min_spread_percent: 0.4
    max_risk_tier: high
  - name: defaults
`)
	t.Setenv("ARBWATCH_DETECTION_MIN_SPREAD_PERCENT", "0.2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Detection.MinSpreadPercent != 0.2 {
		t.Fatalf("env override ignored: %v", cfg.Detection.MinSpreadPercent)
	}
	if cfg.Instruments[0] != "BTC/USD" {
		t.Fatalf("instruments should be upper-cased: %v", cfg.Instruments)
	}
	if len(cfg.EnabledSources()) != 2 {
		t.Fatalf("disabled source should be skipped")
	}

	schema, err := cfg.Sources[0].ResolveSchema()
	if err != nil {
		t.Fatalf("ResolveSchema: %v", err)
	}
	if schema.NativeSymbol("SOL/USD") != "SOLUSD" {
		t.Fatalf("symbol override lost (viper lowercases keys): %v", schema.Symbols)
	}

	opts, err := cfg.Sources[1].HTTPOptions(cfg.Instruments)
	if err != nil {
		t.Fatalf("HTTPOptions: %v", err)
	}
	if opts.Schema.BaseURL != "http://localhost:9000" || opts.RateLimit != 5 || opts.Retry.Attempts != 3 {
		t.Fatalf("unexpected options %+v", opts)
	}

	if cfg.Scoring.VolumeCaps["SOL"] != 250 || cfg.Scoring.VolumeCaps["BTC"] != 0.5 {
		t.Fatalf("volume caps should merge onto defaults: %v", cfg.Scoring.VolumeCaps)
	}

	wide, err := cfg.Alerts[0].Condition()
	if err != nil {
		t.Fatalf("Condition: %v", err)
	}
	if wide.MinSpreadPercent != 0.4 || wide.MaxRiskTier != opportunity.RiskHigh || !wide.Enabled {
		t.Fatalf("unexpected rule %+v", wide)
	}
	defaults, _ := cfg.Alerts[1].Condition()
	if defaults.MinSpreadPercent != 0.1 || defaults.MinConfidenceScore != 0.5 || defaults.MaxRiskTier != opportunity.RiskMediumHigh {
		t.Fatalf("omitted thresholds should default: %+v", defaults)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := map[string]string{
		"single source": `
sources:
  - name: kraken
    schema: kraken
`,
		"unknown schema": `
sources:
  - name: a
    schema: nope
  - name: b
    schema: kraken
`,
		"bad risk tier": `
alerts:
  - name: x
    max_risk_tier: extreme
`,
		"telegram without token": `
alerting:
  telegram:
    enabled: true
`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("%s: 应校验失败", name)
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 10}}
	if cfg.ResolveMaxPoints(0) != 10 || cfg.ResolveMaxPoints(3) != 3 {
		t.Fatal("ResolveMaxPoints mismatch")
	}
}

func TestUpperKeys(t *testing.T) {
	got := upperKeys(map[string]float64{"btc": 1})
	if _, ok := got["BTC"]; !ok || len(got) != 1 {
		t.Fatalf("upperKeys = %v", got)
	}
	if upperKeys[float64](nil) != nil {
		t.Fatal("nil stays nil")
	}
}

func TestScoringOverrideReplacesDefaultKey(t *testing.T) {
	path := writeConfig(t, `
scoring:
  volume_caps:
    BTC: 1
    doge: 5000
  volume_scales:
    eth: 20
`)
	for i := 0; i < 50; i++ {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		caps := cfg.Scoring.VolumeCaps
		if caps["BTC"] != 1 {
			t.Fatalf("run %d: BTC cap = %v, 配置值应覆盖默认值", i, caps["BTC"])
		}
		if caps["DOGE"] != 5000 || caps["ETH"] != 5 {
			t.Fatalf("run %d: unexpected caps %v", i, caps)
		}
		if _, lower := caps["btc"]; lower {
			t.Fatalf("run %d: lower-case key survived: %v", i, caps)
		}
		if cfg.Scoring.VolumeScales["ETH"] != 20 || cfg.Scoring.VolumeScales["BTC"] != 2 {
			t.Fatalf("run %d: unexpected scales %v", i, cfg.Scoring.VolumeScales)
		}
	}
}

func TestOverlayUpper(t *testing.T) {
	got := overlayUpper(map[string]float64{"BTC": 0.5, "ETH": 5}, map[string]float64{"btc": 1})
	if len(got) != 2 || got["BTC"] != 1 || got["ETH"] != 5 {
		t.Fatalf("overlayUpper = %v", got)
	}
}
