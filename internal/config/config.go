package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"arbwatch/internal/logging"
	"arbwatch/internal/opportunity"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Logging     logging.Config     `mapstructure:"logging"`
	Detection   DetectionConfig    `mapstructure:"detection"`
	Health      HealthConfig       `mapstructure:"health"`
	Instruments []string           `mapstructure:"instruments"`
	Sources     []SourceConfig     `mapstructure:"sources"`
	Scoring     opportunity.Policy `mapstructure:"scoring"`
	Alerts      []AlertRuleConfig  `mapstructure:"alerts"`
	Alerting    AlertingConfig     `mapstructure:"alerting"`
	Publish     PublishConfig      `mapstructure:"publish"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Export      ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DetectionConfig governs the detection cycle.
type DetectionConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	MinSpreadPercent float64       `mapstructure:"min_spread_percent"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	HistoryRetention time.Duration `mapstructure:"history_retention"`
	FailureBackoff   time.Duration `mapstructure:"failure_backoff"`
	StatsWindow      int           `mapstructure:"stats_window"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	AlignToInterval  bool          `mapstructure:"align_to_interval"`
}

// HealthConfig governs source health checks and quote caching.
type HealthConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PublishConfig selects where push events go.
type PublishConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig captures the Pub/Sub connection.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity used for the cycle lock.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ARBWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	defaults := opportunity.DefaultPolicy()
	cfg := Config{Scoring: defaults}
	cfg.Scoring.VolumeScales = nil
	cfg.Scoring.VolumeCaps = nil
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize(defaults)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "arbwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("detection.interval", "15s")
	v.SetDefault("detection.min_spread_percent", 0.05)
	v.SetDefault("detection.fetch_timeout", "30s")
	v.SetDefault("detection.history_retention", "24h")
	v.SetDefault("detection.failure_backoff", "10s")
	v.SetDefault("detection.stats_window", 100)
	v.SetDefault("detection.startup_delay", "0s")
	v.SetDefault("detection.align_to_interval", false)

	v.SetDefault("health.interval", "60s")
	v.SetDefault("health.check_interval", "60s")
	v.SetDefault("health.cache_ttl", "30s")

	v.SetDefault("instruments", []string{
		"BTC/USD", "ETH/USD", "XRP/USD", "LTC/USD",
		"ADA/USD", "DOT/USD", "LINK/USD", "UNI/USD",
	})
	v.SetDefault("sources", []map[string]any{
		{"name": "kraken", "schema": "kraken"},
		{"name": "kucoin", "schema": "kucoin"},
		{"name": "bitfinex", "schema": "bitfinex"},
	})

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "5m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("publish.redis.enabled", false)
	v.SetDefault("publish.redis.addr", "localhost:6379")
	v.SetDefault("publish.redis.prefix", "arbwatch")
	v.SetDefault("publish.redis.timeout", "5s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x61726277))
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// normalize restores key case lost to viper, which lowercases map keys, and
// lays the configured per-asset scoring maps over the defaults.
func (c *Config) normalize(defaults opportunity.Policy) {
	c.Scoring.VolumeScales = overlayUpper(defaults.VolumeScales, c.Scoring.VolumeScales)
	c.Scoring.VolumeCaps = overlayUpper(defaults.VolumeCaps, c.Scoring.VolumeCaps)
	for i := range c.Instruments {
		c.Instruments[i] = strings.ToUpper(strings.TrimSpace(c.Instruments[i]))
	}
	for i := range c.Sources {
		c.Sources[i].Symbols = upperKeys(c.Sources[i].Symbols)
	}
}

// overlayUpper copies base and sets every override on top under its upper-cased key.
func overlayUpper(base, override map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(override))
	for k, v := range base {
		out[strings.ToUpper(k)] = v
	}
	for k, v := range override {
		out[strings.ToUpper(k)] = v
	}
	return out
}

func upperKeys[V any](in map[string]V) map[string]V {
	if in == nil {
		return nil
	}
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	var errs []error
	if c.Export.MaxDataPoints <= 0 {
		errs = append(errs, fmt.Errorf("export.max_data_points must be greater than zero"))
	}
	if c.Detection.Interval <= 0 {
		errs = append(errs, fmt.Errorf("detection.interval must be greater than zero"))
	}
	if c.Detection.MinSpreadPercent < 0 {
		errs = append(errs, fmt.Errorf("detection.min_spread_percent cannot be negative"))
	}
	if c.Detection.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("detection.fetch_timeout must be greater than zero"))
	}
	if c.Health.Interval <= 0 {
		errs = append(errs, fmt.Errorf("health.interval must be greater than zero"))
	}
	if len(c.Instruments) == 0 {
		errs = append(errs, fmt.Errorf("instruments must not be empty"))
	}
	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}

	seen := make(map[string]bool)
	enabled := 0
	for i, src := range c.Sources {
		if src.Name == "" {
			errs = append(errs, fmt.Errorf("sources[%d].name is required", i))
			continue
		}
		if seen[src.Name] {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, src.Name))
		}
		seen[src.Name] = true
		if !src.IsEnabled() {
			continue
		}
		enabled++
		if _, err := src.ResolveSchema(); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
		}
	}
	if enabled < 2 {
		errs = append(errs, fmt.Errorf("at least 2 enabled sources are required, got %d", enabled))
	}

	for i, rule := range c.Alerts {
		if _, err := rule.Condition(); err != nil {
			errs = append(errs, fmt.Errorf("alerts[%d]: %w", i, err))
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			errs = append(errs, fmt.Errorf("alerting.telegram.bot_token 必须配置"))
		}
		if c.Alerting.Telegram.ChatID == "" {
			errs = append(errs, fmt.Errorf("alerting.telegram.chat_id 必须配置"))
		}
	}
	if c.Publish.Redis.Enabled && c.Publish.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("publish.redis.addr is required when redis is enabled"))
	}
	return errors.Join(errs...)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
