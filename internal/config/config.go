package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"moverwatch/internal/alerting"
	"moverwatch/internal/logging"
	"moverwatch/internal/market"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the alert audit log.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs polling and heartbeat cadence.
type SchedulerConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	AlignToBucket     bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey   int64         `mapstructure:"advisory_lock_key"`
	StartupDelay      time.Duration `mapstructure:"startup_delay"`
}

// SourceConfig captures market data API connectivity.
type SourceConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	VsCurrency     string            `mapstructure:"vs_currency"`
	PerPage        int               `mapstructure:"per_page"`
	Pages          int               `mapstructure:"pages"`
	Order          string            `mapstructure:"order"`
	APIKey         string            `mapstructure:"api_key"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
	Fields         map[string]string `mapstructure:"fields"`
	// DeriveChanges computes rule timeframes that no field serves from prices
	// seen on earlier polls.
	DeriveChanges bool `mapstructure:"derive_changes"`
}

// RuleConfig is one timeframe threshold.
type RuleConfig struct {
	Timeframe    string  `mapstructure:"timeframe"`
	ThresholdPct float64 `mapstructure:"threshold_pct"`
	Tier         string  `mapstructure:"tier"`
}

// PolicyConfig defines thresholds, filters and cooldowns.
type PolicyConfig struct {
	Rules             []RuleConfig  `mapstructure:"rules"`
	MinVolume         float64       `mapstructure:"min_volume"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	QuietCooldown     time.Duration `mapstructure:"quiet_cooldown"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
	Retention         time.Duration `mapstructure:"retention"`
	Mode              string        `mapstructure:"mode"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	LinkTemplate string         `mapstructure:"link_template"`
	Heartbeat    bool           `mapstructure:"heartbeat"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MOVERWATCH")
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

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "moverwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.heartbeat_interval", "6h")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6d6f7665))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("source.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("source.vs_currency", "usd")
	v.SetDefault("source.per_page", 250)
	v.SetDefault("source.pages", 1)
	v.SetDefault("source.order", "volume_desc")
	v.SetDefault("source.request_timeout", "10s")
	v.SetDefault("source.user_agent", "moverwatch/1.0")
	v.SetDefault("source.derive_changes", true)

	v.SetDefault("policy.rules", []map[string]any{
		{"timeframe": "15m", "threshold_pct": 10.0, "tier": "15m"},
		{"timeframe": "30m", "threshold_pct": 20.0, "tier": "30m"},
		{"timeframe": "1h", "threshold_pct": 50.0, "tier": "1h"},
	})
	v.SetDefault("policy.min_volume", 1000.0)
	v.SetDefault("policy.cooldown", "1h")
	v.SetDefault("policy.quiet_cooldown", "30m")
	v.SetDefault("policy.rate_limit_cooldown", "5m")
	v.SetDefault("policy.retention", "24h")
	v.SetDefault("policy.mode", string(alerting.ModeFirstMatch))

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.link_template", "https://www.coingecko.com/en/coins/{id}")
	v.SetDefault("alerting.heartbeat", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.request_timeout", "10s")

	v.SetDefault("export.max_data_points", 10000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerting.Heartbeat && c.Scheduler.HeartbeatInterval <= 0 {
		return fmt.Errorf("scheduler.heartbeat_interval must be greater than zero when heartbeat is enabled")
	}
	if c.Source.PerPage <= 0 || c.Source.PerPage > 250 {
		return fmt.Errorf("source.per_page must be within 1..250")
	}
	if _, err := c.SourceFields(); err != nil {
		return err
	}
	if _, err := c.AlertPolicy(); err != nil {
		return err
	}
	missing, err := c.DerivedTimeframes()
	if err != nil {
		return err
	}
	if len(missing) > 0 && !c.Source.DeriveChanges {
		return fmt.Errorf("policy.rules use timeframe %s but source.fields has no field for it; map source.fields.%s or enable source.derive_changes", missing[0], missing[0])
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// AlertPolicy converts the policy section into the engine's policy and validates it.
func (c *Config) AlertPolicy() (alerting.Policy, error) {
	rules := make([]alerting.Rule, 0, len(c.Policy.Rules))
	for i, rc := range c.Policy.Rules {
		tf, err := market.ParseTimeframe(rc.Timeframe)
		if err != nil {
			return alerting.Policy{}, fmt.Errorf("policy.rules[%d]: %w", i, err)
		}
		tier := rc.Tier
		if tier == "" {
			tier = string(tf)
		}
		rules = append(rules, alerting.Rule{
			Timeframe:    tf,
			ThresholdPct: decimal.NewFromFloat(rc.ThresholdPct),
			Tier:         tier,
		})
	}

	policy := alerting.Policy{
		Rules:             rules,
		MinVolume:         decimal.NewFromFloat(c.Policy.MinVolume),
		Cooldown:          c.Policy.Cooldown,
		QuietCooldown:     c.Policy.QuietCooldown,
		RateLimitCooldown: c.Policy.RateLimitCooldown,
		Retention:         c.Policy.Retention,
		Mode:              alerting.Mode(c.Policy.Mode),
	}
	if err := policy.Validate(); err != nil {
		return alerting.Policy{}, err
	}
	return policy, nil
}

// SourceFields returns the timeframe-to-field mapping, falling back to the
// CoinGecko defaults when none is configured.
func (c *Config) SourceFields() (map[market.Timeframe]string, error) {
	if len(c.Source.Fields) == 0 {
		return market.DefaultFields, nil
	}
	fields := make(map[market.Timeframe]string, len(c.Source.Fields))
	for label, key := range c.Source.Fields {
		tf, err := market.ParseTimeframe(label)
		if err != nil {
			return nil, fmt.Errorf("source.fields: %w", err)
		}
		if key == "" {
			return nil, fmt.Errorf("source.fields.%s must name a response field", label)
		}
		fields[tf] = key
	}
	return fields, nil
}

// DerivedTimeframes lists rule timeframes the configured source fields do not
// cover, shortest first.
func (c *Config) DerivedTimeframes() ([]market.Timeframe, error) {
	fields, err := c.SourceFields()
	if err != nil {
		return nil, err
	}
	used := make(map[market.Timeframe]bool, len(c.Policy.Rules))
	for _, rc := range c.Policy.Rules {
		used[market.Timeframe(rc.Timeframe)] = true
	}
	var missing []market.Timeframe
	for _, tf := range market.Timeframes() {
		if _, ok := fields[tf]; used[tf] && !ok {
			missing = append(missing, tf)
		}
	}
	return missing, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
