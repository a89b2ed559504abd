package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"regsho-monitor/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Retention RetentionConfig `mapstructure:"retention"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the daily refresh cadence. NASDAQ usually posts the
// file between 22:00 and 23:00 ET, with a pre-market check in the morning.
type SchedulerConfig struct {
	Times           []string `mapstructure:"times"`
	Timezone        string   `mapstructure:"timezone"`
	AdvisoryLockKey int64    `mapstructure:"advisory_lock_key"`
	RefreshOnStart  bool     `mapstructure:"refresh_on_start"`
}

// SourceConfig covers the NASDAQ threshold-file download.
type SourceConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	LookbackCalDays int           `mapstructure:"lookback_calendar_days"`
	FetchPause      time.Duration `mapstructure:"fetch_pause"`
}

// RiskConfig names the streak thresholds. Defaults follow Reg SHO Rule
// 203(b)(3): close-out is mandatory after 13 consecutive settlement days.
type RiskConfig struct {
	WarnAfter    int `mapstructure:"warn_after"`
	DangerAfter  int `mapstructure:"danger_after"`
	CloseoutDays int `mapstructure:"closeout_days"`
}

// RetentionConfig bounds the stored and displayed history window.
type RetentionConfig struct {
	TradingDays int `mapstructure:"trading_days"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	MinRisk  string         `mapstructure:"min_risk"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	ChartDays int `mapstructure:"chart_days"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REGSHOMON")
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
	v.SetDefault("app.name", "regshomon")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.times", []string{"07:00", "22:30"})
	v.SetDefault("scheduler.timezone", "America/New_York")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x52534854))
	v.SetDefault("scheduler.refresh_on_start", true)

	v.SetDefault("source.base_url", "http://www.nasdaqtrader.com/dynamic/symdir/regsho")
	v.SetDefault("source.request_timeout", "15s")
	v.SetDefault("source.user_agent", "regshomon/1.0")
	v.SetDefault("source.lookback_calendar_days", 120)
	v.SetDefault("source.fetch_pause", "250ms")

	v.SetDefault("risk.warn_after", 7)
	v.SetDefault("risk.danger_after", 10)
	v.SetDefault("risk.closeout_days", 13)

	v.SetDefault("retention.trading_days", 60)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_risk", "danger")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.chart_days", 30)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
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
	if len(c.Scheduler.Times) == 0 {
		return fmt.Errorf("scheduler.times must name at least one refresh time")
	}
	for _, t := range c.Scheduler.Times {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("scheduler.times entry %q is not HH:MM: %w", t, err)
		}
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone invalid: %w", err)
	}
	if c.Risk.WarnAfter <= 0 {
		return fmt.Errorf("risk.warn_after must be greater than zero")
	}
	if c.Risk.DangerAfter <= c.Risk.WarnAfter {
		return fmt.Errorf("risk.danger_after must be greater than risk.warn_after")
	}
	if c.Risk.CloseoutDays <= c.Risk.DangerAfter {
		return fmt.Errorf("risk.closeout_days must be greater than risk.danger_after")
	}
	if c.Retention.TradingDays < c.Risk.CloseoutDays {
		return fmt.Errorf("retention.trading_days must cover at least risk.closeout_days")
	}
	if c.Source.LookbackCalDays <= 0 {
		return fmt.Errorf("source.lookback_calendar_days must be greater than zero")
	}
	if c.Export.ChartDays <= 0 {
		return fmt.Errorf("export.chart_days must be greater than zero")
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

// Location resolves the scheduler timezone. Validate guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
