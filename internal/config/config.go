package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"insured-core/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Claims    ClaimsConfig    `mapstructure:"claims"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the consensus sweep cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ChainConfig holds the identities wired into the embedded engines.
type ChainConfig struct {
	// Governance administers the oracle: source list, fallback prices,
	// pause state. Hex address.
	Governance string `mapstructure:"governance"`
	// Admin administers the claims engine. Hex address.
	Admin string `mapstructure:"admin"`
	// Sources are the approved price submitters.
	Sources []string `mapstructure:"sources"`
	// Processors hold the claim-processor role at startup.
	Processors []string `mapstructure:"processors"`
}

// OracleConfig overrides the consensus engine constants.
type OracleConfig struct {
	Assets              []string      `mapstructure:"assets"`
	MaxDeviationBps     int64         `mapstructure:"max_deviation_bps"`
	MinSources          int           `mapstructure:"min_sources"`
	StalenessThreshold  time.Duration `mapstructure:"staleness_threshold"`
	AnomalyThresholdBps int64         `mapstructure:"anomaly_threshold_bps"`
	HistoryMaxEntries   int           `mapstructure:"history_max_entries"`
	QualityDecayPerMiss uint32        `mapstructure:"quality_decay_per_miss"`
	SubmissionTTL       time.Duration `mapstructure:"submission_ttl"`
}

// ClaimsConfig gates claim approval on oracle consensus.
type ClaimsConfig struct {
	RequireOracleValidation bool `mapstructure:"require_oracle_validation"`
	MinOracleSubmissions    int  `mapstructure:"min_oracle_submissions"`
}

// AlertingConfig defines anomaly alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INSURED")
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
	v.SetDefault("app.name", "insured")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x696e7375))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("oracle.max_deviation_bps", int64(500))
	v.SetDefault("oracle.min_sources", 3)
	v.SetDefault("oracle.staleness_threshold", "5m")
	v.SetDefault("oracle.anomaly_threshold_bps", int64(2000))
	v.SetDefault("oracle.history_max_entries", 100)
	v.SetDefault("oracle.quality_decay_per_miss", 10)
	v.SetDefault("oracle.submission_ttl", "1h")

	v.SetDefault("claims.require_oracle_validation", false)
	v.SetDefault("claims.min_oracle_submissions", 3)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Oracle.MinSources <= 0 {
		return fmt.Errorf("oracle.min_sources must be greater than zero")
	}
	if c.Oracle.StalenessThreshold <= 0 {
		return fmt.Errorf("oracle.staleness_threshold must be greater than zero")
	}
	if c.Claims.RequireOracleValidation && c.Claims.MinOracleSubmissions <= 0 {
		return fmt.Errorf("claims.min_oracle_submissions must be greater than zero when validation is required")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
