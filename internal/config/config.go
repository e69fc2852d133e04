// Package config loads application configuration from a config file
// and GLUCOCALC_-prefixed environment variables via viper.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/mrcode/glucocalc/internal/models"
)

// Config holds the full application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Decay   DecayConfig   `mapstructure:"decay"`
	Dosing  DosingConfig  `mapstructure:"dosing"`
	Alerts  AlertConfig   `mapstructure:"alerts"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP serving layer.
type ServerConfig struct {
	Addr               string `mapstructure:"addr"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute"`
}

// StorageConfig configures the SQLite stores.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// FeedConfig configures the Nightscout-compatible CGM feed sync.
// An empty URL disables the background poller.
type FeedConfig struct {
	URL             string `mapstructure:"url"`
	APISecret       string `mapstructure:"api_secret"`
	APIToken        string `mapstructure:"api_token"`
	UseToken        bool   `mapstructure:"use_token"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec"`
	UserID          string `mapstructure:"user_id"`
}

// DecayConfig carries the half-life parameters. These are injected
// configuration, not hardcoded constants; defaults match rapid-acting
// insulin (Novolog) and a typical mixed meal.
type DecayConfig struct {
	InsulinHalfLifeMinutes float64 `mapstructure:"insulin_half_life_minutes"`
	CarbHalfLifeMinutes    float64 `mapstructure:"carb_half_life_minutes"`
}

// DosingConfig carries the dose-recommendation parameters.
type DosingConfig struct {
	TargetBg       float64 `mapstructure:"target_bg"`
	DefaultISF     float64 `mapstructure:"default_isf"`
	CarbBgFactor   float64 `mapstructure:"carb_bg_factor"` // mg/dL rise per gram
	DoseClampUnits float64 `mapstructure:"dose_clamp_units"`
}

// AlertConfig carries the glucose thresholds surfaced with readings
// and used for the hypoglycemia-risk warning.
type AlertConfig struct {
	HighBg         float64 `mapstructure:"high_bg"`
	LowBg          float64 `mapstructure:"low_bg"`
	CriticalHighBg float64 `mapstructure:"critical_high_bg"`
	CriticalLowBg  float64 `mapstructure:"critical_low_bg"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

func setDefaults() {
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.rate_limit_per_minute", 60)

	viper.SetDefault("storage.path", "glucocalc.db")

	viper.SetDefault("feed.poll_interval_sec", 60)
	viper.SetDefault("feed.user_id", "default")

	viper.SetDefault("decay.insulin_half_life_minutes", 81.0)
	viper.SetDefault("decay.carb_half_life_minutes", 45.0)

	viper.SetDefault("dosing.target_bg", 100.0)
	viper.SetDefault("dosing.default_isf", 50.0)
	viper.SetDefault("dosing.carb_bg_factor", 4.0)
	viper.SetDefault("dosing.dose_clamp_units", 10.0)

	viper.SetDefault("alerts.high_bg", 180.0)
	viper.SetDefault("alerts.low_bg", 70.0)
	viper.SetDefault("alerts.critical_high_bg", 250.0)
	viper.SetDefault("alerts.critical_low_bg", 54.0)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
}

// Load reads configuration from the given file (optional) and the
// environment, applies defaults, and validates the result.
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("glucocalc")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GLUCOCALC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, everything has a default
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the numeric parameters the engine depends on.
func (c *Config) Validate() error {
	if c.Decay.InsulinHalfLifeMinutes <= 0 {
		return fmt.Errorf("%w: insulin half-life must be positive", models.ErrInvalidParameter)
	}
	if c.Decay.CarbHalfLifeMinutes <= 0 {
		return fmt.Errorf("%w: carb half-life must be positive", models.ErrInvalidParameter)
	}
	if c.Dosing.DefaultISF <= 0 {
		return fmt.Errorf("%w: default ISF must be positive", models.ErrInvalidParameter)
	}
	if c.Dosing.CarbBgFactor <= 0 {
		return fmt.Errorf("%w: carb BG factor must be positive", models.ErrInvalidParameter)
	}
	if c.Dosing.TargetBg <= 0 {
		return fmt.Errorf("%w: target BG must be positive", models.ErrInvalidParameter)
	}
	return nil
}
