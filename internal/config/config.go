package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	GatewayURL     string `mapstructure:"ABDM_GATEWAY_URL"`
	ClientID       string `mapstructure:"ABDM_CLIENT_ID"`
	ClientSecret   string `mapstructure:"ABDM_CLIENT_SECRET"`
	CMID           string `mapstructure:"ABDM_CM_ID"`
	HIPID          string `mapstructure:"ABDM_HIP_ID"`
	HIUID          string `mapstructure:"ABDM_HIU_ID"`
	GatewayTimeout int    `mapstructure:"ABDM_GATEWAY_TIMEOUT"`
	DataPushURL    string `mapstructure:"ABDM_DATA_PUSH_URL"`

	CallbackAuthSecret   string `mapstructure:"CALLBACK_AUTH_SECRET"`
	CallbackPollAttempts int    `mapstructure:"CALLBACK_POLL_ATTEMPTS"`
	CallbackPollInterval int    `mapstructure:"CALLBACK_POLL_INTERVAL_MS"`

	EntriesPerPage      int  `mapstructure:"HIP_ENTRIES_PER_PAGE"`
	IncludeErrorDetails bool `mapstructure:"ERROR_DETAILS"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("ABDM_CM_ID", "sbx")
	v.SetDefault("ABDM_GATEWAY_TIMEOUT", 20)
	v.SetDefault("CALLBACK_POLL_ATTEMPTS", 30)
	v.SetDefault("CALLBACK_POLL_INTERVAL_MS", 1000)
	v.SetDefault("HIP_ENTRIES_PER_PAGE", 20)
	v.SetDefault("ERROR_DETAILS", false)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("ABDM_GATEWAY_URL")
	v.BindEnv("ABDM_CLIENT_ID")
	v.BindEnv("ABDM_CLIENT_SECRET")
	v.BindEnv("ABDM_CM_ID")
	v.BindEnv("ABDM_HIP_ID")
	v.BindEnv("ABDM_HIU_ID")
	v.BindEnv("ABDM_GATEWAY_TIMEOUT")
	v.BindEnv("ABDM_DATA_PUSH_URL")
	v.BindEnv("CALLBACK_AUTH_SECRET")
	v.BindEnv("CALLBACK_POLL_ATTEMPTS")
	v.BindEnv("CALLBACK_POLL_INTERVAL_MS")
	v.BindEnv("HIP_ENTRIES_PER_PAGE")
	v.BindEnv("ERROR_DETAILS")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// HIPEnabled reports whether this deployment participates as a data provider.
func (c *Config) HIPEnabled() bool { return c.HIPID != "" }

// HIUEnabled reports whether this deployment participates as a data consumer.
func (c *Config) HIUEnabled() bool { return c.HIUID != "" }

// Validate checks that the configuration is safe to run. Gateway credentials
// are always required; at least one of ABDM_HIP_ID and ABDM_HIU_ID must be
// set so the bridge has a role to play.
func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("ABDM_GATEWAY_URL is required")
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("ABDM_CLIENT_ID and ABDM_CLIENT_SECRET are required")
	}
	if !c.HIPEnabled() && !c.HIUEnabled() {
		return fmt.Errorf("at least one of ABDM_HIP_ID and ABDM_HIU_ID must be set")
	}
	if c.HIUEnabled() && c.DataPushURL == "" {
		return fmt.Errorf("ABDM_DATA_PUSH_URL is required when ABDM_HIU_ID is set")
	}
	if c.EntriesPerPage <= 0 {
		return fmt.Errorf("HIP_ENTRIES_PER_PAGE must be positive, got %d", c.EntriesPerPage)
	}
	if c.CallbackPollAttempts <= 0 || c.CallbackPollInterval <= 0 {
		return fmt.Errorf("callback poll attempts and interval must be positive")
	}
	return nil
}
