package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppPort          string        `mapstructure:"APP_PORT"`
	Env              string        `mapstructure:"ENV"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	SQLiteDSN        string        `mapstructure:"SQLITE_DSN"`
	HMACSecret       string        `mapstructure:"HMAC_SECRET"`
	SigMaxAgeSeconds int64         `mapstructure:"SIG_MAX_AGE_SECONDS"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	MidtransBaseURL  string        `mapstructure:"MIDTRANS_BASE_URL"`
	MidtransKey      string        `mapstructure:"MIDTRANS_SERVER_KEY"`
	XenditBaseURL    string        `mapstructure:"XENDIT_BASE_URL"`
	XenditKey        string        `mapstructure:"XENDIT_API_KEY"`
	AdapterTimeout   time.Duration `mapstructure:"ADAPTER_TIMEOUT"`
	PollInterval     time.Duration `mapstructure:"POLL_INTERVAL"`
	PollCeiling      time.Duration `mapstructure:"POLL_CEILING"`

	// Orders below this amount are routed to the cheapest gateway.
	SmallOrderThreshold int64    `mapstructure:"SMALL_ORDER_THRESHOLD"`
	EnabledGateways     []string `mapstructure:"ENABLED_GATEWAYS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SQLITE_DSN", "./payments.db")
	v.SetDefault("HMAC_SECRET", "supersecret-dev")
	v.SetDefault("SIG_MAX_AGE_SECONDS", 300)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("MIDTRANS_BASE_URL", "https://app.sandbox.midtrans.com")
	v.SetDefault("XENDIT_BASE_URL", "https://api.xendit.co")
	v.SetDefault("ADAPTER_TIMEOUT", "30s")
	v.SetDefault("POLL_INTERVAL", "5s")
	v.SetDefault("POLL_CEILING", "30m")
	v.SetDefault("SMALL_ORDER_THRESHOLD", 50_000)
	v.SetDefault("ENABLED_GATEWAYS", "midtrans,xendit,wallet")

	for _, key := range []string{
		"APP_PORT", "ENV", "LOG_LEVEL", "SQLITE_DSN", "HMAC_SECRET",
		"SIG_MAX_AGE_SECONDS", "CORS_ORIGINS", "MIDTRANS_BASE_URL",
		"MIDTRANS_SERVER_KEY", "XENDIT_BASE_URL", "XENDIT_API_KEY",
		"ADAPTER_TIMEOUT", "POLL_INTERVAL", "POLL_CEILING",
		"SMALL_ORDER_THRESHOLD", "ENABLED_GATEWAYS",
	} {
		v.BindEnv(key)
	}

	// .env is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	}
	if len(cfg.EnabledGateways) <= 1 {
		cfg.EnabledGateways = splitList(v.GetString("ENABLED_GATEWAYS"))
	}
	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
