package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	paypalSandboxURL    = "https://api-m.sandbox.paypal.com"
	paypalProductionURL = "https://api-m.paypal.com"
)

type Config struct {
	ServiceName   string
	HTTPAddr      string
	MetricsAddr   string
	LogLevel      string
	PostgresDSN   string
	RedisAddr     string
	KafkaBrokers  []string
	JWTSecret     string
	JWTTTL        time.Duration
	SignupCredits int32
	OTLPEndpoint  string
	PayPal        PayPalConfig
}

type PayPalConfig struct {
	ClientID        string
	ClientSecret    string
	Mode            string
	BaseURLOverride string
	Currency        string
	FrontendURL     string
	Timeout         time.Duration
}

// BaseURL resolves the PayPal API host for the configured mode.
func (p PayPalConfig) BaseURL() string {
	if p.BaseURLOverride != "" {
		return strings.TrimRight(p.BaseURLOverride, "/")
	}
	if p.Mode == "production" {
		return paypalProductionURL
	}
	return paypalSandboxURL
}

func (p PayPalConfig) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "interviewprep-payments")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=interviewprep sslmode=disable")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("JWT_TTL", "168h")
	v.SetDefault("SIGNUP_CREDITS", 10)
	v.SetDefault("PAYPAL_MODE", "sandbox")
	v.SetDefault("PAYPAL_CURRENCY", "USD")
	v.SetDefault("PAYPAL_TIMEOUT", "15s")
	v.SetDefault("FRONTEND_URL", "http://localhost:5173")
}

// Load reads .env (if any) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment and defaults", "error", err)
	}
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ServiceName:   v.GetString("SERVICE_NAME"),
		HTTPAddr:      v.GetString("HTTP_ADDR"),
		MetricsAddr:   v.GetString("METRICS_ADDR"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		PostgresDSN:   v.GetString("POSTGRES_DSN"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		KafkaBrokers:  CSV(v.GetString("KAFKA_BROKERS")),
		JWTSecret:     v.GetString("JWT_SECRET"),
		JWTTTL:        v.GetDuration("JWT_TTL"),
		SignupCredits: v.GetInt32("SIGNUP_CREDITS"),
		OTLPEndpoint:  v.GetString("OTLP_ENDPOINT"),
		PayPal: PayPalConfig{
			ClientID:        v.GetString("PAYPAL_CLIENT_ID"),
			ClientSecret:    v.GetString("PAYPAL_CLIENT_SECRET"),
			Mode:            strings.ToLower(v.GetString("PAYPAL_MODE")),
			BaseURLOverride: v.GetString("PAYPAL_BASE_URL"),
			Currency:        strings.ToUpper(v.GetString("PAYPAL_CURRENCY")),
			FrontendURL:     strings.TrimRight(v.GetString("FRONTEND_URL"), "/"),
			Timeout:         v.GetDuration("PAYPAL_TIMEOUT"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		"service", cfg.ServiceName,
		"http_addr", cfg.HTTPAddr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"paypal_mode", cfg.PayPal.Mode,
		"paypal_configured", cfg.PayPal.Configured())
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("missing required env JWT_SECRET")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("missing required env POSTGRES_DSN")
	}
	if c.PayPal.Mode != "sandbox" && c.PayPal.Mode != "production" {
		return fmt.Errorf("invalid PAYPAL_MODE %q", c.PayPal.Mode)
	}
	if c.PayPal.Timeout <= 0 {
		return fmt.Errorf("PAYPAL_TIMEOUT must be positive")
	}
	if c.SignupCredits < 0 {
		return fmt.Errorf("SIGNUP_CREDITS must not be negative")
	}
	return nil
}

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
