package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBSource string
	Port     string
	Env      string
	LogLevel string

	DefaultGateway string
	CallbackURL    string
	Paystack       PaystackConfig
	Flutterwave    FlutterwaveConfig

	JWTSecret    string
	RedisAddr    string
	KafkaBrokers []string
	PushTopic    string
	EmailTopic   string

	PollInterval     time.Duration
	PollBatchSize    int
	PollConcurrency  int
	GatewayRPS       float64
	MaxChecks        int
	CleanupInterval  time.Duration
	PendingMaxAge    time.Duration
	ReconcileTimeout time.Duration

	CatalogPath string
	Contact     ContactConfig
}

type PaystackConfig struct {
	SecretKey string
	BaseURL   string
}

type FlutterwaveConfig struct {
	Version      string
	SecretKey    string
	SecretHash   string
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
}

// ContactConfig is display copy used in receipts and notifications.
type ContactConfig struct {
	SupportEmail  string
	SupportPhone  string
	HotelName     string
	HotelLocation string
	FCMProjectID  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEFAULT_GATEWAY", "paystack")
	v.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	v.SetDefault("FLUTTERWAVE_VERSION", "v3")
	v.SetDefault("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com")
	v.SetDefault("FLUTTERWAVE_TOKEN_URL", "https://idp.flutterwave.com/realms/flutterwave/protocol/openid-connect/token")
	v.SetDefault("PUSH_TOPIC", "notifications.push")
	v.SetDefault("EMAIL_TOPIC", "notifications.email")
	v.SetDefault("POLL_INTERVAL", "1m")
	v.SetDefault("POLL_BATCH_SIZE", 50)
	v.SetDefault("POLL_CONCURRENCY", 10)
	v.SetDefault("GATEWAY_RPS", 5.0)
	v.SetDefault("MAX_CHECKS", 20)
	v.SetDefault("CLEANUP_INTERVAL", "24h")
	v.SetDefault("PENDING_MAX_AGE", "48h")
	v.SetDefault("RECONCILE_TIMEOUT", "15s")
	v.SetDefault("SUPPORT_EMAIL", "support@fmhhotel.com")
	v.SetDefault("SUPPORT_PHONE", "+234 XXX XXX XXXX")
	v.SetDefault("HOTEL_NAME", "FMH Hotel")
	v.SetDefault("HOTEL_LOCATION", "Lagos, Nigeria")
	v.SetDefault("FCM_PROJECT_ID", "fmh-hotel")
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	dbSource := v.GetString("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:       dbSource,
		Port:           v.GetString("SERVER_PORT"),
		Env:            v.GetString("ENVIRONMENT"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		DefaultGateway: v.GetString("DEFAULT_GATEWAY"),
		CallbackURL:    v.GetString("PAYMENT_CALLBACK_URL"),
		Paystack: PaystackConfig{
			SecretKey: v.GetString("PAYSTACK_SECRET_KEY"),
			BaseURL:   v.GetString("PAYSTACK_BASE_URL"),
		},
		Flutterwave: FlutterwaveConfig{
			Version:      v.GetString("FLUTTERWAVE_VERSION"),
			SecretKey:    v.GetString("FLUTTERWAVE_SECRET_KEY"),
			SecretHash:   v.GetString("FLUTTERWAVE_SECRET_HASH"),
			ClientID:     v.GetString("FLUTTERWAVE_CLIENT_ID"),
			ClientSecret: v.GetString("FLUTTERWAVE_CLIENT_SECRET"),
			BaseURL:      v.GetString("FLUTTERWAVE_BASE_URL"),
			TokenURL:     v.GetString("FLUTTERWAVE_TOKEN_URL"),
		},
		JWTSecret:        v.GetString("JWT_SECRET"),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		KafkaBrokers:     splitList(v.GetString("KAFKA_BROKERS")),
		PushTopic:        v.GetString("PUSH_TOPIC"),
		EmailTopic:       v.GetString("EMAIL_TOPIC"),
		PollInterval:     v.GetDuration("POLL_INTERVAL"),
		PollBatchSize:    v.GetInt("POLL_BATCH_SIZE"),
		PollConcurrency:  v.GetInt("POLL_CONCURRENCY"),
		GatewayRPS:       v.GetFloat64("GATEWAY_RPS"),
		MaxChecks:        v.GetInt("MAX_CHECKS"),
		CleanupInterval:  v.GetDuration("CLEANUP_INTERVAL"),
		PendingMaxAge:    v.GetDuration("PENDING_MAX_AGE"),
		ReconcileTimeout: v.GetDuration("RECONCILE_TIMEOUT"),
		CatalogPath:      v.GetString("CATALOG_PATH"),
		Contact: ContactConfig{
			SupportEmail:  v.GetString("SUPPORT_EMAIL"),
			SupportPhone:  v.GetString("SUPPORT_PHONE"),
			HotelName:     v.GetString("HOTEL_NAME"),
			HotelLocation: v.GetString("HOTEL_LOCATION"),
			FCMProjectID:  v.GetString("FCM_PROJECT_ID"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DefaultGateway {
	case "paystack", "flutterwave":
	default:
		return fmt.Errorf("DEFAULT_GATEWAY must be paystack or flutterwave, got %q", c.DefaultGateway)
	}
	switch c.Flutterwave.Version {
	case "v3", "v4":
	default:
		return fmt.Errorf("FLUTTERWAVE_VERSION must be v3 or v4, got %q", c.Flutterwave.Version)
	}
	if c.MaxChecks <= 0 {
		return fmt.Errorf("MAX_CHECKS must be positive")
	}
	if c.PollBatchSize <= 0 || c.PollConcurrency <= 0 {
		return fmt.Errorf("POLL_BATCH_SIZE and POLL_CONCURRENCY must be positive")
	}
	if c.ReconcileTimeout <= 0 {
		return fmt.Errorf("RECONCILE_TIMEOUT must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
