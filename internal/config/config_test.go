package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDBSource(t *testing.T) {
	t.Setenv("DB_SOURCE", "")
	_, err := Load()
	assert.ErrorContains(t, err, "DB_SOURCE")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/recon")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "paystack", cfg.DefaultGateway)
	assert.Equal(t, 20, cfg.MaxChecks)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 48*time.Hour, cfg.PendingMaxAge)
	assert.Equal(t, 15*time.Second, cfg.ReconcileTimeout)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/recon")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("POLL_INTERVAL", "5m")
	t.Setenv("FLUTTERWAVE_VERSION", "v4")
	t.Setenv("DEFAULT_GATEWAY", "flutterwave")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
	assert.Equal(t, "v4", cfg.Flutterwave.Version)
	assert.Equal(t, "flutterwave", cfg.DefaultGateway)
}

func TestLoadRejectsUnknownGateway(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/recon")
	t.Setenv("DEFAULT_GATEWAY", "stripe")
	_, err := Load()
	assert.ErrorContains(t, err, "DEFAULT_GATEWAY")
}
