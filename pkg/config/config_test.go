package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_StockDefaults(t *testing.T) {
	cfg, err := Load("stock-service")
	require.NoError(t, err)

	assert.Equal(t, 8084, cfg.Server.Port)
	assert.Equal(t, EnvDevelopment, cfg.Server.Environment)

	assert.Equal(t, 3*time.Second, cfg.Stock.LockTimeout)
	assert.Equal(t, 3, cfg.Stock.MaxContentionRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Stock.RetryBackoff)
	assert.Equal(t, 15*time.Minute, cfg.Stock.ScanInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.Stock.NearExpiryHorizon)
	assert.Equal(t, 24*time.Hour, cfg.Stock.ReservationTTL)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("MEDSTOCK_STOCK_MAX_CONTENTION_RETRIES", "7")
	t.Setenv("MEDSTOCK_SERVER_PORT", "9999")

	cfg, err := Load("stock-service")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Stock.MaxContentionRetries)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoadWithValidation_ProductionRequiresDatabase(t *testing.T) {
	t.Setenv("MEDSTOCK_SERVER_ENVIRONMENT", EnvProduction)

	_, err := LoadWithValidation("stock-service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEDSTOCK_DATABASE")
}

func TestLoadWithValidation_DevelopmentDefaultsPass(t *testing.T) {
	cfg, err := LoadWithValidation("stock-service")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Database.Host)
}

func TestDatabaseConfig_DSNFromFields(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "stock",
		Password: "secret",
		Database: "medstock",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal port=5433 user=stock password=secret dbname=medstock sslmode=require",
		cfg.DSN())
}

func TestDatabaseConfig_URLTakesPrecedence(t *testing.T) {
	cfg := DatabaseConfig{
		URL:  "postgres://u:p@remote:6543/stockdb?sslmode=verify-full",
		Host: "ignored",
	}

	assert.Equal(t,
		"host=remote port=6543 user=u password=p dbname=stockdb sslmode=verify-full",
		cfg.DSN())
}
