package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "5000", cfg.HTTPPort)
	assert.Equal(t, "dev_secret", cfg.Secret)
	assert.Equal(t, 3*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "http://localhost:5173", cfg.CORSOrigin)
	assert.Equal(t, DefaultCatalogURL, cfg.CatalogURL)
	assert.False(t, cfg.CatalogLoadOnStart)
	assert.Empty(t, cfg.AdminToken)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "8081")
	t.Setenv("SECRET", "s3cret")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("CORS_ORIGIN", "https://pharmanear.example")
	t.Setenv("DATABASE_DSN", "postgres://u:p@db:5432/pharmanear?sslmode=disable")
	t.Setenv("CATALOG_LOAD_ON_START", "true")
	t.Setenv("CATALOG_REFRESH_AT", " 03:30 ")

	cfg := Load()

	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, "s3cret", cfg.Secret)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, "https://pharmanear.example", cfg.CORSOrigin)
	assert.Equal(t, "postgres://u:p@db:5432/pharmanear?sslmode=disable", cfg.DatabaseDSN)
	assert.True(t, cfg.CatalogLoadOnStart)
	assert.Equal(t, "03:30", cfg.CatalogRefreshAt)
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("HTTP_PORT", "eighty")
	t.Setenv("TOKEN_TTL", "soon")
	t.Setenv("RATE_LIMIT_RPS", "-1")

	cfg := Load()

	assert.Equal(t, "5000", cfg.HTTPPort)
	assert.Equal(t, 3*time.Hour, cfg.TokenTTL)
	assert.Equal(t, float64(3), cfg.RateLimitRPS)
}
