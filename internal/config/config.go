package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DefaultCatalogURL is the RxTerms search endpoint the catalog is seeded from.
const DefaultCatalogURL = "https://clinicaltables.nlm.nih.gov/api/rxterms/v3/search"

// Config holds application configuration values.
type Config struct {
	Env         string
	LogLevel    string
	Secret      string
	TokenTTL    time.Duration
	DatabaseDSN string
	HTTPPort    string
	CORSOrigin  string
	AdminToken  string

	CatalogURL         string
	CatalogLoadOnStart bool
	CatalogRefreshAt   string

	RateLimitRPS   float64
	RateLimitBurst int64
}

// Load reads configuration from environment variables with reasonable defaults.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SECRET", "dev_secret")
	v.SetDefault("TOKEN_TTL", "3h")
	v.SetDefault("DATABASE_DSN", "file:pharmanear.db?_pragma=foreign_keys(1)")
	v.SetDefault("HTTP_PORT", "5000")
	v.SetDefault("CORS_ORIGIN", "http://localhost:5173")
	v.SetDefault("ADMIN_TOKEN", "")
	v.SetDefault("CATALOG_URL", DefaultCatalogURL)
	v.SetDefault("CATALOG_LOAD_ON_START", false)
	v.SetDefault("CATALOG_REFRESH_AT", "")
	v.SetDefault("RATE_LIMIT_RPS", 3)
	v.SetDefault("RATE_LIMIT_BURST", 60)

	cfg := Config{
		Env:                strings.ToLower(v.GetString("ENV")),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
		Secret:             v.GetString("SECRET"),
		DatabaseDSN:        v.GetString("DATABASE_DSN"),
		HTTPPort:           v.GetString("HTTP_PORT"),
		CORSOrigin:         v.GetString("CORS_ORIGIN"),
		AdminToken:         v.GetString("ADMIN_TOKEN"),
		CatalogURL:         v.GetString("CATALOG_URL"),
		CatalogLoadOnStart: v.GetBool("CATALOG_LOAD_ON_START"),
		CatalogRefreshAt:   strings.TrimSpace(v.GetString("CATALOG_REFRESH_AT")),
		RateLimitRPS:       v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:     v.GetInt64("RATE_LIMIT_BURST"),
	}

	// Validate that port is numeric.
	if _, err := strconv.Atoi(cfg.HTTPPort); err != nil {
		log.Warn().Str("value", cfg.HTTPPort).Msg("invalid HTTP_PORT, defaulting to 5000")
		cfg.HTTPPort = "5000"
	}

	ttl, err := time.ParseDuration(v.GetString("TOKEN_TTL"))
	if err != nil || ttl <= 0 {
		log.Warn().Str("value", v.GetString("TOKEN_TTL")).Msg("invalid TOKEN_TTL, defaulting to 3h")
		ttl = 3 * time.Hour
	}
	cfg.TokenTTL = ttl

	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 3
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 60
	}

	if cfg.Secret == "dev_secret" && cfg.Env == "prod" {
		log.Warn().Msg("SECRET is not set, sessions are signed with the development secret")
	}

	return cfg
}
