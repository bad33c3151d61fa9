package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendREST     = "rest"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	BackendMode    string        `mapstructure:"BACKEND_MODE"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	BackendURL     string        `mapstructure:"BACKEND_URL"`
	BackendTimeout time.Duration `mapstructure:"BACKEND_TIMEOUT"`
	BackendRPS     float64       `mapstructure:"BACKEND_RPS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RulesFile      string        `mapstructure:"RULES_FILE"`
	RangeCacheSize int           `mapstructure:"RANGE_CACHE_SIZE"`
	SessionTTL     time.Duration `mapstructure:"SESSION_TTL"`
	SessionMax     int           `mapstructure:"SESSION_MAX"`
	MigrationsDir  string        `mapstructure:"MIGRATIONS_DIR"`
	LabName        string        `mapstructure:"LAB_NAME"`
	LabSubtitle    string        `mapstructure:"LAB_SUBTITLE"`
	LabAddress     string        `mapstructure:"LAB_ADDRESS"`
}

var keys = []string{
	"PORT", "ENV", "BACKEND_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"BACKEND_URL", "BACKEND_TIMEOUT", "BACKEND_RPS", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "RULES_FILE",
	"RANGE_CACHE_SIZE", "SESSION_TTL", "SESSION_MAX", "MIGRATIONS_DIR",
	"LAB_NAME", "LAB_SUBTITLE", "LAB_ADDRESS",
}

// Load reads the configuration from the environment and an optional .env
// file, then validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("BACKEND_MODE", BackendPostgres)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("BACKEND_TIMEOUT", "10s")
	v.SetDefault("BACKEND_RPS", 20)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RANGE_CACHE_SIZE", 512)
	v.SetDefault("SESSION_TTL", "30m")
	v.SetDefault("SESSION_MAX", 1000)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("LAB_NAME", "Laboratorio de Análisis Clínicos")

	for _, k := range keys {
		v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.BackendMode = strings.ToLower(strings.TrimSpace(cfg.BackendMode))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate reports every setting that prevents the server from starting.
func (c *Config) Validate() error {
	var errs []error
	switch c.BackendMode {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when BACKEND_MODE is postgres"))
		}
		if c.DBMinConns > c.DBMaxConns {
			errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
		}
	case BackendREST:
		if c.BackendURL == "" {
			errs = append(errs, errors.New("BACKEND_URL is required when BACKEND_MODE is rest"))
		}
	default:
		errs = append(errs, fmt.Errorf("BACKEND_MODE must be %q or %q, got %q", BackendPostgres, BackendREST, c.BackendMode))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	return errors.Join(errs...)
}
