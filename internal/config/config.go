package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	LogLevel          string   `mapstructure:"LOG_LEVEL"`
	StoreDriver       string   `mapstructure:"STORE_DRIVER"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string   `mapstructure:"REDIS_URL"`
	RedisChannel      string   `mapstructure:"REDIS_CHANNEL"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
	AuthSigningKey    string   `mapstructure:"AUTH_SIGNING_KEY"`
	RateLimitRPS      float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int      `mapstructure:"RATE_LIMIT_BURST"`
	AvgConsultMinutes float64  `mapstructure:"AVG_CONSULT_MINUTES"`
	WaitJitterMinutes int      `mapstructure:"WAIT_JITTER_MINUTES"`
	NoShowAfterMins   int      `mapstructure:"NO_SHOW_AFTER_MINUTES"`
	TreatmentTable    string   `mapstructure:"TREATMENT_TABLE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS",
	"DB_MIN_CONNS", "REDIS_URL", "REDIS_CHANNEL", "CORS_ORIGINS", "AUTH_SIGNING_KEY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "AVG_CONSULT_MINUTES", "WAIT_JITTER_MINUTES",
	"NO_SHOW_AFTER_MINUTES", "TREATMENT_TABLE",
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REDIS_CHANNEL", "queue-events")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("AVG_CONSULT_MINUTES", 12)
	v.SetDefault("WAIT_JITTER_MINUTES", 2)
	v.SetDefault("NO_SHOW_AFTER_MINUTES", 30)

	// Unmarshal only sees env vars that are bound explicitly.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) UsesPostgres() bool {
	return c.StoreDriver == DriverPostgres
}

func (c *Config) NoShowAfter() time.Duration {
	return time.Duration(c.NoShowAfterMins) * time.Minute
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.AvgConsultMinutes <= 0 {
		return fmt.Errorf("AVG_CONSULT_MINUTES must be positive, got %v", c.AvgConsultMinutes)
	}
	if c.WaitJitterMinutes < 0 {
		return fmt.Errorf("WAIT_JITTER_MINUTES must not be negative, got %d", c.WaitJitterMinutes)
	}
	if c.NoShowAfterMins <= 0 {
		return fmt.Errorf("NO_SHOW_AFTER_MINUTES must be positive, got %d", c.NoShowAfterMins)
	}
	if !c.IsDev() && c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes outside development")
	}
	return nil
}
