package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration: defaults, then the TOML file at path (if
// path is non-empty), then .env (if present), then environment variables.
// The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose LEAGUE_* variable is set. PORT,
// DATABASE_URL and REDIS_URL are honored as aliases and lose to the
// prefixed form.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "LEAGUE_LOG_LEVEL")
	setStr(&cfg.LogFormat, "LEAGUE_LOG_FORMAT")

	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "LEAGUE_SERVER_PORT")
	setDuration(&cfg.Server.ReadTimeout, "LEAGUE_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "LEAGUE_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.IdleTimeout, "LEAGUE_SERVER_IDLE_TIMEOUT")
	setDuration(&cfg.Server.RequestTimeout, "LEAGUE_SERVER_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "LEAGUE_SERVER_SHUTDOWN_TIMEOUT")
	setStringSlice(&cfg.Server.CORSOrigins, "LEAGUE_SERVER_CORS_ORIGINS")

	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "LEAGUE_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxConns, "LEAGUE_POSTGRES_MAX_CONNS")
	setInt(&cfg.Postgres.MinConns, "LEAGUE_POSTGRES_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LEAGUE_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.URL, "LEAGUE_REDIS_URL")
	setDuration(&cfg.Redis.TTL, "LEAGUE_REDIS_TTL")

	setInt(&cfg.Valuation.Workers, "LEAGUE_VALUATION_WORKERS")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
