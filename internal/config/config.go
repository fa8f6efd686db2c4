package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
		Outbox   string `yaml:"outbox"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	// Database selects the SQL duel store. Driver is "sqlite3" or "postgres"; empty keeps duels in
	// Redis when configured, otherwise in memory.
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Catalog struct {
		Path string `yaml:"path"`
		TTL  string `yaml:"ttl"`
	} `yaml:"catalog"`
	Duel struct {
		InviteTTL            string `yaml:"invite_ttl"`
		ListingWindow        string `yaml:"listing_window"`
		CodeAttempts         int    `yaml:"code_attempts"`
		SweepInterval        string `yaml:"sweep_interval"`
		DefaultQuestionCount int    `yaml:"default_question_count"`
	} `yaml:"duel"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads YAML config from path and then applies environment overrides. A .env file in the
// working directory is loaded first if present. A missing config file leaves the YAML defaults
// empty.
func Load(path string) (Config, error) {
	// Ignore error so the service still starts when .env is absent in production.
	_ = godotenv.Load()

	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setString(&cfg.Postgres.URL, "POSTGRES_URL")
	setString(&cfg.Database.Driver, "DATABASE_DRIVER")
	setString(&cfg.Database.DSN, "DATABASE_DSN")
	setString(&cfg.Catalog.Path, "CATALOG_PATH")
	setString(&cfg.Duel.InviteTTL, "DUEL_INVITE_TTL")
	setString(&cfg.Duel.SweepInterval, "DUEL_SWEEP_INTERVAL")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
