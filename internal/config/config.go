package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "CLICCOINS"

// APIConfig is read from CLICCOINS_* variables. Each key also falls back to its
// unprefixed name, so DATABASE_URL and SUPABASE_URL work as-is.
type APIConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	StoreDriver     string        `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL     string        `envconfig:"DATABASE_URL"`
	SQLitePath      string        `envconfig:"SQLITE_PATH" default:"data/cliccoins.db"`
	SupabaseURL     string        `envconfig:"SUPABASE_URL"`
	SupabaseAnonKey string        `envconfig:"SUPABASE_ANON_KEY"`
	CatalogPath     string        `envconfig:"CATALOG_PATH"`
	TickEvery       time.Duration `envconfig:"TICK_EVERY" default:"100ms"`
	AutosaveEvery   time.Duration `envconfig:"AUTOSAVE_EVERY" default:"5s"`
	ClickFlushEvery int           `envconfig:"CLICK_FLUSH_EVERY" default:"10"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"15m"`
	StreamEvery     time.Duration `envconfig:"STREAM_EVERY" default:"500ms"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("read env: %w", err)
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.SupabaseURL = strings.TrimRight(strings.TrimSpace(cfg.SupabaseURL), "/")
	cfg.SupabaseAnonKey = strings.TrimSpace(cfg.SupabaseAnonKey)

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return cfg, fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	case "memory":
	default:
		return cfg, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if cfg.TickEvery <= 0 || cfg.AutosaveEvery <= 0 || cfg.StreamEvery <= 0 {
		return cfg, fmt.Errorf("TICK_EVERY, AUTOSAVE_EVERY and STREAM_EVERY must be positive")
	}
	if cfg.ClickFlushEvery < 0 {
		return cfg, fmt.Errorf("CLICK_FLUSH_EVERY must not be negative")
	}
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("CLIC_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func ParseLogLevel(v string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown LOG_LEVEL %q", v)
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}
