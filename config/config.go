// Package config loads server configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Port            string
	DBPath          string
	KafkaBrokers    []string
	KafkaTopic      string
	LogLevel        slog.Level
	LogFormat       string // text | json
	SeedFile        string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// KafkaEnabled reports whether events should go to Kafka rather than the log.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != ""
}

// Load reads configuration. Values from envFiles (missing files are
// ignored) are overridden by real environment variables.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv.Load never overrides variables that are already set.
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PATH", "leave.db")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "hr-events")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("SEED_FILE", "")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.AutomaticEnv()

	cfg := &Config{
		Port:         v.GetString("PORT"),
		DBPath:       v.GetString("DB_PATH"),
		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),
		LogFormat:    strings.ToLower(v.GetString("LOG_FORMAT")),
		SeedFile:     v.GetString("SEED_FILE"),
		CORSOrigins:  splitList(v.GetString("CORS_ORIGINS")),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", v.GetString("LOG_LEVEL"), err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: want text or json", cfg.LogFormat)
	}

	timeout, err := time.ParseDuration(v.GetString("SHUTDOWN_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", v.GetString("SHUTDOWN_TIMEOUT"), err)
	}
	cfg.ShutdownTimeout = timeout

	if cfg.Port == "" {
		return nil, fmt.Errorf("PORT must not be empty")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("DB_PATH must not be empty")
	}
	return cfg, nil
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
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
