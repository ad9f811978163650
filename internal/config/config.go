// Package config gathers process settings from defaults, a .env file and
// TIERKIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all tierkit settings.
type Config struct {
	// DBPath is the SQLite run-history file. Empty means the XDG default.
	DBPath string
	// DomainDir holds extra domain documents. Empty means builtin only.
	DomainDir string `validate:"omitempty,dir"`

	Log   LogConfig
	HTTP  HTTPConfig
	Batch BatchConfig
	Kafka KafkaConfig
	Retry RetryConfig
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=text json"`
}

type HTTPConfig struct {
	Addr string `validate:"required,hostname_port"`
	// JWTSecret enables bearer-token auth on /api routes when set.
	JWTSecret string
	// MaxRecords caps a single classify request.
	MaxRecords int `validate:"gte=1"`
}

type BatchConfig struct {
	Mode     string `validate:"oneof=skip fail-fast"`
	Parallel int    `validate:"gte=0,lte=256"`
}

// KafkaConfig enables result publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `validate:"omitempty,dive,hostname_port"`
	Topic   string   `validate:"required"`
}

// RetryConfig configures publish retries.
type RetryConfig struct {
	MaxAttempts int           `validate:"gte=1"`
	InitialWait time.Duration `validate:"gte=0"`
	MaxWait     time.Duration `validate:"gtefield=InitialWait"`
	Multiplier  float64       `validate:"gte=1"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Addr:       ":8080",
			MaxRecords: 10000,
		},
		Batch: BatchConfig{
			Mode:     "skip",
			Parallel: 0,
		},
		Kafka: KafkaConfig{
			Topic: "tierkit.results",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Multiplier:  2.0,
		},
	}
}

// Load reads the given .env files (".env" when none are named; missing
// files are ignored) and then builds a Config from the environment.
// Variables already set in the environment win over .env entries.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// FromEnv builds a Config from environment variables, falling back to
// defaults for unset values.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if p := os.Getenv("TIERKIT_DB"); p != "" {
		cfg.DBPath = p
	}
	if d := os.Getenv("TIERKIT_DOMAIN_DIR"); d != "" {
		cfg.DomainDir = d
	}
	if l := os.Getenv("TIERKIT_LOG_LEVEL"); l != "" {
		cfg.Log.Level = strings.ToLower(l)
	}
	if f := os.Getenv("TIERKIT_LOG_FORMAT"); f != "" {
		cfg.Log.Format = strings.ToLower(f)
	}

	if a := os.Getenv("TIERKIT_HTTP_ADDR"); a != "" {
		cfg.HTTP.Addr = a
	}
	if s := os.Getenv("TIERKIT_HTTP_JWT_SECRET"); s != "" {
		cfg.HTTP.JWTSecret = s
	}
	if v := os.Getenv("TIERKIT_HTTP_MAX_RECORDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("TIERKIT_HTTP_MAX_RECORDS: %w", err)
		}
		cfg.HTTP.MaxRecords = n
	}

	if m := os.Getenv("TIERKIT_MODE"); m != "" {
		cfg.Batch.Mode = m
	}
	if v := os.Getenv("TIERKIT_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("TIERKIT_PARALLEL: %w", err)
		}
		cfg.Batch.Parallel = n
	}

	if b := os.Getenv("TIERKIT_KAFKA_BROKERS"); b != "" {
		cfg.Kafka.Brokers = nil
		for _, broker := range strings.Split(b, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, broker)
			}
		}
	}
	if t := os.Getenv("TIERKIT_KAFKA_TOPIC"); t != "" {
		cfg.Kafka.Topic = t
	}
	if v := os.Getenv("TIERKIT_PUBLISH_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("TIERKIT_PUBLISH_ATTEMPTS: %w", err)
		}
		cfg.Retry.MaxAttempts = n
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
