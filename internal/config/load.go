package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment variable read by Load.
const EnvPrefix = "SCRIBE"

// Load configuration from an optional .env file, an optional config.yaml and
// environment variables. Environment variables take precedence over values
// from config files. Returns a populated Config or an error if loading or
// validation fails.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// setDefaults registers every key so that AutomaticEnv can populate it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.max_upload_bytes", int64(500*1024*1024))

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "file:scribe.db?_pragma=busy_timeout(5000)")

	v.SetDefault("broker.driver", "redis")
	v.SetDefault("broker.url", "redis://localhost:6379/0")
	v.SetDefault("broker.stream", "scribe:jobs")
	v.SetDefault("broker.group", "scribe-workers")
	v.SetDefault("broker.consumer", "")
	v.SetDefault("broker.claim_idle", 35*time.Minute)
	v.SetDefault("broker.block", 5*time.Second)

	v.SetDefault("storage.driver", "s3")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.bucket", "writers")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.presign_ttl", time.Hour)

	v.SetDefault("task.worker_count", 2)
	v.SetDefault("task.soft_limit", 25*time.Minute)
	v.SetDefault("task.hard_limit", 30*time.Minute)
	v.SetDefault("task.heartbeat_interval", 30*time.Second)
	v.SetDefault("task.lease_timeout", 5*time.Minute)
	v.SetDefault("task.sweep_interval", time.Minute)
	v.SetDefault("task.pending_requeue_age", 10*time.Minute)
	v.SetDefault("task.max_error_length", 1000)

	v.SetDefault("resources.memory_threshold", 90.0)
	v.SetDefault("resources.accelerator_threshold", 85.0)
	v.SetDefault("resources.admission", "advisory")
	v.SetDefault("resources.serialize_invoke", false)

	v.SetDefault("stages.asr_url", "http://localhost:8001")
	v.SetDefault("stages.asr_timeout", 600*time.Second)
	v.SetDefault("stages.render_url", "http://localhost:3000")
	v.SetDefault("stages.render_timeout", 120*time.Second)
	v.SetDefault("stages.chunk_max_chars", 1800)

	v.SetDefault("summarizer.backend", "local")
	v.SetDefault("summarizer.local_url", "http://localhost:8000/v1")
	v.SetDefault("summarizer.local_model", "mistralai/Mistral-7B-Instruct-v0.3")
	v.SetDefault("summarizer.openai_url", "https://api.openai.com/v1")
	v.SetDefault("summarizer.openai_api_key", "")
	v.SetDefault("summarizer.openai_model", "gpt-4.1-mini")
	v.SetDefault("summarizer.gemini_api_key", "")
	v.SetDefault("summarizer.gemini_model", "gemini-2.0-flash")
	v.SetDefault("summarizer.timeout", 180*time.Second)
	v.SetDefault("summarizer.temperature", 0.2)
	v.SetDefault("summarizer.max_tokens", 2048)
	v.SetDefault("summarizer.requests_per_second", 2.0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime", 24*time.Hour)
}
