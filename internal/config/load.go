package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables take precedence
// over file values and use the STORYLOOM_ prefix with underscores for
// nesting, e.g. STORYLOOM_DATABASE_URL, STORYLOOM_SERVER_PORT.
// Returns a populated, validated Config or an error.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STORYLOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars alone can configure the app.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys with viper so AutomaticEnv can fill
	// them during Unmarshal; validation rejects them if they stay empty.
	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime_minutes", 60)
	v.SetDefault("llm.gemini_api_key", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("worker.batch_size", 5)
	v.SetDefault("worker.lease_seconds", 120)
	v.SetDefault("worker.poll_interval_seconds", 5)
	v.SetDefault("worker.failure_backoff_seconds", 30)

	v.SetDefault("pipeline.cap_scenes", 5)
	v.SetDefault("pipeline.image_width", 1024)
	v.SetDefault("pipeline.image_height", 1024)
	v.SetDefault("pipeline.image_format", "image/png")

	v.SetDefault("llm.image_model_name", "imagen-3.0-generate-002")
	v.SetDefault("llm.moderation_model", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)

	v.SetDefault("storage.base_path", "./storage")
}
