package config

// Config holds all application configuration, organized into logical groups.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"      validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage"  validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database related settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// AuthConfig contains authentication settings. The API only verifies bearer
// tokens; it never issues them.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// WorkerConfig tunes the job dispatch loop.
type WorkerConfig struct {
	BatchSize            int `mapstructure:"batch_size"             validate:"required,gt=0"`
	LeaseSeconds         int `mapstructure:"lease_seconds"          validate:"required,gt=0"`
	PollIntervalSeconds  int `mapstructure:"poll_interval_seconds"  validate:"required,gt=0"`
	FailureBackoffSeconds int `mapstructure:"failure_backoff_seconds" validate:"required,gt=0"`
}

// PipelineConfig tunes scene segmentation and image defaults.
type PipelineConfig struct {
	CapScenes   int    `mapstructure:"cap_scenes"   validate:"required,gt=0"`
	ImageWidth  int    `mapstructure:"image_width"  validate:"required,gt=0"`
	ImageHeight int    `mapstructure:"image_height" validate:"required,gt=0"`
	ImageFormat string `mapstructure:"image_format" validate:"required"`
}

// LLMConfig contains the image generation provider settings.
type LLMConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key"      validate:"required"`
	ImageModelName    string `mapstructure:"image_model_name"    validate:"required"`
	ModerationModel   string `mapstructure:"moderation_model"    validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries"         validate:"gte=0"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
}

// StorageConfig contains the object storage settings.
type StorageConfig struct {
	BasePath string `mapstructure:"base_path" validate:"required"`
}
