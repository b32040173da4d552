package config

import "time"

// Config holds all application configuration.
// It is assembled once at startup and passed explicitly to every component.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"   validate:"required"`
	Broker     BrokerConfig     `mapstructure:"broker"     validate:"required"`
	Storage    StorageConfig    `mapstructure:"storage"    validate:"required"`
	Task       TaskConfig       `mapstructure:"task"       validate:"required"`
	Resources  ResourceConfig   `mapstructure:"resources"  validate:"required"`
	Stages     StagesConfig     `mapstructure:"stages"     validate:"required"`
	Summarizer SummarizerConfig `mapstructure:"summarizer" validate:"required"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port       int    `mapstructure:"port"        validate:"required,gt=0,lt=65536"`
	HealthPort int    `mapstructure:"health_port" validate:"required,gt=0,lt=65536"`
	LogLevel   string `mapstructure:"log_level"   validate:"required,oneof=debug info warn error"`
	// MaxUploadBytes bounds raw uploads accepted by the submission endpoint.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" validate:"required,gt=0"`
}

// DatabaseConfig selects the job store backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite memory"`
	URL    string `mapstructure:"url"    validate:"required_unless=Driver memory"`
}

// BrokerConfig describes the durable queue connection.
type BrokerConfig struct {
	Driver   string `mapstructure:"driver"   validate:"required,oneof=redis memory"`
	URL      string `mapstructure:"url"      validate:"required_if=Driver redis"`
	Stream   string `mapstructure:"stream"   validate:"required"`
	Group    string `mapstructure:"group"    validate:"required"`
	Consumer string `mapstructure:"consumer"`
	// ClaimIdle is how long a delivered but unacknowledged message waits
	// before another consumer may reclaim it.
	ClaimIdle time.Duration `mapstructure:"claim_idle" validate:"required,gt=0"`
	Block     time.Duration `mapstructure:"block"      validate:"required,gt=0"`
}

// StorageConfig describes the object store holding job artifacts.
type StorageConfig struct {
	Driver     string        `mapstructure:"driver"      validate:"required,oneof=s3 memory"`
	Endpoint   string        `mapstructure:"endpoint"    validate:"required_if=Driver s3"`
	AccessKey  string        `mapstructure:"access_key"`
	SecretKey  string        `mapstructure:"secret_key"`
	Bucket     string        `mapstructure:"bucket"      validate:"required"`
	Region     string        `mapstructure:"region"`
	UseSSL     bool          `mapstructure:"use_ssl"`
	PresignTTL time.Duration `mapstructure:"presign_ttl" validate:"required,gt=0"`
}

// TaskConfig contains executor and reconciliation settings.
type TaskConfig struct {
	WorkerCount       int           `mapstructure:"worker_count"        validate:"required,gt=0"`
	SoftLimit         time.Duration `mapstructure:"soft_limit"          validate:"required,gt=0"`
	HardLimit         time.Duration `mapstructure:"hard_limit"          validate:"required,gtfield=SoftLimit"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"  validate:"required,gt=0"`
	LeaseTimeout      time.Duration `mapstructure:"lease_timeout"       validate:"required,gtfield=HeartbeatInterval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"      validate:"required,gt=0"`
	PendingRequeueAge time.Duration `mapstructure:"pending_requeue_age" validate:"required,gt=0"`
	MaxErrorLength    int           `mapstructure:"max_error_length"    validate:"required,gt=0"`
}

// ResourceConfig contains resource pressure thresholds for worker processes.
type ResourceConfig struct {
	MemoryThreshold      float64 `mapstructure:"memory_threshold"      validate:"gt=0,lte=100"`
	AcceleratorThreshold float64 `mapstructure:"accelerator_threshold" validate:"gt=0,lte=100"`
	Admission            string  `mapstructure:"admission"             validate:"required,oneof=advisory enforce"`
	SerializeInvoke      bool    `mapstructure:"serialize_invoke"`
}

// StagesConfig contains endpoints and timeouts of the remote stage services.
type StagesConfig struct {
	ASRURL        string        `mapstructure:"asr_url"         validate:"required,url"`
	ASRTimeout    time.Duration `mapstructure:"asr_timeout"     validate:"required,gt=0"`
	RenderURL     string        `mapstructure:"render_url"      validate:"required,url"`
	RenderTimeout time.Duration `mapstructure:"render_timeout"  validate:"required,gt=0"`
	ChunkMaxChars int           `mapstructure:"chunk_max_chars" validate:"required,gt=0"`
}

// SummarizerConfig selects and configures the summarization backend.
type SummarizerConfig struct {
	Backend           string        `mapstructure:"backend"             validate:"required,oneof=local openai gemini"`
	LocalURL          string        `mapstructure:"local_url"           validate:"required_if=Backend local"`
	LocalModel        string        `mapstructure:"local_model"`
	OpenAIURL         string        `mapstructure:"openai_url"`
	OpenAIAPIKey      string        `mapstructure:"openai_api_key"`
	OpenAIModel       string        `mapstructure:"openai_model"`
	GeminiAPIKey      string        `mapstructure:"gemini_api_key"`
	GeminiModel       string        `mapstructure:"gemini_model"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"required,gt=0"`
	Temperature       float32       `mapstructure:"temperature"         validate:"gte=0,lte=2"`
	MaxTokens         int           `mapstructure:"max_tokens"          validate:"required,gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
}

// AuthConfig contains bearer token verification settings.
// An empty secret disables authentication.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	// TokenLifetime applies to tokens minted by cmd/token.
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"required,gt=0"`
}
