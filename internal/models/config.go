package models

// Config holds the application configuration.
type Config struct {
	Gateway       GatewayConfig  `json:"gateway"`
	Database      DatabaseConfig `json:"database"`
	Media         MediaConfig    `json:"media"`
	Retry         RetryConfig    `json:"retry"`
	Server        ServerConfig   `json:"server"`
	Tracing       TracingConfig  `json:"tracing"`
	OwnerID       int64          `json:"ownerId"`
	LogChannelID  string         `json:"logChannelId"`
	LogLevel      string         `json:"log_level"`
	RetentionDays int            `json:"retentionDays"`
}

// GatewayConfig holds transfer-gateway related configuration.
type GatewayConfig struct {
	BaseURL        string `json:"base_url"`
	EventsURL      string `json:"events_url"`
	APIKey         string `json:"api_key"`
	HTTPTimeoutSec int    `json:"httpTimeoutSec"`
}

// DatabaseConfig holds database related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// MediaConfig holds media staging configuration.
type MediaConfig struct {
	StagingDir string `json:"staging_dir"`
	MaxSizeMB  int    `json:"maxSizeMB"`
}

// RetryConfig holds retry related configuration.
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int `json:"port"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	ServiceName  string  `json:"serviceName"`
	Environment  string  `json:"environment"`
	OTLPEndpoint string  `json:"otlpEndpoint"`
	SampleRate   float64 `json:"sampleRate"`
	UseStdout    bool    `json:"useStdout"`
}

// ConfigError is a validation error for a loaded configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
