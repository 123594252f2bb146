package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"campusride/adapters/redis"
	"campusride/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"CAMPUSRIDE_ENV"`
	Profile     string      `json:"profile" env:"CAMPUSRIDE_PROFILE"`

	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration (relational + Redis)
	Storage StorageConfig `json:"storage"`

	// Auth configuration
	Auth AuthConfig `json:"auth"`

	// Push pipeline configuration
	Push PushConfig `json:"push"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"CAMPUSRIDE_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"CAMPUSRIDE_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"CAMPUSRIDE_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"CAMPUSRIDE_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"CAMPUSRIDE_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"CAMPUSRIDE_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"CAMPUSRIDE_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"CAMPUSRIDE_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig selects and configures the relational adapter and the
// shared Redis coordination store.
type StorageConfig struct {
	Adapter      string       `json:"adapter" env:"CAMPUSRIDE_STORAGE_ADAPTER"`
	JSONFilePath string       `json:"jsonfile_path,omitempty" env:"CAMPUSRIDE_STORAGE_JSONFILE_PATH"`
	Redis        redis.Config `json:"redis,omitempty"`
	SQL          sqlx.Config  `json:"sql,omitempty"`
}

// AuthConfig holds bearer-token validation settings.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret,omitempty" env:"CAMPUSRIDE_AUTH_JWT_SECRET"`
}

// PushConfig holds push pipeline settings.
type PushConfig struct {
	Endpoint          string        `json:"endpoint" env:"CAMPUSRIDE_PUSH_ENDPOINT"`
	APIKey            string        `json:"api_key,omitempty" env:"CAMPUSRIDE_PUSH_API_KEY"`
	MaxAttempts       int           `json:"max_attempts" env:"CAMPUSRIDE_PUSH_MAX_ATTEMPTS"`
	RetryBase         time.Duration `json:"retry_base" env:"CAMPUSRIDE_PUSH_RETRY_BASE"`
	OptimizerInterval time.Duration `json:"optimizer_interval" env:"CAMPUSRIDE_PUSH_OPTIMIZER_INTERVAL"`
	PollTimeout       time.Duration `json:"poll_timeout" env:"CAMPUSRIDE_PUSH_POLL_TIMEOUT"`
	InstanceID        string        `json:"instance_id" env:"CAMPUSRIDE_PUSH_INSTANCE_ID"`
	ServerCount       int           `json:"server_count" env:"CAMPUSRIDE_PUSH_SERVER_COUNT"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"CAMPUSRIDE_LOG_LEVEL"`
	Format     string            `json:"format" env:"CAMPUSRIDE_LOG_FORMAT"`
	Output     string            `json:"output" env:"CAMPUSRIDE_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load from environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	// Validate the path for security
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	// Open the file safely after validation
	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Environment variables override file values
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      0, // long-lived SSE responses must not be cut off
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter:      "memory",
			JSONFilePath: "campusride-state.json",
			Redis:        redis.DefaultConfig(),
			SQL:          sqlx.DefaultConfig(sqlx.DriverPostgres),
		},
		Auth: AuthConfig{
			JWTSecret: "dev-only-secret",
		},
		Push: PushConfig{
			Endpoint:          "http://localhost:9000/send",
			MaxAttempts:       3,
			RetryBase:         time.Second,
			OptimizerInterval: 60 * time.Second,
			PollTimeout:       time.Second,
			InstanceID:        hostname,
			ServerCount:       1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	// Validate environment
	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	// Validate server config
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	// Validate storage config
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	// Validate auth config
	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("auth config: %v", err))
	}

	// Validate push config
	if err := c.Push.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("push config: %v", err))
	}

	// Validate logging config
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	// Create a copy for redaction
	cfg := *c

	// Redact sensitive information
	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Auth.JWTSecret != "" {
		cfg.Auth.JWTSecret = "[REDACTED]"
	}
	if cfg.Push.APIKey != "" {
		cfg.Push.APIKey = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
