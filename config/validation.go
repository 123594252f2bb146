package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}

	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}

	// WriteTimeout 0 is allowed: SSE streams outlive any fixed deadline

	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}

	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}

	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	validAdapters := []string{"memory", "jsonfile", "sql"}
	isValidAdapter := false
	for _, adapter := range validAdapters {
		if s.Adapter == adapter {
			isValidAdapter = true
			break
		}
	}

	if !isValidAdapter {
		errs = append(errs, fmt.Sprintf("adapter must be one of: %s", strings.Join(validAdapters, ", ")))
	}

	if s.Redis.Addr == "" {
		errs = append(errs, "redis addr cannot be empty")
	}

	if s.Adapter == "sql" && s.SQL.DSN == "" {
		errs = append(errs, "sql dsn cannot be empty when the sql adapter is selected")
	}

	if s.Adapter == "jsonfile" && s.JSONFilePath == "" {
		errs = append(errs, "jsonfile_path cannot be empty when the jsonfile adapter is selected")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates auth configuration
func (a *AuthConfig) Validate() error {
	if strings.TrimSpace(a.JWTSecret) == "" {
		return errors.New("jwt_secret cannot be empty")
	}
	return nil
}

// Validate validates push pipeline configuration
func (p *PushConfig) Validate() error {
	var errs []string

	if p.Endpoint == "" {
		errs = append(errs, "endpoint cannot be empty")
	}

	if p.MaxAttempts <= 0 {
		errs = append(errs, "max_attempts must be positive")
	}

	if p.RetryBase <= 0 {
		errs = append(errs, "retry_base must be positive")
	}

	if p.OptimizerInterval <= 0 {
		errs = append(errs, "optimizer_interval must be positive")
	}

	if p.PollTimeout <= 0 {
		errs = append(errs, "poll_timeout must be positive")
	}

	if p.ServerCount <= 0 {
		errs = append(errs, "server_count must be positive")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	validLevels := []string{"debug", "info", "warn", "error"}
	isValidLevel := false
	for _, level := range validLevels {
		if l.Level == level {
			isValidLevel = true
			break
		}
	}

	if !isValidLevel {
		errs = append(errs, fmt.Sprintf("level must be one of: %s", strings.Join(validLevels, ", ")))
	}

	validFormats := []string{"json", "text"}
	isValidFormat := false
	for _, format := range validFormats {
		if l.Format == format {
			isValidFormat = true
			break
		}
	}

	if !isValidFormat {
		errs = append(errs, fmt.Sprintf("format must be one of: %s", strings.Join(validFormats, ", ")))
	}

	validOutputs := []string{"stdout", "stderr"}
	isValidOutput := false
	for _, output := range validOutputs {
		if l.Output == output {
			isValidOutput = true
			break
		}
	}

	if !isValidOutput {
		errs = append(errs, fmt.Sprintf("output must be one of: %s", strings.Join(validOutputs, ", ")))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}
