package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"
)

// minBufferSize fits the largest fixed-shape packet plus a short username.
const minBufferSize = 16

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	server := cfg.GetServer()
	app := cfg.GetApplicationData()

	validateServer(&server, result)
	validateApplicationData(&app, result)

	if app.API.Enabled && app.API.Port == server.Port {
		result.AddError("application_data.api.port", "port conflict detected: API and game ports must differ")
	}

	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if s.Host != "" && net.ParseIP(s.Host) == nil && strings.ContainsAny(s.Host, " /:") {
		result.AddError("server.host", fmt.Sprintf("invalid host: %q", s.Host))
	}

	validatePort(s.Port, "server.port", result)

	validateBuffer(s.InputBufferSize, "server.input_buffer_size", result)
	validateBuffer(s.OutputBufferSize, "server.output_buffer_size", result)

	if s.LoginTimeoutSec < 0 {
		result.AddError("server.login_timeout_sec", "login timeout cannot be negative (0 disables it)")
	}

	if s.WriteTimeoutMS < 0 {
		result.AddError("server.write_timeout_ms", "write timeout cannot be negative")
	} else if s.WriteTimeoutMS > 0 && s.WriteTimeoutMS < 100 {
		result.AddWarning("server.write_timeout_ms", "write timeout below 100ms may drop slow clients")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
		if data.MQTT.UseTLS && (data.MQTT.CertFile == "") != (data.MQTT.KeyFile == "") {
			result.AddError("application_data.mqtt.cert_file", "client certificate and key must be set together")
		}
	}

	// Security
	if data.API.Enabled && !data.Security.AuthDisabled && strings.TrimSpace(data.Security.APIToken) == "" {
		result.AddError("application_data.security.api_token",
			"an API token is required unless auth_disabled is set")
	}
	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	// Timers
	if data.Timers.HeartbeatInterval < 1 {
		result.AddError("application_data.timers.heartbeat_interval_sec", "heartbeat interval must be at least 1s")
	} else if data.Timers.HeartbeatInterval < 5 {
		result.AddWarning("application_data.timers.heartbeat_interval_sec",
			"heartbeat interval less than 5s may cause excessive traffic")
	}

	// Logging
	if _, err := zerolog.ParseLevel(data.Logging.Level); err != nil {
		result.AddError("application_data.logging.level", fmt.Sprintf("unknown log level: %q", data.Logging.Level))
	}
	if data.Logging.MaxSizeMB < 1 {
		result.AddWarning("application_data.logging.max_size_mb", "log rotation size below 1MB, using 1MB")
	}
}

func validateBuffer(size int, field string, result *ValidationResult) {
	if size < minBufferSize {
		result.AddError(field, fmt.Sprintf("buffer size %d is too small (minimum %d)", size, minBufferSize))
		return
	}
	if size > 64*1024 {
		result.AddWarning(field, fmt.Sprintf("buffer size %d is unusually large for lobby packets", size))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
