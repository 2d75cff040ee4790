// Package config handles configuration loading, validation, and persistence
// for the Multisnake lobby server.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 35236
	DefaultAPIPort    = 5000
	DefaultBufferSize = 256

	// EnvPrefix prefixes environment overrides, e.g. MULTISNAKE_SERVER_PORT.
	EnvPrefix = "MULTISNAKE"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Server          ServerConfig    `json:"server" mapstructure:"server"`
	ApplicationData ApplicationData `json:"application_data" mapstructure:"application_data"`
}

// ServerConfig configures the game protocol listener.
type ServerConfig struct {
	Host             string `json:"host" mapstructure:"host"`
	Port             int    `json:"port" mapstructure:"port"`
	InputBufferSize  int    `json:"input_buffer_size" mapstructure:"input_buffer_size"`
	OutputBufferSize int    `json:"output_buffer_size" mapstructure:"output_buffer_size"`
	LoginTimeoutSec  int    `json:"login_timeout_sec" mapstructure:"login_timeout_sec"`
	WriteTimeoutMS   int    `json:"write_timeout_ms" mapstructure:"write_timeout_ms"`
}

// ApplicationData contains the settings of everything around the game port.
type ApplicationData struct {
	API      APIConfig      `json:"api" mapstructure:"api"`
	Security SecurityConfig `json:"security" mapstructure:"security"`
	MQTT     MQTTConfig     `json:"mqtt" mapstructure:"mqtt"`
	Timers   TimerConfig    `json:"timers" mapstructure:"timers"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	CLI      CLIConfig      `json:"cli" mapstructure:"cli"`
}

// APIConfig holds the HTTP status API settings.
type APIConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	Port    int  `json:"port" mapstructure:"port"`
}

// SecurityConfig holds security-related settings of the HTTP API.
type SecurityConfig struct {
	AllowedOrigins []string `json:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	APIToken       string   `json:"api_token" mapstructure:"api_token"`
	AuthDisabled   bool     `json:"auth_disabled" mapstructure:"auth_disabled"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	BrokerURL string `json:"broker_url" mapstructure:"broker_url"`
	Port      int    `json:"port" mapstructure:"port"`
	UseTLS    bool   `json:"use_tls" mapstructure:"use_tls"`
	CertFile  string `json:"cert_file" mapstructure:"cert_file"`
	KeyFile   string `json:"key_file" mapstructure:"key_file"`
	ClientID  string `json:"client_id" mapstructure:"client_id"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	HeartbeatInterval int `json:"heartbeat_interval_sec" mapstructure:"heartbeat_interval_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Directory  string `json:"directory" mapstructure:"directory"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
}

// CLIConfig controls the interactive operator console.
type CLIConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "",
			Port:             DefaultGamePort,
			InputBufferSize:  DefaultBufferSize,
			OutputBufferSize: DefaultBufferSize,
			LoginTimeoutSec:  0,
			WriteTimeoutMS:   5000,
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled: true,
				Port:    DefaultAPIPort,
			},
			Security: SecurityConfig{
				AllowedOrigins: []string{"*"},
				RateLimitRPS:   100,
				AuthDisabled:   true,
			},
			MQTT: MQTTConfig{
				Enabled:   false,
				BrokerURL: "localhost",
				Port:      1883,
				ClientID:  "multisnake",
			},
			Timers: TimerConfig{
				HeartbeatInterval: 60,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
				MaxAgeDays: 7,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
	}
}

// Load reads the JSON configuration in configDir, creating it with defaults
// when missing. Environment variables prefixed with EnvPrefix override file
// values but are never written back.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	cfg := DefaultConfig()
	cfg.path = configPath

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		log.Info().Str("path", configPath).Msg("config file not found, creating default")
		if saveErr := cfg.Save(); saveErr != nil {
			return nil, fmt.Errorf("failed to save default config: %w", saveErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		// Start with defaults, then overlay
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
		// Re-save so that config.json always lists every option.
		if saveErr := cfg.Save(); saveErr != nil {
			log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	log.Info().Str("path", configPath).Msg("configuration loaded")
	return cfg, nil
}

// applyEnv reads the saved file through viper so that every key it contains
// can be overridden from the environment.
func (c *Config) applyEnv() error {
	v := viper.New()
	v.SetConfigFile(c.path)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", c.path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Ensure config directory exists
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the game listener configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// SetServer updates the game listener configuration.
func (c *Config) SetServer(s ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = s
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// Address returns the host:port the game listener binds.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoginTimeout returns the login deadline; zero means none.
func (s ServerConfig) LoginTimeout() time.Duration {
	return time.Duration(s.LoginTimeoutSec) * time.Second
}

// WriteTimeout returns the per-packet write deadline.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}
