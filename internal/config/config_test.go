package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/google/go-cmp/cmp"
)

func TestLoad_CreatesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Path() != filepath.Join(dir, DefaultConfigFile) {
		t.Errorf("Path() = %q", cfg.Path())
	}
	if _, err := os.Stat(cfg.Path()); err != nil {
		t.Fatalf("default config was not written: %v", err)
	}

	want := DefaultConfig()
	if diff := deep.Equal(want.GetServer(), cfg.GetServer()); diff != nil {
		t.Errorf("server section differs from defaults: %v", diff)
	}
	if diff := deep.Equal(want.GetApplicationData(), cfg.GetApplicationData()); diff != nil {
		t.Errorf("application data differs from defaults: %v", diff)
	}
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := `{"server": {"port": 4000, "login_timeout_sec": 30}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	s := cfg.GetServer()
	if s.Port != 4000 || s.LoginTimeout() != 30*time.Second {
		t.Errorf("file values not applied: %+v", s)
	}
	if s.InputBufferSize != DefaultBufferSize {
		t.Errorf("missing key did not keep its default: %d", s.InputBufferSize)
	}

	// the file is re-saved with every option
	data, err := os.ReadFile(cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	var saved map[string]map[string]interface{}
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("saved config is not valid JSON: %v", err)
	}
	if _, ok := saved["server"]["write_timeout_ms"]; !ok {
		t.Error("re-saved config is missing default keys")
	}
	if _, ok := saved["application_data"]["mqtt"]; !ok {
		t.Error("re-saved config is missing the mqtt section")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MULTISNAKE_SERVER_PORT", "41000")
	t.Setenv("MULTISNAKE_APPLICATION_DATA_SECURITY_API_TOKEN", "s3cret")
	t.Setenv("MULTISNAKE_APPLICATION_DATA_MQTT_ENABLED", "true")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.GetServer().Port; got != 41000 {
		t.Errorf("Port = %d, want 41000", got)
	}
	app := cfg.GetApplicationData()
	if app.Security.APIToken != "s3cret" {
		t.Errorf("APIToken = %q", app.Security.APIToken)
	}
	if !app.MQTT.Enabled {
		t.Error("MQTT.Enabled override not applied")
	}

	// overrides are not persisted
	data, err := os.ReadFile(cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	var saved Config
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.Server.Port != DefaultGamePort {
		t.Errorf("environment override leaked into the file: port %d", saved.Server.Port)
	}
}

func TestLoad_RejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("Load() accepted a malformed file")
	}
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"", 35236, ":35236"},
		{"127.0.0.1", 80, "127.0.0.1:80"},
		{"::1", 9000, "[::1]:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			s := ServerConfig{Host: tt.host, Port: tt.port}
			if got := s.Address(); got != tt.want {
				t.Errorf("Address() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(c *Config)
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:       "bad game port",
			mutate:     func(c *Config) { c.Server.Port = 70000 },
			wantErrors: []string{"server.port"},
		},
		{
			name:         "privileged port",
			mutate:       func(c *Config) { c.Server.Port = 80 },
			wantWarnings: []string{"server.port"},
		},
		{
			name:       "port conflict",
			mutate:     func(c *Config) { c.ApplicationData.API.Port = c.Server.Port },
			wantErrors: []string{"application_data.api.port"},
		},
		{
			name:       "tiny buffers and negative timeout",
			mutate:     func(c *Config) { c.Server.InputBufferSize = 4; c.Server.LoginTimeoutSec = -1 },
			wantErrors: []string{"server.input_buffer_size", "server.login_timeout_sec"},
		},
		{
			name:       "auth without token",
			mutate:     func(c *Config) { c.ApplicationData.Security.AuthDisabled = false },
			wantErrors: []string{"application_data.security.api_token"},
		},
		{
			name: "mqtt without broker",
			mutate: func(c *Config) {
				c.ApplicationData.MQTT.Enabled = true
				c.ApplicationData.MQTT.BrokerURL = " "
			},
			wantErrors: []string{"application_data.mqtt.broker_url"},
		},
		{
			name:       "unknown log level",
			mutate:     func(c *Config) { c.ApplicationData.Logging.Level = "loud" },
			wantErrors: []string{"application_data.logging.level"},
		},
		{
			name:         "short heartbeat",
			mutate:       func(c *Config) { c.ApplicationData.Timers.HeartbeatInterval = 2 },
			wantWarnings: []string{"application_data.timers.heartbeat_interval_sec"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			result := Validate(cfg)
			if diff := cmp.Diff(tt.wantErrors, fields(result.Errors)); diff != "" {
				t.Errorf("errors mismatch, diff:\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantWarnings, fields(result.Warnings)); diff != "" {
				t.Errorf("warnings mismatch, diff:\n%s", diff)
			}
			if result.IsValid() != (len(tt.wantErrors) == 0) {
				t.Errorf("IsValid() = %v", result.IsValid())
			}
		})
	}
}

func fields(errs []ValidationError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}
