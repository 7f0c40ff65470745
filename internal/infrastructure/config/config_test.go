package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
status:
  enabled: true
  port: 9100
protocols:
  amcrest:
    enabled: true
    config_file: "/etc/graylogic/amcrest.yaml"
    recheck_interval: 30s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Status.Port != 9100 {
		t.Errorf("Status.Port = %d, want 9100", cfg.Status.Port)
	}
	if cfg.Protocols.Amcrest.ConfigFile != "/etc/graylogic/amcrest.yaml" {
		t.Errorf("Amcrest.ConfigFile = %q", cfg.Protocols.Amcrest.ConfigFile)
	}
	if cfg.Protocols.Amcrest.RecheckInterval != 30*time.Second {
		t.Errorf("Amcrest.RecheckInterval = %v, want 30s", cfg.Protocols.Amcrest.RecheckInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
database:
  path: "/tmp/test.db"
`)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "status port low", mutate: func(c *Config) { c.Status.Port = 0 }, wantErr: true},
		{name: "status port high", mutate: func(c *Config) { c.Status.Port = 70000 }, wantErr: true},
		{name: "websocket ping zero", mutate: func(c *Config) { c.Status.WebSocket.PingInterval = 0 }, wantErr: true},
		{
			name:   "status disabled ignores port",
			mutate: func(c *Config) { c.Status.Enabled = false; c.Status.Port = 0 },
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name:    "amcrest enabled without config file",
			mutate:  func(c *Config) { c.Protocols.Amcrest.ConfigFile = "" },
			wantErr: true,
		},
		{
			name:    "negative recheck interval",
			mutate:  func(c *Config) { c.Protocols.Amcrest.RecheckInterval = -time.Second },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_AMCREST_CONFIG", "/srv/cameras.yaml")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Protocols.Amcrest.ConfigFile != "/srv/cameras.yaml" {
		t.Errorf("Amcrest.ConfigFile = %q, want %q", cfg.Protocols.Amcrest.ConfigFile, "/srv/cameras.yaml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Protocols.Amcrest.RecheckInterval != time.Minute {
		t.Errorf("defaultConfig RecheckInterval = %v, want 1m", cfg.Protocols.Amcrest.RecheckInterval)
	}
	if got := cfg.GetHealthInterval(); got != 30*time.Second {
		t.Errorf("GetHealthInterval() = %v, want 30s", got)
	}
	if got := cfg.StatusAddress(); got != "0.0.0.0:8091" {
		t.Errorf("StatusAddress() = %q, want 0.0.0.0:8091", got)
	}
}
