package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfigYAML = `
bridge:
  id: "living-room-bridge"
mqtt:
  broker:
    host: "mqtt.local"
    port: 1883
  qos: 1
devices:
  - id: "lounge"
    host: "192.168.1.40"
  - id: "bedroom"
    host: "192.168.1.41"
    port: 8061
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), validConfigYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ID != "living-room-bridge" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "living-room-bridge")
	}
	if cfg.MQTT.Broker.Host != "mqtt.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.local")
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(cfg.Devices))
	}
	if cfg.Devices[0].Port != DefaultDevicePort {
		t.Errorf("Devices[0].Port = %d, want default %d", cfg.Devices[0].Port, DefaultDevicePort)
	}
	if cfg.Devices[1].Port != 8061 {
		t.Errorf("Devices[1].Port = %d, want 8061", cfg.Devices[1].Port)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), validConfigYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.GetScanInterval(); got != 15*time.Second {
		t.Errorf("GetScanInterval() = %v, want 15s", got)
	}
	if got := cfg.GetFullUpdateInterval(); got != 15*time.Minute {
		t.Errorf("GetFullUpdateInterval() = %v, want 15m", got)
	}
	if got := cfg.GetHealthInterval(); got != 30*time.Second {
		t.Errorf("GetHealthInterval() = %v, want 30s", got)
	}
	if got := cfg.GetSetupRetryInterval(); got != 5*time.Second {
		t.Errorf("GetSetupRetryInterval() = %v, want 5s", got)
	}
	if !cfg.ImageCache.Enabled || cfg.ImageCache.SizeMB != 64 {
		t.Errorf("ImageCache = %+v, want enabled with 64MB", cfg.ImageCache)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
bridge:
  id: ""
devices: []
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "bridge.id is required") {
		t.Errorf("error %q does not mention bridge.id", err)
	}
	if !strings.Contains(err.Error(), "at least one device is required") {
		t.Errorf("error %q does not mention devices", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), validConfigYAML)

	t.Setenv("GRAYLOGIC_ROKU_MQTT_HOST", "broker.example")
	t.Setenv("GRAYLOGIC_ROKU_API_PORT", "9001")
	t.Setenv("GRAYLOGIC_ROKU_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "broker.example" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.example")
	}
	if cfg.API.Port != 9001 {
		t.Errorf("API.Port = %d, want 9001", cfg.API.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validConfigYAML)
	envContent := "GRAYLOGIC_ROKU_MQTT_PASSWORD=from-dotenv\nGRAYLOGIC_ROKU_INFLUXDB_TOKEN=token-123\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(envContent), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	// Register the keys so t.Setenv restores them after godotenv sets them.
	t.Setenv("GRAYLOGIC_ROKU_MQTT_PASSWORD", "")
	t.Setenv("GRAYLOGIC_ROKU_INFLUXDB_TOKEN", "")
	os.Unsetenv("GRAYLOGIC_ROKU_MQTT_PASSWORD")
	os.Unsetenv("GRAYLOGIC_ROKU_INFLUXDB_TOKEN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Auth.Password != "from-dotenv" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "from-dotenv")
	}
	if cfg.InfluxDB.Token != "token-123" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "token-123")
	}
}

func TestLoad_ExplicitEnvFileMissing(t *testing.T) {
	path := writeConfig(t, t.TempDir(), validConfigYAML)
	t.Setenv(EnvFileVar, filepath.Join(t.TempDir(), "missing.env"))

	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for missing explicit env file, got nil")
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Devices = []DeviceConfig{{ID: "lounge", Host: "192.168.1.40", Port: DefaultDevicePort}}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing bridge ID",
			mutate:  func(c *Config) { c.Bridge.ID = "" },
			wantErr: true,
		},
		{
			name:    "zero scan interval",
			mutate:  func(c *Config) { c.Bridge.ScanInterval = 0 },
			wantErr: true,
		},
		{
			name:    "full update shorter than scan",
			mutate:  func(c *Config) { c.Bridge.FullUpdateInterval = 5 },
			wantErr: true,
		},
		{
			name:    "zero setup retry interval",
			mutate:  func(c *Config) { c.Bridge.SetupRetryInterval = 0 },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid API port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name: "API port ignored when disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
			wantErr: false,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name:    "image cache with zero size",
			mutate:  func(c *Config) { c.ImageCache.SizeMB = 0 },
			wantErr: true,
		},
		{
			name: "duplicate device IDs",
			mutate: func(c *Config) {
				c.Devices = append(c.Devices, DeviceConfig{ID: "lounge", Host: "192.168.1.50", Port: DefaultDevicePort})
			},
			wantErr: true,
		},
		{
			name:    "device without host",
			mutate:  func(c *Config) { c.Devices[0].Host = "" },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_TimeoutGetters(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
	if got := cfg.GetImageCacheTTL(); got != time.Hour {
		t.Errorf("GetImageCacheTTL() = %v, want 1h", got)
	}
	if got := cfg.GetImageFetchTimeout(); got != 10*time.Second {
		t.Errorf("GetImageFetchTimeout() = %v, want 10s", got)
	}
}
