package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names recognised by applyEnvOverrides.
const (
	envPrefix = "GRAYLOGIC_ROKU_"

	// EnvFileVar points at an explicit .env file, overriding the file next
	// to the YAML config.
	EnvFileVar = envPrefix + "ENV_FILE"
)

// DefaultDevicePort is the ECP port Roku devices listen on.
const DefaultDevicePort = 8060

// Config is the root configuration structure for the Roku bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge     BridgeConfig     `yaml:"bridge"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	ImageCache ImageCacheConfig `yaml:"image_cache"`
	Logging    LoggingConfig    `yaml:"logging"`
	Devices    []DeviceConfig   `yaml:"devices"`
}

// BridgeConfig contains bridge identity and polling settings.
type BridgeConfig struct {
	// ID identifies this bridge in health messages and the MQTT client ID.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	HealthInterval int `yaml:"health_interval"`

	// ScanInterval is the device poll interval (seconds).
	ScanInterval int `yaml:"scan_interval"`

	// FullUpdateInterval is how often a poll also refreshes device info,
	// installed apps and channels (seconds).
	FullUpdateInterval int `yaml:"full_update_interval"`

	// SetupRetryInterval is the first delay before retrying a device that
	// could not be reached during setup (seconds). Later retries back off.
	SetupRetryInterval int `yaml:"setup_retry_interval"`
}

// DeviceConfig identifies one Roku device to set up.
type DeviceConfig struct {
	// ID is the configured name of this entry, used in logs before the
	// device serial number is known.
	ID   string `yaml:"id"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the state push endpoint.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for playback telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// ImageCacheConfig controls the in-memory cache for proxied browse images.
type ImageCacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// SizeMB is the cache capacity in megabytes.
	SizeMB int `yaml:"size_mb"`

	// TTL is how long a fetched image stays cached (seconds).
	TTL int `yaml:"ttl"`

	// FetchTimeout bounds a single upstream image download (seconds).
	FetchTimeout int `yaml:"fetch_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. A .env file beside the config (or at GRAYLOGIC_ROKU_ENV_FILE), which
//     only fills variables not already set in the process environment
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_ROKU_SECTION_KEY
// For example: GRAYLOGIC_ROKU_MQTT_HOST, GRAYLOGIC_ROKU_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := loadEnvFile(path); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	cfg.applyDeviceDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadEnvFile loads a .env file into the process environment. A missing
// file is not an error unless it was named explicitly.
func loadEnvFile(configPath string) error {
	envFile := os.Getenv(EnvFileVar)
	explicit := envFile != ""
	if !explicit {
		envFile = filepath.Join(filepath.Dir(configPath), ".env")
	}

	if _, err := os.Stat(envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("reading env file: %w", err)
	}

	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("parsing env file %s: %w", envFile, err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:                 "roku-bridge-01",
			HealthInterval:     30,
			ScanInterval:       15,
			FullUpdateInterval: 900,
			SetupRetryInterval: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-roku",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8095,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "graylogic_roku",
		},
		ImageCache: ImageCacheConfig{
			Enabled:      true,
			SizeMB:       64,
			TTL:          3600,
			FetchTimeout: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}

	// MQTT
	if v := os.Getenv(envPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v, ok := envInt(envPrefix + "MQTT_PORT"); ok {
		cfg.MQTT.Broker.Port = v
	}
	if v := os.Getenv(envPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv(envPrefix + "API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v, ok := envInt(envPrefix + "API_PORT"); ok {
		cfg.API.Port = v
	}

	// InfluxDB
	if v := os.Getenv(envPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// envInt reads an integer environment variable. Unparseable values are ignored.
func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// applyDeviceDefaults fills the port of devices that omit it.
func (c *Config) applyDeviceDefaults() {
	for i := range c.Devices {
		if c.Devices[i].Port == 0 {
			c.Devices[i].Port = DefaultDevicePort
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.validateAPI()...)
	errs = append(errs, c.validateInfluxDB()...)
	errs = append(errs, c.validateImageCache()...)
	errs = append(errs, c.validateDevices()...)
	errs = append(errs, c.validateLogging()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.ScanInterval < 1 {
		errs = append(errs, "bridge.scan_interval must be at least 1 second")
	}
	if c.Bridge.FullUpdateInterval < c.Bridge.ScanInterval {
		errs = append(errs, "bridge.full_update_interval must not be shorter than bridge.scan_interval")
	}
	if c.Bridge.HealthInterval < 0 {
		errs = append(errs, "bridge.health_interval must not be negative")
	}
	if c.Bridge.SetupRetryInterval < 1 {
		errs = append(errs, "bridge.setup_retry_interval must be at least 1 second")
	}
	return errs
}

func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	return errs
}

func (c *Config) validateAPI() []string {
	if !c.API.Enabled {
		return nil
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return []string{"api.port must be between 1 and 65535"}
	}
	return nil
}

func (c *Config) validateInfluxDB() []string {
	if !c.InfluxDB.Enabled {
		return nil
	}
	var errs []string
	if c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.InfluxDB.Org == "" {
		errs = append(errs, "influxdb.org is required when influxdb is enabled")
	}
	if c.InfluxDB.Bucket == "" {
		errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
	}
	return errs
}

func (c *Config) validateImageCache() []string {
	if !c.ImageCache.Enabled {
		return nil
	}
	if c.ImageCache.SizeMB < 1 {
		return []string{"image_cache.size_mb must be at least 1"}
	}
	return nil
}

func (c *Config) validateDevices() []string {
	if len(c.Devices) == 0 {
		return []string{"at least one device is required"}
	}

	var errs []string
	seen := make(map[string]bool, len(c.Devices))
	for i, dev := range c.Devices {
		if dev.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
		} else if seen[dev.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicated", i, dev.ID))
		}
		seen[dev.ID] = true

		if dev.Host == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].host is required", i))
		}
		if dev.Port < 1 || dev.Port > 65535 {
			errs = append(errs, fmt.Sprintf("devices[%d].port must be between 1 and 65535", i))
		}
	}
	return errs
}

func (c *Config) validateLogging() []string {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return []string{fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)}
	}
	return nil
}

// GetHealthInterval returns the health reporting interval.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetScanInterval returns the device poll interval.
func (c *Config) GetScanInterval() time.Duration {
	return time.Duration(c.Bridge.ScanInterval) * time.Second
}

// GetFullUpdateInterval returns the interval between full device updates.
func (c *Config) GetFullUpdateInterval() time.Duration {
	return time.Duration(c.Bridge.FullUpdateInterval) * time.Second
}

// GetSetupRetryInterval returns the first retry delay for unreachable devices.
func (c *Config) GetSetupRetryInterval() time.Duration {
	return time.Duration(c.Bridge.SetupRetryInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetImageCacheTTL returns how long proxied images stay cached.
func (c *Config) GetImageCacheTTL() time.Duration {
	return time.Duration(c.ImageCache.TTL) * time.Second
}

// GetImageFetchTimeout returns the upstream image download timeout.
func (c *Config) GetImageFetchTimeout() time.Duration {
	return time.Duration(c.ImageCache.FetchTimeout) * time.Second
}
