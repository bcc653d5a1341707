package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides DefaultPath.
const EnvConfigPath = "INSTRUMENTAL_CONFIG"

// Config is the root configuration structure for Instrumental.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Resolver ResolverConfig `yaml:"resolver"`

	// Servers maps a server alias to a host:port address.
	Servers map[string]string `yaml:"servers"`

	// Instruments maps an alias name to the parameters of the instrument it
	// stands for. These aliases are read-only.
	Instruments map[string]map[string]any `yaml:"instruments"`

	VISA     VISAConfig     `yaml:"visa"`
	Remote   RemoteConfig   `yaml:"remote"`
	API      APIConfig      `yaml:"api"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig contains settings for the SQLite alias store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// ResolverConfig contains instrument resolution settings.
type ResolverConfig struct {
	// ReopenPolicy is one of "strict", "reuse" or "new".
	ReopenPolicy string `yaml:"reopen_policy"`

	// Blacklist holds module path globs that are never considered.
	Blacklist []string `yaml:"blacklist"`

	// DefaultServer is the address used for server "default".
	DefaultServer string `yaml:"default_server"`
}

// VISAConfig contains instrument I/O settings.
type VISAConfig struct {
	TimeoutMS      int      `yaml:"timeout_ms"`
	Addresses      []string `yaml:"addresses"`
	ConnectRetries int      `yaml:"connect_retries"`
	SerialBaud     int      `yaml:"serial_baud"`
}

// RemoteConfig contains remote listing server and client settings.
type RemoteConfig struct {
	Listen    string `yaml:"listen"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// APIConfig contains HTTP API server settings used by `instrumental serve`.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`

	// TokenSecret signs bearer tokens. Empty disables authentication.
	TokenSecret string `yaml:"token_secret"`

	// PanelDir serves the dashboard from disk instead of the embedded copy.
	PanelDir string `yaml:"panel_dir"`

	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	CORS      CORSConfig      `yaml:"cors"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// TimeoutConfig contains HTTP timeout settings in seconds.
type TimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DefaultPath returns $INSTRUMENTAL_CONFIG if set, otherwise
// <UserConfigDir>/instrumental/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "instrumental.yaml")
	}
	return filepath.Join(dir, "instrumental", "config.yaml")
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: INSTRUMENTAL_SECTION_KEY
// For example: INSTRUMENTAL_DATABASE_PATH, INSTRUMENTAL_REOPEN_POLICY
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to the defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(defaultConfig())
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	dataDir := filepath.Join(".", "data")
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, "instrumental")
	}
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Database: DatabaseConfig{
			Path:        filepath.Join(dataDir, "aliases.db"),
			WALMode:     true,
			BusyTimeout: 5,
		},
		Resolver: ResolverConfig{
			ReopenPolicy: "strict",
		},
		VISA: VISAConfig{
			TimeoutMS:      2000,
			ConnectRetries: 3,
			SerialBaud:     9600,
		},
		Remote: RemoteConfig{
			Listen:    ":28265",
			TimeoutMS: 10000,
		},
		API: APIConfig{
			Listen: ":8140",
			Timeouts: TimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "instrumental",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INSTRUMENTAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("INSTRUMENTAL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("INSTRUMENTAL_REOPEN_POLICY"); v != "" {
		cfg.Resolver.ReopenPolicy = v
	}
	if v := os.Getenv("INSTRUMENTAL_DEFAULT_SERVER"); v != "" {
		cfg.Resolver.DefaultServer = v
	}
	if v := os.Getenv("INSTRUMENTAL_VISA_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.VISA.TimeoutMS = n
		}
	}
	if v := os.Getenv("INSTRUMENTAL_API_TOKEN_SECRET"); v != "" {
		cfg.API.TokenSecret = v
	}
	if v := os.Getenv("INSTRUMENTAL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("INSTRUMENTAL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("INSTRUMENTAL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("INSTRUMENTAL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch strings.ToLower(strings.TrimSpace(c.Resolver.ReopenPolicy)) {
	case "", "strict", "reuse", "new":
	default:
		errs = append(errs, fmt.Sprintf("resolver.reopen_policy %q must be strict, reuse or new", c.Resolver.ReopenPolicy))
	}
	for _, glob := range c.Resolver.Blacklist {
		if _, err := filepath.Match(glob, ""); err != nil {
			errs = append(errs, fmt.Sprintf("resolver.blacklist entry %q is not a valid glob", glob))
		}
	}

	for name, addr := range c.Servers {
		if name == "" || addr == "" {
			errs = append(errs, "servers entries need a name and an address")
		}
	}
	for name, params := range c.Instruments {
		if len(params) == 0 {
			errs = append(errs, fmt.Sprintf("instruments.%s has no parameters", name))
		}
	}

	if c.VISA.TimeoutMS < 0 {
		errs = append(errs, "visa.timeout_ms must not be negative")
	}
	if c.VISA.ConnectRetries < 0 {
		errs = append(errs, "visa.connect_retries must not be negative")
	}

	if c.API.Enabled {
		if c.API.Listen == "" {
			errs = append(errs, "api.listen is required when the api is enabled")
		}
		if c.API.WebSocket.PingInterval <= 0 || c.API.WebSocket.PongTimeout <= 0 {
			errs = append(errs, "api.websocket ping_interval and pong_timeout must be positive")
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && (c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535) {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// VISATimeout returns the VISA I/O timeout as a Duration.
func (c *Config) VISATimeout() time.Duration {
	return time.Duration(c.VISA.TimeoutMS) * time.Millisecond
}

// RemoteTimeout returns the remote client timeout as a Duration.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutMS) * time.Millisecond
}
