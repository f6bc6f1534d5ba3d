package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for SSDS Ingest.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker     BrokerConfig     `yaml:"broker"`
	Queue      QueueConfig      `yaml:"queue"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Management ManagementConfig `yaml:"management"`
	Database   DatabaseConfig   `yaml:"database"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BrokerConfig contains AMQP broker connection settings.
type BrokerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	VHost      string `yaml:"vhost"`
	ClientName string `yaml:"client_name"`

	// Heartbeat is the AMQP heartbeat interval in seconds.
	Heartbeat int `yaml:"heartbeat"`

	// ConnectTimeout bounds dial and handshake, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// Prefetch is the consumer QoS prefetch count.
	Prefetch int `yaml:"prefetch"`

	// Confirm enables publisher confirms on the channel.
	Confirm bool `yaml:"confirm"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig contains username/password credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// QueueConfig describes the single named queue packets travel through.
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	Exclusive  bool   `yaml:"exclusive"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// PipelineConfig contains ingestion pipeline settings.
type PipelineConfig struct {
	// DrainTimeout bounds in-flight processing on shutdown, in seconds.
	DrainTimeout int `yaml:"drain_timeout"`

	// RequeueOnFailure nacks failed deliveries with requeue instead of
	// leaving them unacknowledged until the channel closes. Defaults to
	// true; when false the pipeline faults once held failures fill the
	// prefetch window.
	RequeueOnFailure bool `yaml:"requeue_on_failure"`
}

// ManagementConfig contains RabbitMQ management API settings.
type ManagementConfig struct {
	URL     string     `yaml:"url"`
	Timeout int        `yaml:"timeout"`
	Auth    AuthConfig `yaml:"auth"`
}

// DatabaseConfig contains SQLite packet archive settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
	Timeout int    `yaml:"timeout"`
}

// MQTTConfig contains MQTT uplink settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      AuthConfig          `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Topic     string              `yaml:"topic"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains diagnostics HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SSDS_SECTION_KEY
// For example: SSDS_BROKER_HOST, SSDS_QUEUE_NAME
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.inheritManagementAuth()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given, with
// environment overrides applied. It is not validated.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	cfg.inheritManagementAuth()
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
// Broker defaults match the stock RabbitMQ "ssds" deployment.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:           "localhost",
			Port:           5672,
			VHost:          "ssds",
			ClientName:     "ssds-ingest",
			Heartbeat:      10,
			ConnectTimeout: 10,
			Prefetch:       1,
			Confirm:        true,
		},
		Queue: QueueConfig{
			Durable: true,
		},
		Pipeline: PipelineConfig{
			DrainTimeout:     10,
			RequeueOnFailure: true,
		},
		Management: ManagementConfig{
			URL:     "http://localhost:15672",
			Timeout: 10,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/ssds.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			Timeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ssds-uplink",
			},
			QoS:   1,
			Topic: "ssds/packets/+",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SSDS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Broker
	if v := os.Getenv("SSDS_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("SSDS_BROKER_VHOST"); v != "" {
		cfg.Broker.VHost = v
	}
	if v := os.Getenv("SSDS_BROKER_USERNAME"); v != "" {
		cfg.Broker.Auth.Username = v
	}
	if v := os.Getenv("SSDS_BROKER_PASSWORD"); v != "" {
		cfg.Broker.Auth.Password = v
	}

	// Queue
	if v := os.Getenv("SSDS_QUEUE_NAME"); v != "" {
		cfg.Queue.Name = v
	}

	// Management
	if v := os.Getenv("SSDS_MANAGEMENT_URL"); v != "" {
		cfg.Management.URL = v
	}

	// Database
	if v := os.Getenv("SSDS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("SSDS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// MQTT
	if v := os.Getenv("SSDS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SSDS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SSDS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
}

// inheritManagementAuth copies the broker credentials to the management
// API when none are configured. RabbitMQ uses one user database for both.
func (c *Config) inheritManagementAuth() {
	if c.Management.Auth.Username == "" {
		c.Management.Auth = c.Broker.Auth
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Broker validation
	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if c.Broker.VHost == "" {
		errs = append(errs, "broker.vhost is required")
	}
	if c.Broker.Auth.Username == "" {
		errs = append(errs, "broker.auth.username is required (set SSDS_BROKER_USERNAME environment variable)")
	}
	if c.Broker.Prefetch < 0 {
		errs = append(errs, "broker.prefetch must not be negative")
	}

	// Queue validation
	if c.Queue.Name == "" {
		errs = append(errs, "queue.name is required (set SSDS_QUEUE_NAME environment variable)")
	}

	// Pipeline validation
	if c.Pipeline.DrainTimeout < 0 {
		errs = append(errs, "pipeline.drain_timeout must not be negative")
	}

	// Management validation
	if c.Management.URL != "" {
		if u, err := url.Parse(c.Management.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "management.url must be an absolute http(s) URL")
		}
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Topic == "" {
		errs = append(errs, "mqtt.topic is required when mqtt is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HeartbeatInterval returns the AMQP heartbeat as a Duration.
func (b BrokerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(b.Heartbeat) * time.Second
}

// GetConnectTimeout returns the broker connect timeout as a Duration.
func (b BrokerConfig) GetConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeout) * time.Second
}

// GetDrainTimeout returns the pipeline drain timeout as a Duration.
func (p PipelineConfig) GetDrainTimeout() time.Duration {
	return time.Duration(p.DrainTimeout) * time.Second
}

// GetTimeout returns the management API request timeout as a Duration.
func (m ManagementConfig) GetTimeout() time.Duration {
	return time.Duration(m.Timeout) * time.Second
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
