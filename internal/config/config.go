package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gltrack/telemetry-server/pkg/glproto"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Bus      BusConfig      `yaml:"bus"`
	NATS     NATSConfig     `yaml:"nats"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Log      LogConfig      `yaml:"log"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// Addr returns host:port
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite"
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TxTimeout       time.Duration `yaml:"tx_timeout"`
}

// BusConfig selects the message bus backend and channel names
type BusConfig struct {
	// Backend is "nats", "mqtt" or "memory"
	Backend  string         `yaml:"backend"`
	Channels ChannelsConfig `yaml:"channels"`
}

// ChannelsConfig names the logical bus channels
type ChannelsConfig struct {
	Valid     string `yaml:"valid"`
	Corrupted string `yaml:"corrupted"`
	Frontend  string `yaml:"frontend"`
	Downlink  string `yaml:"downlink"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientName        string        `yaml:"client_name"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents MQTT broker configuration
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IngestConfig represents the TCP ingest server configuration
type IngestConfig struct {
	Listen           string        `yaml:"listen"`
	Magic            string        `yaml:"magic"`
	Layout           string        `yaml:"layout"`
	ReadBuffer       int           `yaml:"read_buffer"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	FrameGap         time.Duration `yaml:"frame_gap"`
	RegistryGrace    time.Duration `yaml:"registry_grace"`
	PublishQueue     int           `yaml:"publish_queue"`
	HistorySize      int           `yaml:"history_size"`
	Provider         string        `yaml:"provider"`
}

// ConsumerConfig represents the ingest consumer configuration
type ConsumerConfig struct {
	QueueSize   int    `yaml:"queue_size"`
	SessionName string `yaml:"session_name"`
}

// MetricsConfig represents prometheus exposition
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a configuration from yaml bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if backend := os.Getenv("BUS_BACKEND"); backend != "" {
		c.Bus.Backend = backend
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if listen := os.Getenv("INGEST_LISTEN"); listen != "" {
		c.Ingest.Listen = listen
	}
}

// setDefaults fills zero values
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "gltrack"
	}
	if c.Server.Version == "" {
		c.Server.Version = "dev"
	}

	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if len(c.API.AllowOrigins) == 0 {
		c.API.AllowOrigins = []string{"*"}
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Database.TxTimeout == 0 {
		c.Database.TxTimeout = 10 * time.Second
	}

	if c.Bus.Backend == "" {
		c.Bus.Backend = "nats"
	}
	if c.Bus.Channels.Valid == "" {
		c.Bus.Channels.Valid = "valid-data"
	}
	if c.Bus.Channels.Corrupted == "" {
		c.Bus.Channels.Corrupted = "corrupted-data"
	}
	if c.Bus.Channels.Frontend == "" {
		c.Bus.Channels.Frontend = "frontend-updates"
	}
	if c.Bus.Channels.Downlink == "" {
		c.Bus.Channels.Downlink = "provider-downlink"
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://127.0.0.1:1883"
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}
	if c.MQTT.RetryInterval == 0 {
		c.MQTT.RetryInterval = 2 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Ingest.Listen == "" {
		c.Ingest.Listen = "0.0.0.0:5000"
	}
	if c.Ingest.Magic == "" {
		c.Ingest.Magic = glproto.DefaultMagic.String()
	}
	if c.Ingest.Layout == "" {
		c.Ingest.Layout = glproto.DefaultLayout.Name
	}
	if c.Ingest.ReadBuffer == 0 {
		c.Ingest.ReadBuffer = 1024
	}
	if c.Ingest.ReadTimeout == 0 {
		c.Ingest.ReadTimeout = 30 * time.Second
	}
	if c.Ingest.HandshakeTimeout == 0 {
		c.Ingest.HandshakeTimeout = 10 * time.Second
	}
	if c.Ingest.FrameGap == 0 {
		c.Ingest.FrameGap = 250 * time.Millisecond
	}
	if c.Ingest.RegistryGrace == 0 {
		c.Ingest.RegistryGrace = 60 * time.Second
	}
	if c.Ingest.PublishQueue == 0 {
		c.Ingest.PublishQueue = 4096
	}
	if c.Ingest.HistorySize == 0 {
		c.Ingest.HistorySize = 1000
	}
	if c.Ingest.Provider == "" {
		c.Ingest.Provider = "tcp"
	}

	if c.Consumer.QueueSize == 0 {
		c.Consumer.QueueSize = 1024
	}
	if c.Consumer.SessionName == "" {
		c.Consumer.SessionName = "Auto-created session"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks values that have no sensible default
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Bus.Backend {
	case "nats", "mqtt", "memory":
	default:
		return fmt.Errorf("unsupported bus backend %q", c.Bus.Backend)
	}

	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}

	if _, err := glproto.ParseMagic(c.Ingest.Magic); err != nil {
		return err
	}
	if _, err := glproto.LayoutByName(c.Ingest.Layout); err != nil {
		return err
	}

	if c.Ingest.ReadBuffer < glproto.HeaderLen {
		return fmt.Errorf("ingest read_buffer must be at least %d", glproto.HeaderLen)
	}
	if c.Ingest.FrameGap >= c.Ingest.ReadTimeout {
		return fmt.Errorf("ingest frame_gap (%s) must be shorter than read_timeout (%s)",
			c.Ingest.FrameGap, c.Ingest.ReadTimeout)
	}

	channels := []string{c.Bus.Channels.Valid, c.Bus.Channels.Corrupted, c.Bus.Channels.Frontend, c.Bus.Channels.Downlink}
	seen := make(map[string]bool)
	for _, ch := range channels {
		if seen[ch] {
			return fmt.Errorf("bus channel %q used twice", ch)
		}
		seen[ch] = true
	}

	return nil
}

// IngestMagic returns the parsed frame header. Validate guarantees it parses.
func (c *Config) IngestMagic() glproto.Magic {
	m, err := glproto.ParseMagic(c.Ingest.Magic)
	if err != nil {
		return glproto.DefaultMagic
	}
	return m
}

// IngestLayout returns the configured sub-record layout
func (c *Config) IngestLayout() *glproto.Layout {
	l, err := glproto.LayoutByName(c.Ingest.Layout)
	if err != nil {
		return glproto.DefaultLayout
	}
	return l
}

// PrintConfigSummary 打印配置摘要
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== %s %s ===\n", c.Server.Name, c.Server.Version)
	fmt.Printf("Database: %s (%s)\n", c.Database.Driver, redact(c.Database.DSN))
	fmt.Printf("Bus: %s\n", c.Bus.Backend)
	switch c.Bus.Backend {
	case "nats":
		fmt.Printf("  NATS: %s\n", c.NATS.URL)
	case "mqtt":
		fmt.Printf("  MQTT: %s (qos %d)\n", c.MQTT.Broker, c.MQTT.QoS)
	}
	fmt.Printf("  Channels: valid=%s corrupted=%s frontend=%s downlink=%s\n",
		c.Bus.Channels.Valid, c.Bus.Channels.Corrupted, c.Bus.Channels.Frontend, c.Bus.Channels.Downlink)
	fmt.Printf("Ingest: %s magic=%s layout=%s (%d-byte records)\n",
		c.Ingest.Listen, c.Ingest.Magic, c.Ingest.Layout, c.IngestLayout().RecordSize)
	fmt.Printf("  Read timeout: %s, frame gap: %s, registry grace: %s\n",
		c.Ingest.ReadTimeout, c.Ingest.FrameGap, c.Ingest.RegistryGrace)
	fmt.Printf("API: %s\n", c.API.Addr())
	fmt.Printf("Metrics: %v (%s)\n", c.Metrics.Enabled, c.Metrics.Path)
	fmt.Printf("Log: %s/%s\n", c.Log.Level, c.Log.Format)
	fmt.Printf("==========================================\n")
}

// redact hides the password part of a DSN
func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon] + ":***"
	}
	return dsn[:scheme+3] + creds + dsn[at:]
}
