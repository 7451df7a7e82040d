package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Graph backend identifiers accepted in graph.backend.
const (
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
	BackendMemory = "memory"
)

// Policies accepted in integration.on_no_match.
const (
	NoMatchIntegrate = "integrate"
	NoMatchDefer     = "defer"
)

// Config is the root configuration structure for the knowledge graph agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	Integration IntegrationConfig `yaml:"integration"`
	Schema      SchemaConfig      `yaml:"schema"`
	Graph       GraphConfig       `yaml:"graph"`
	Database    DatabaseConfig    `yaml:"database"`
	Neo4j       Neo4jConfig       `yaml:"neo4j"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AgentConfig controls message ingestion and operational output.
type AgentConfig struct {
	// MQTTTopic is the subscription pattern for device telemetry.
	MQTTTopic string `yaml:"mqtt_topic"`

	// QueueSize bounds the single-consumer message queue. A full queue
	// blocks the transport callback.
	QueueSize int `yaml:"queue_size"`

	// SummaryEvery logs a statistics summary (and dumps state when DumpDir
	// is set) every N DATA messages.
	SummaryEvery int `yaml:"summary_every"`

	// DumpDir receives devices.json, states.csv and state_times.csv.
	DumpDir string `yaml:"dump_dir"`

	// StoreTimeout bounds every graph store call (seconds).
	StoreTimeout int `yaml:"store_timeout"`

	// ReadRetries is the maximum number of attempts for graph reads.
	ReadRetries int `yaml:"read_retries"`

	// TopologyFile is an optional YAML file seeding tasks, services and
	// pre-existing devices into an empty graph.
	TopologyFile string `yaml:"topology_file"`
}

// IntegrationConfig tunes the entity-resolution procedure.
type IntegrationConfig struct {
	Threshold        int    `yaml:"threshold"`
	Retention        int    `yaml:"retention"` // seconds
	CandidateClasses int    `yaml:"candidate_classes"`
	QueryWindow      int    `yaml:"query_window"`
	Workers          int    `yaml:"workers"`
	StaleFactor      int    `yaml:"stale_factor"`
	Precision        int    `yaml:"precision"`
	OnNoMatch        string `yaml:"on_no_match"`
}

// SchemaConfig points at the SDF description directory.
type SchemaConfig struct {
	Dir      string `yaml:"dir"`
	Validate bool   `yaml:"validate"`
}

// GraphConfig selects the graph store backend.
type GraphConfig struct {
	Backend string `yaml:"backend"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// Neo4jConfig contains Neo4j connection settings.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: KGAGENT_SECTION_KEY
// For example: KGAGENT_DATABASE_PATH, KGAGENT_NEO4J_URI
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
// Used by tests and tools that only need a subset of settings.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			MQTTTopic:    "#",
			QueueSize:    256,
			SummaryEvery: 100,
			StoreTimeout: 5,
			ReadRetries:  3,
		},
		Integration: IntegrationConfig{
			Threshold:        20,
			Retention:        600,
			CandidateClasses: 5,
			QueryWindow:      20,
			Workers:          runtime.NumCPU(),
			StaleFactor:      2,
			Precision:        2,
			OnNoMatch:        NoMatchIntegrate,
		},
		Schema: SchemaConfig{
			Dir:      "./sdf",
			Validate: true,
		},
		Graph: GraphConfig{
			Backend: BackendSQLite,
		},
		Database: DatabaseConfig{
			Path:        "./data/kgagent.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Neo4j: Neo4jConfig{
			URI:      "neo4j://localhost:7687",
			Username: "neo4j",
			Database: "neo4j",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "kgagent",
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
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: KGAGENT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Graph
	if v := os.Getenv("KGAGENT_GRAPH_BACKEND"); v != "" {
		cfg.Graph.Backend = v
	}
	if v := os.Getenv("KGAGENT_SCHEMA_DIR"); v != "" {
		cfg.Schema.Dir = v
	}

	// Database
	if v := os.Getenv("KGAGENT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Neo4j
	if v := os.Getenv("KGAGENT_NEO4J_URI"); v != "" {
		cfg.Neo4j.URI = v
	}
	if v := os.Getenv("KGAGENT_NEO4J_USERNAME"); v != "" {
		cfg.Neo4j.Username = v
	}
	if v := os.Getenv("KGAGENT_NEO4J_PASSWORD"); v != "" {
		cfg.Neo4j.Password = v
	}

	// MQTT
	if v := os.Getenv("KGAGENT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KGAGENT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("KGAGENT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KGAGENT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("KGAGENT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Integration
	if v := os.Getenv("KGAGENT_INTEGRATION_ON_NO_MATCH"); v != "" {
		cfg.Integration.OnNoMatch = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Agent
	if c.Agent.MQTTTopic == "" {
		errs = append(errs, "agent.mqtt_topic is required")
	}
	if c.Agent.QueueSize < 1 {
		errs = append(errs, "agent.queue_size must be at least 1")
	}
	if c.Agent.StoreTimeout < 1 {
		errs = append(errs, "agent.store_timeout must be at least 1 second")
	}
	if c.Agent.ReadRetries < 1 {
		errs = append(errs, "agent.read_retries must be at least 1")
	}

	// Integration
	if c.Integration.Threshold < 1 {
		errs = append(errs, "integration.threshold must be at least 1")
	}
	if c.Integration.QueryWindow < 1 {
		errs = append(errs, "integration.query_window must be at least 1")
	}
	if c.Integration.QueryWindow > c.Integration.Threshold {
		errs = append(errs, "integration.query_window must not exceed integration.threshold")
	}
	if c.Integration.Retention < 1 {
		errs = append(errs, "integration.retention must be at least 1 second")
	}
	if c.Integration.CandidateClasses < 1 {
		errs = append(errs, "integration.candidate_classes must be at least 1")
	}
	if c.Integration.Workers < 1 {
		errs = append(errs, "integration.workers must be at least 1")
	}
	if c.Integration.StaleFactor < 1 {
		errs = append(errs, "integration.stale_factor must be at least 1")
	}
	if c.Integration.Precision < 0 {
		errs = append(errs, "integration.precision must not be negative")
	}
	switch c.Integration.OnNoMatch {
	case NoMatchIntegrate, NoMatchDefer:
	default:
		errs = append(errs, fmt.Sprintf("integration.on_no_match must be %q or %q", NoMatchIntegrate, NoMatchDefer))
	}

	// Schema
	if c.Schema.Dir == "" {
		errs = append(errs, "schema.dir is required")
	}

	// Graph backend and its connection settings
	switch c.Graph.Backend {
	case BackendSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite backend")
		}
	case BackendNeo4j:
		if c.Neo4j.URI == "" {
			errs = append(errs, "neo4j.uri is required for the neo4j backend")
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("graph.backend %q is not one of sqlite, neo4j, memory", c.Graph.Backend))
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// StoreTimeout returns the per-call graph store timeout as a Duration.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Agent.StoreTimeout) * time.Second
}

// RetentionHorizon returns the sample retention horizon as a Duration.
func (c *Config) RetentionHorizon() time.Duration {
	return time.Duration(c.Integration.Retention) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
