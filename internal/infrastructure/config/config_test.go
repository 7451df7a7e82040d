package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
agent:
  mqtt_topic: "devices/#"
  queue_size: 64
integration:
  threshold: 30
  retention: 120
  on_no_match: defer
schema:
  dir: "/etc/kgagent/sdf"
graph:
  backend: memory
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agent.MQTTTopic != "devices/#" {
		t.Errorf("Agent.MQTTTopic = %q, want %q", cfg.Agent.MQTTTopic, "devices/#")
	}
	if cfg.Integration.Threshold != 30 {
		t.Errorf("Integration.Threshold = %d, want 30", cfg.Integration.Threshold)
	}
	if cfg.Integration.OnNoMatch != NoMatchDefer {
		t.Errorf("Integration.OnNoMatch = %q, want %q", cfg.Integration.OnNoMatch, NoMatchDefer)
	}
	// Unset fields keep their defaults
	if cfg.Integration.QueryWindow != 20 {
		t.Errorf("Integration.QueryWindow = %d, want default 20", cfg.Integration.QueryWindow)
	}
	if cfg.Integration.CandidateClasses != 5 {
		t.Errorf("Integration.CandidateClasses = %d, want default 5", cfg.Integration.CandidateClasses)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if got := cfg.RetentionHorizon().Seconds(); got != 120 {
		t.Errorf("RetentionHorizon() = %vs, want 120s", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
graph:
  backend: "cassandra"
integration:
  threshold: 10
  query_window: 20
  on_no_match: "retry"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}

	for _, want := range []string{"graph.backend", "integration.query_window", "integration.on_no_match"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err.Error(), want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KGAGENT_GRAPH_BACKEND", "neo4j")
	t.Setenv("KGAGENT_NEO4J_URI", "neo4j://graph:7687")
	t.Setenv("KGAGENT_MQTT_PORT", "8883")
	t.Setenv("KGAGENT_DATABASE_PATH", "/var/lib/kgagent/kg.db")

	cfg, err := Load(writeConfig(t, "agent:\n  queue_size: 8\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Graph.Backend != BackendNeo4j {
		t.Errorf("Graph.Backend = %q, want %q", cfg.Graph.Backend, BackendNeo4j)
	}
	if cfg.Neo4j.URI != "neo4j://graph:7687" {
		t.Errorf("Neo4j.URI = %q", cfg.Neo4j.URI)
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.Database.Path != "/var/lib/kgagent/kg.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestValidate_Defaults(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestValidate_InfluxRequiresURL(t *testing.T) {
	cfg := Default()
	cfg.InfluxDB.Enabled = true

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "influxdb.url") {
		t.Errorf("Validate() error = %v, want influxdb.url complaint", err)
	}
}

func TestValidate_APIPortIgnoredWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.API.Enabled = false
	cfg.API.Port = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil for disabled API", err)
	}
}

func TestAPIConfig_Timeouts(t *testing.T) {
	api := APIConfig{Timeouts: APITimeoutConfig{Read: 3, Write: 7, Idle: 60}}

	if got := api.GetReadTimeout(); got != 3*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 3s", got)
	}
	if got := api.GetWriteTimeout(); got != 7*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 7s", got)
	}
	if got := api.GetIdleTimeout(); got != time.Minute {
		t.Errorf("GetIdleTimeout() = %v, want 1m", got)
	}
}
