package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"SENTINEL_CONFIG", "SENTINEL_MODEL_DIR", "SENTINEL_THRESHOLD", "SENTINEL_ONNX_LIBRARY",
	"SENTINEL_OUTPUT", "SENTINEL_OUTPUT_FORMAT", "SENTINEL_DESCRIBE",
	"SENTINEL_OPENAI_BASE_URL", "SENTINEL_OPENAI_API_KEY", "OPENAI_API_KEY",
	"SENTINEL_OPENAI_MODEL", "SENTINEL_OPENAI_TIMEOUT", "SENTINEL_WEBHOOK_URL",
	"SENTINEL_KAFKA_BROKERS", "SENTINEL_KAFKA_TOPIC", "SENTINEL_DATABASE_URL",
	"SENTINEL_DATABASE_TABLE", "SENTINEL_ADDR", "SENTINEL_LOG_LEVEL",
}

// clearEnv blanks every variable Load reads; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Threshold != 0.5 {
		t.Errorf("threshold = %v, want 0.5", cfg.Model.Threshold)
	}
	if cfg.Output.Format != "csv" {
		t.Errorf("format = %q", cfg.Output.Format)
	}
	if cfg.Narrative.Model != "gpt-3.5-turbo" || cfg.Narrative.MaxTokens != 256 || cfg.Narrative.Temperature != 0.7 {
		t.Errorf("narrative = %+v", cfg.Narrative)
	}
	if cfg.Narrative.Enabled {
		t.Error("narrative should be off by default")
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SENTINEL_CONFIG", writeConfig(t, `
model:
  dir: /opt/models/ci
  threshold: 0.8
narrative:
  enabled: true
  timeout: 5s
kafka:
  brokers: [k1:9092, k2:9092]
  topic: ci.alerts
log_level: debug
`))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Dir != "/opt/models/ci" || cfg.Model.Threshold != 0.8 {
		t.Errorf("model = %+v", cfg.Model)
	}
	if !cfg.Narrative.Enabled || cfg.Narrative.Timeout != 5*time.Second {
		t.Errorf("narrative = %+v", cfg.Narrative)
	}
	// Unset keys keep their defaults.
	if cfg.Narrative.Model != "gpt-3.5-turbo" {
		t.Errorf("narrative model = %q", cfg.Narrative.Model)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Topic != "ci.alerts" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SENTINEL_CONFIG", writeConfig(t, "model:\n  threshold: 0.8\n"))
	t.Setenv("SENTINEL_THRESHOLD", "0.65")
	t.Setenv("SENTINEL_KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("SENTINEL_DESCRIBE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Threshold != 0.65 {
		t.Errorf("threshold = %v, want env value", cfg.Model.Threshold)
	}
	if strings.Join(cfg.Kafka.Brokers, ",") != "a:9092,b:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if !cfg.Narrative.Enabled {
		t.Error("SENTINEL_DESCRIBE not applied")
	}
}

func TestLoad_APIKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-generic")

	cfg, _ := Load()
	if cfg.Narrative.APIKey != "sk-generic" {
		t.Errorf("api key = %q", cfg.Narrative.APIKey)
	}

	t.Setenv("SENTINEL_OPENAI_API_KEY", "sk-specific")
	cfg, _ = Load()
	if cfg.Narrative.APIKey != "sk-specific" {
		t.Errorf("api key = %q, want sentinel-specific key to win", cfg.Narrative.APIKey)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("SENTINEL_THRESHOLD", "high")
	t.Setenv("SENTINEL_OPENAI_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Threshold != 0.5 || cfg.Narrative.Timeout != 30*time.Second {
		t.Errorf("unparseable values should keep defaults: %+v %+v", cfg.Model, cfg.Narrative)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "threshold out of range", env: map[string]string{"SENTINEL_THRESHOLD": "1.5"}},
		{name: "unknown format", env: map[string]string{"SENTINEL_OUTPUT_FORMAT": "xml"}},
		{name: "unknown yaml key", file: "modle:\n  dir: x\n"},
		{name: "brokers without topic", file: "kafka:\n  brokers: [a]\n  topic: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if tt.file != "" {
				t.Setenv("SENTINEL_CONFIG", writeConfig(t, tt.file))
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SENTINEL_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
