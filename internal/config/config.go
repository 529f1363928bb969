package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds all sentinel configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Output    OutputConfig    `yaml:"output"`
	Narrative NarrativeConfig `yaml:"narrative"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Server    ServerConfig    `yaml:"server"`
	LogLevel  string          `yaml:"log_level"`
}

// ModelConfig locates the model bundle and sets the decision threshold.
type ModelConfig struct {
	Dir         string  `yaml:"dir"`
	Threshold   float64 `yaml:"threshold"`
	ONNXLibrary string  `yaml:"onnx_library"`
}

// OutputConfig controls the annotated export.
type OutputConfig struct {
	Path   string `yaml:"path"`   // empty disables the export
	Format string `yaml:"format"` // "csv" or "ndjson"
}

// NarrativeConfig configures the chat completion client.
type NarrativeConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// WebhookConfig configures the alert webhook. Empty URL disables it.
type WebhookConfig struct {
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	BatchSize int               `yaml:"batch_size"`
}

// KafkaConfig configures the alert topic. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	RequiredAcks string   `yaml:"required_acks"`
}

// PostgresConfig configures the annotated record store. Empty DSN disables it.
type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	Table       string `yaml:"table"`
	CreateTable bool   `yaml:"create_table"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Model: ModelConfig{
			Dir:       "models/anomaly",
			Threshold: 0.5,
		},
		Output: OutputConfig{
			Format: "csv",
		},
		Narrative: NarrativeConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-3.5-turbo",
			MaxTokens:   256,
			Temperature: 0.7,
			Timeout:     30 * time.Second,
		},
		Webhook: WebhookConfig{BatchSize: 50},
		Kafka:   KafkaConfig{Topic: "sentinel.anomalies", RequiredAcks: "one"},
		Postgres: PostgresConfig{
			Table:       "annotated_records",
			CreateTable: true,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 32 << 20,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// SENTINEL_CONFIG (if set), then SENTINEL_* environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("SENTINEL_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides cfg with any SENTINEL_* variables that are set.
func applyEnv(cfg *Config) {
	cfg.Model.Dir = getenv("SENTINEL_MODEL_DIR", cfg.Model.Dir)
	cfg.Model.Threshold = getenvFloat("SENTINEL_THRESHOLD", cfg.Model.Threshold)
	cfg.Model.ONNXLibrary = getenv("SENTINEL_ONNX_LIBRARY", cfg.Model.ONNXLibrary)

	cfg.Output.Path = getenv("SENTINEL_OUTPUT", cfg.Output.Path)
	cfg.Output.Format = getenv("SENTINEL_OUTPUT_FORMAT", cfg.Output.Format)

	cfg.Narrative.Enabled = getenvBool("SENTINEL_DESCRIBE", cfg.Narrative.Enabled)
	cfg.Narrative.BaseURL = getenv("SENTINEL_OPENAI_BASE_URL", cfg.Narrative.BaseURL)
	cfg.Narrative.APIKey = getenv("SENTINEL_OPENAI_API_KEY", getenv("OPENAI_API_KEY", cfg.Narrative.APIKey))
	cfg.Narrative.Model = getenv("SENTINEL_OPENAI_MODEL", cfg.Narrative.Model)
	cfg.Narrative.Timeout = getenvDuration("SENTINEL_OPENAI_TIMEOUT", cfg.Narrative.Timeout)

	cfg.Webhook.URL = getenv("SENTINEL_WEBHOOK_URL", cfg.Webhook.URL)

	if v := os.Getenv("SENTINEL_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.Topic = getenv("SENTINEL_KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.Postgres.DSN = getenv("SENTINEL_DATABASE_URL", cfg.Postgres.DSN)
	cfg.Postgres.Table = getenv("SENTINEL_DATABASE_TABLE", cfg.Postgres.Table)

	cfg.Server.Addr = getenv("SENTINEL_ADDR", cfg.Server.Addr)

	cfg.LogLevel = getenv("SENTINEL_LOG_LEVEL", cfg.LogLevel)
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	if c.Model.Threshold < 0 || c.Model.Threshold > 1 {
		return fmt.Errorf("config: threshold %v outside [0, 1]", c.Model.Threshold)
	}
	switch strings.ToLower(c.Output.Format) {
	case "csv", "ndjson", "json", "jsonl":
	default:
		return fmt.Errorf("config: unknown output format %q", c.Output.Format)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("config: kafka brokers set without a topic")
	}
	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("config: negative max_upload_bytes")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
