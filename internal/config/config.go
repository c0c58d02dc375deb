package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string        `json:"log_level" yaml:"log_level"`
	LogFormat string        `json:"log_format" yaml:"log_format"`
	Watcher   WatcherConfig `json:"watcher" yaml:"watcher"`
	Sink      SinkConfig    `json:"sink" yaml:"sink"`
	Storage   StorageConfig `json:"storage" yaml:"storage"`
	Ingest    IngestConfig  `json:"ingest" yaml:"ingest"`
	Events    EventsConfig  `json:"events" yaml:"events"`
	API       APIConfig     `json:"api" yaml:"api"`
	Alerts    AlertsConfig  `json:"alerts" yaml:"alerts"`
	Metrics   MetricsConfig `json:"metrics" yaml:"metrics"`
}

type WatcherConfig struct {
	PollInterval          time.Duration `json:"poll_interval" yaml:"poll_interval"`
	Cooldown              time.Duration `json:"cooldown" yaml:"cooldown"`
	// MaxConcurrentDispatch caps in-flight sink calls per kind; 0 is unbounded.
	MaxConcurrentDispatch int           `json:"max_concurrent_dispatch" yaml:"max_concurrent_dispatch"`
}

type SinkConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Path    string        `json:"path" yaml:"path"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// URL joins the base URL and the alert path.
func (s SinkConfig) URL() string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(s.Path, "/")
}

type StorageConfig struct {
	Driver   string `json:"driver" yaml:"driver"`
	DSN      string `json:"dsn" yaml:"dsn"`
	AutoInit bool   `json:"auto_init" yaml:"auto_init"`
}

type IngestConfig struct {
	REST  RESTConfig  `json:"rest" yaml:"rest"`
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Brokers      []string `json:"brokers" yaml:"brokers"`
	LogTopic     string   `json:"log_topic" yaml:"log_topic"`
	TrafficTopic string   `json:"traffic_topic" yaml:"traffic_topic"`
	GroupID      string   `json:"group_id" yaml:"group_id"`
}

type EventsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	URL           string `json:"url" yaml:"url"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Watcher: WatcherConfig{
			PollInterval: 15 * time.Second,
			Cooldown:     10 * time.Minute,
		},
		Sink: SinkConfig{
			BaseURL: "http://localhost:8001",
			Path:    "/api/internal/alert",
			Timeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "postgres",
			DSN:    "postgres://localhost:5432/attackwatch?sslmode=disable",
		},
		Ingest: IngestConfig{
			REST: RESTConfig{Enabled: false, Addr: ":8090"},
			Kafka: KafkaConfig{
				Enabled:      false,
				LogTopic:     "attack-log",
				TrafficTopic: "attack-traffic",
				GroupID:      "attackwatch",
			},
		},
		Events:  EventsConfig{Enabled: false, URL: "nats://localhost:4222", SubjectPrefix: "attackwatch"},
		API:     APIConfig{Enabled: true, Addr: ":8091"},
		Alerts:  AlertsConfig{StoreLimit: 1000},
		Metrics: MetricsConfig{StoreLimit: 500},
	}
}

// Load reads a JSON or YAML config file on top of the defaults.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		applyDefaults(cfg)
		return cfg, Validate(cfg)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnv loads path and then overlays the process environment.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from environment variables resolved by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(target *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
				*target = strings.TrimSpace(v)
				return
			}
		}
	}
	str(&cfg.LogLevel, "LOG_LEVEL")
	str(&cfg.Storage.DSN, "DATABASE_URL")
	str(&cfg.Storage.Driver, "DATABASE_DRIVER")
	str(&cfg.Sink.BaseURL, "ALERT_API_BASE_URL", "INTERNAL_API_BASE_URL_SECOND")
	str(&cfg.Sink.Path, "ALERT_API_PATH")
	str(&cfg.Ingest.Kafka.GroupID, "KAFKA_CONSUMER_GROUP")
	str(&cfg.Events.URL, "NATS_URL")
	str(&cfg.API.Addr, "API_ADDR")

	if v, ok := lookup("MONITORING_POLLING_INTERVAL"); ok && strings.TrimSpace(v) != "" {
		sec, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("MONITORING_POLLING_INTERVAL: %w", err)
		}
		cfg.Watcher.PollInterval = time.Duration(sec) * time.Second
	}
	if v, ok := lookup("ALERT_COOLDOWN_MINUTES"); ok && strings.TrimSpace(v) != "" {
		mins, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("ALERT_COOLDOWN_MINUTES: %w", err)
		}
		cfg.Watcher.Cooldown = time.Duration(mins) * time.Minute
	}
	if v, ok := lookup("KAFKA_BOOTSTRAP_SERVERS"); ok && strings.TrimSpace(v) != "" {
		cfg.Ingest.Kafka.Brokers = splitCSV(v)
	}
	return nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func splitCSV(value string) []string {
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Watcher.PollInterval <= 0 {
		cfg.Watcher.PollInterval = 15 * time.Second
	}
	if cfg.Watcher.Cooldown <= 0 {
		cfg.Watcher.Cooldown = 10 * time.Minute
	}
	if cfg.Watcher.MaxConcurrentDispatch < 0 {
		cfg.Watcher.MaxConcurrentDispatch = 0
	}
	if cfg.Sink.Path == "" {
		cfg.Sink.Path = "/api/internal/alert"
	}
	if cfg.Sink.Timeout <= 0 {
		cfg.Sink.Timeout = 10 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "postgres"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "attackwatch"
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 500
	}
}

func Validate(cfg *Config) error {
	if cfg.Sink.BaseURL == "" {
		return errors.New("sink.base_url required")
	}
	u, err := url.Parse(cfg.Sink.BaseURL)
	if err != nil {
		return fmt.Errorf("sink.base_url invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("sink.base_url must use http or https, got %q", u.Scheme)
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres", "postgresql", "pgx", "sqlite", "mysql":
	default:
		return fmt.Errorf("storage.driver unsupported: %q", cfg.Storage.Driver)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		k := cfg.Ingest.Kafka
		if len(k.Brokers) == 0 || k.GroupID == "" || (k.LogTopic == "" && k.TrafficTopic == "") {
			return errors.New("ingest.kafka requires brokers, group_id and at least one topic")
		}
	}
	if cfg.Events.Enabled && cfg.Events.URL == "" {
		return errors.New("events.url required when events.enabled is true")
	}
	return nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
