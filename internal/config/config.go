package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration, loaded from YAML with secrets
// and endpoints overridable from the environment.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Admission AdmissionConfig `yaml:"admission"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Frames    FramesConfig    `yaml:"frames"`
	Inference InferenceConfig `yaml:"inference"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Redis     RedisConfig     `yaml:"redis"`
	Server    ServerConfig    `yaml:"server"`
}

type SourceConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"-"`
}

type AdmissionConfig struct {
	Cameras         []string `yaml:"cameras"`
	DedupTTLSeconds int      `yaml:"dedup_ttl_seconds"`
	DedupMaxKeys    int      `yaml:"dedup_max_keys"`
}

func (a AdmissionConfig) DedupTTL() time.Duration {
	return time.Duration(a.DedupTTLSeconds) * time.Second
}

type RecorderConfig struct {
	BaseURL        string `yaml:"base_url"`
	ClipPublicURL  string `yaml:"clip_public_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxClipMB      int64  `yaml:"max_clip_mb"`
	MaxAttempts    int    `yaml:"max_attempts"`
}

type FramesConfig struct {
	Count       int    `yaml:"count"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

type InferenceConfig struct {
	BaseURL            string `yaml:"base_url"`
	Model              string `yaml:"model"`
	APIKey             string `yaml:"-"`
	Concurrency        int    `yaml:"concurrency"`
	QueueDepth         int    `yaml:"queue_depth"`
	CallTimeoutSeconds int    `yaml:"call_timeout_seconds"`
	MaxTokens          int    `yaml:"max_tokens"`
	PromptPath         string `yaml:"prompt_path"`
	SystemPromptPath   string `yaml:"system_prompt_path"`
}

func (i InferenceConfig) CallTimeout() time.Duration {
	return time.Duration(i.CallTimeoutSeconds) * time.Second
}

type AlertsConfig struct {
	SendAllActivities bool   `yaml:"send_all_activities"`
	RecordStore       string `yaml:"record_store"` // "memory" or "redis"
	RecordTTLHours    int    `yaml:"record_ttl_hours"`

	Telegram TelegramConfig `yaml:"telegram"`
	Grafana  GrafanaConfig  `yaml:"grafana"`
	NATS     NATSConfig     `yaml:"nats"`
}

func (a AlertsConfig) RecordTTL() time.Duration {
	return time.Duration(a.RecordTTLHours) * time.Hour
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	ChatID  string `yaml:"chat_id"`
	Token   string `yaml:"-"`
}

type GrafanaConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"-"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type PipelineConfig struct {
	Workers int `yaml:"workers"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads the YAML file at path, overlays environment variables, and
// fills defaults. A missing file is not an error; env-only deployments are
// supported.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env + defaults
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, cfg.validate()
}

func (c *Config) applyEnv() {
	setIfEnv(&c.Source.Broker, "MQTT_BROKER")
	setIfEnv(&c.Source.Username, "MQTT_USERNAME")
	setIfEnv(&c.Source.Password, "MQTT_PASSWORD")
	setIfEnv(&c.Recorder.BaseURL, "RECORDER_BASE_URL")
	setIfEnv(&c.Inference.BaseURL, "INFERENCE_BASE_URL")
	setIfEnv(&c.Inference.APIKey, "INFERENCE_API_KEY")
	setIfEnv(&c.Alerts.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setIfEnv(&c.Alerts.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setIfEnv(&c.Alerts.Grafana.APIKey, "GRAFANA_API_KEY")
	setIfEnv(&c.Alerts.Grafana.URL, "GRAFANA_URL")
	setIfEnv(&c.Alerts.NATS.URL, "NATS_URL")
	setIfEnv(&c.Redis.Addr, "REDIS_ADDR")
	setIfEnv(&c.Redis.Password, "REDIS_PASSWORD")
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.Source.Broker == "" {
		c.Source.Broker = "tcp://localhost:1883"
	}
	if c.Source.Topic == "" {
		c.Source.Topic = "frigate/events"
	}
	if c.Source.ClientID == "" {
		c.Source.ClientID = "osprey"
	}
	if c.Admission.DedupTTLSeconds == 0 {
		c.Admission.DedupTTLSeconds = 86400
	}
	if c.Admission.DedupMaxKeys == 0 {
		c.Admission.DedupMaxKeys = 10000
	}
	if c.Recorder.BaseURL == "" {
		c.Recorder.BaseURL = "http://localhost:5000"
	}
	if c.Recorder.TimeoutSeconds == 0 {
		c.Recorder.TimeoutSeconds = 30
	}
	if c.Recorder.MaxClipMB == 0 {
		c.Recorder.MaxClipMB = 100
	}
	if c.Recorder.MaxAttempts == 0 {
		c.Recorder.MaxAttempts = 3
	}
	if c.Frames.Count == 0 {
		c.Frames.Count = 10
	}
	if c.Inference.BaseURL == "" {
		c.Inference.BaseURL = "http://localhost:8000"
	}
	if c.Inference.Concurrency == 0 {
		c.Inference.Concurrency = 1
	}
	if c.Inference.QueueDepth == 0 {
		c.Inference.QueueDepth = 8
	}
	if c.Inference.CallTimeoutSeconds == 0 {
		c.Inference.CallTimeoutSeconds = 120
	}
	if c.Inference.MaxTokens == 0 {
		c.Inference.MaxTokens = 500
	}
	if c.Inference.PromptPath == "" {
		c.Inference.PromptPath = "prompts/prompt.txt"
	}
	if c.Alerts.RecordStore == "" {
		c.Alerts.RecordStore = "memory"
	}
	if c.Alerts.RecordTTLHours == 0 {
		c.Alerts.RecordTTLHours = 168
	}
	if c.Alerts.NATS.Subject == "" {
		c.Alerts.NATS.Subject = "osprey.verdicts"
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8087"
	}
}

func (c *Config) validate() error {
	if c.Alerts.RecordStore != "memory" && c.Alerts.RecordStore != "redis" {
		return fmt.Errorf("alerts.record_store must be \"memory\" or \"redis\", got %q", c.Alerts.RecordStore)
	}
	if c.Alerts.RecordStore == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("alerts.record_store=redis requires redis.addr or REDIS_ADDR")
	}
	if c.Alerts.Telegram.Enabled && (c.Alerts.Telegram.Token == "" || c.Alerts.Telegram.ChatID == "") {
		return fmt.Errorf("telegram channel enabled but token or chat_id missing")
	}
	if c.Alerts.Grafana.Enabled && (c.Alerts.Grafana.APIKey == "" || c.Alerts.Grafana.URL == "") {
		return fmt.Errorf("grafana channel enabled but api key or url missing")
	}
	if c.Alerts.NATS.Enabled && c.Alerts.NATS.URL == "" {
		return fmt.Errorf("nats channel enabled but url missing")
	}
	return nil
}
