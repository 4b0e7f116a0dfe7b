// Package config loads and validates the interpreter service configuration
// from a YAML file. Each section owns its own Validate method; Load applies
// defaults before validation so a minimal file is enough to start the server.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config represents the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Session  SessionConfig  `yaml:"session"`
	Audio    AudioConfig    `yaml:"audio"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains the HTTP/WebSocket front configuration.
type ServerConfig struct {
	Address         string `yaml:"address"`
	Port            int    `yaml:"port"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// UpstreamConfig contains the realtime speech/translation provider endpoint.
type UpstreamConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	DialTimeout int    `yaml:"dial_timeout"` // seconds
}

// OpenAIConfig contains the chat-completion collaborators (speaker
// classification, summary generation, intent extraction).
type OpenAIConfig struct {
	APIKeyEnv       string `yaml:"api_key_env"`
	ClassifierModel string `yaml:"classifier_model"`
	SummaryModel    string `yaml:"summary_model"`
	IntentModel     string `yaml:"intent_model"`
}

// SessionConfig contains orchestration timing parameters.
type SessionConfig struct {
	HeartbeatInterval int `yaml:"heartbeat_interval"` // seconds
	InactivityTimeout int `yaml:"inactivity_timeout"` // seconds
}

// AudioConfig contains the audio pipeline parameters.
type AudioConfig struct {
	CaptureSampleRate  int     `yaml:"capture_sample_rate"`
	PlaybackSampleRate int     `yaml:"playback_sample_rate"`
	TargetChunkBytes   int     `yaml:"target_chunk_bytes"`
	FlushWindowMs      int     `yaml:"flush_window_ms"`
	VolumeThreshold    float64 `yaml:"volume_threshold"`
}

// WebhookConfig contains the completion-notification endpoint. Empty URL
// disables delivery.
type WebhookConfig struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// LoggingConfig contains file logging parameters. Empty file means stdout.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults, and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("on reading config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse defaults and validates raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("on parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("on validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10
	}
	if c.Upstream.URL == "" {
		c.Upstream.URL = "wss://api.openai.com/v1/realtime"
	}
	if c.Upstream.APIKeyEnv == "" {
		c.Upstream.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Upstream.Model == "" {
		c.Upstream.Model = "gpt-4o-realtime-preview"
	}
	if c.Upstream.DialTimeout == 0 {
		c.Upstream.DialTimeout = 10
	}
	if c.OpenAI.APIKeyEnv == "" {
		c.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.OpenAI.ClassifierModel == "" {
		c.OpenAI.ClassifierModel = "gpt-4o-mini"
	}
	if c.OpenAI.SummaryModel == "" {
		c.OpenAI.SummaryModel = "gpt-4o-mini"
	}
	if c.OpenAI.IntentModel == "" {
		c.OpenAI.IntentModel = "gpt-4o-mini"
	}
	if c.Session.HeartbeatInterval == 0 {
		c.Session.HeartbeatInterval = 30
	}
	if c.Session.InactivityTimeout == 0 {
		c.Session.InactivityTimeout = 15 * 60
	}
	if c.Audio.CaptureSampleRate == 0 {
		c.Audio.CaptureSampleRate = 16000
	}
	if c.Audio.PlaybackSampleRate == 0 {
		c.Audio.PlaybackSampleRate = 24000
	}
	if c.Audio.TargetChunkBytes == 0 {
		c.Audio.TargetChunkBytes = 3200
	}
	if c.Audio.FlushWindowMs == 0 {
		c.Audio.FlushWindowMs = 200
	}
	if c.Audio.VolumeThreshold == 0 {
		c.Audio.VolumeThreshold = 0.01
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 10
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 28
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Webhook.Validate(); err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if s.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", s.ShutdownTimeout)
	}
	return nil
}

func (u *UpstreamConfig) Validate() error {
	if u.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	if u.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if u.DialTimeout < 1 {
		return fmt.Errorf("dial_timeout must be at least 1 second, got %d", u.DialTimeout)
	}
	return nil
}

func (s *SessionConfig) Validate() error {
	if s.HeartbeatInterval < 1 {
		return fmt.Errorf("heartbeat_interval must be at least 1 second, got %d", s.HeartbeatInterval)
	}
	if s.InactivityTimeout < s.HeartbeatInterval {
		return fmt.Errorf("inactivity_timeout (%ds) must not be shorter than heartbeat_interval (%ds)",
			s.InactivityTimeout, s.HeartbeatInterval)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.CaptureSampleRate < 8000 {
		return fmt.Errorf("capture_sample_rate must be at least 8000 Hz, got %d", a.CaptureSampleRate)
	}
	if a.PlaybackSampleRate < 8000 {
		return fmt.Errorf("playback_sample_rate must be at least 8000 Hz, got %d", a.PlaybackSampleRate)
	}
	if a.TargetChunkBytes < 320 {
		return fmt.Errorf("target_chunk_bytes must be at least 320, got %d", a.TargetChunkBytes)
	}
	if a.TargetChunkBytes%2 != 0 {
		return fmt.Errorf("target_chunk_bytes must be even for 16-bit samples, got %d", a.TargetChunkBytes)
	}
	if a.FlushWindowMs < 10 {
		return fmt.Errorf("flush_window_ms must be at least 10, got %d", a.FlushWindowMs)
	}
	if a.VolumeThreshold < 0 || a.VolumeThreshold > 1 {
		return fmt.Errorf("volume_threshold must be between 0 and 1, got %f", a.VolumeThreshold)
	}
	return nil
}

func (w *WebhookConfig) Validate() error {
	if w.URL != "" && w.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", w.Timeout)
	}
	return nil
}

// UpstreamAPIKey resolves the provider credential from the environment.
func (u *UpstreamConfig) UpstreamAPIKey() string {
	return os.Getenv(u.APIKeyEnv)
}

// APIKey resolves the chat-completion credential from the environment.
func (o *OpenAIConfig) APIKey() string {
	return os.Getenv(o.APIKeyEnv)
}

func (s *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

func (u *UpstreamConfig) DialTimeoutDuration() time.Duration {
	return time.Duration(u.DialTimeout) * time.Second
}

func (s *SessionConfig) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(s.HeartbeatInterval) * time.Second
}

func (s *SessionConfig) InactivityTimeoutDuration() time.Duration {
	return time.Duration(s.InactivityTimeout) * time.Second
}

func (a *AudioConfig) FlushWindowDuration() time.Duration {
	return time.Duration(a.FlushWindowMs) * time.Millisecond
}

func (w *WebhookConfig) TimeoutDuration() time.Duration {
	return time.Duration(w.Timeout) * time.Second
}
