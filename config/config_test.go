package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMinimal(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Address)
	assert.Equal(t, "wss://api.openai.com/v1/realtime", cfg.Upstream.URL)
	assert.Equal(t, 16000, cfg.Audio.CaptureSampleRate)
	assert.Equal(t, 24000, cfg.Audio.PlaybackSampleRate)
	assert.Equal(t, 3200, cfg.Audio.TargetChunkBytes)
	assert.Equal(t, 30*time.Second, cfg.Session.HeartbeatIntervalDuration())
	assert.Equal(t, 15*time.Minute, cfg.Session.InactivityTimeoutDuration())
	assert.Equal(t, 200*time.Millisecond, cfg.Audio.FlushWindowDuration())
}

func TestParseFull(t *testing.T) {
	raw := `
server:
  address: 127.0.0.1
  port: 8443
  shutdown_timeout: 5
upstream:
  url: wss://upstream.example/v1/realtime
  model: test-realtime
  dial_timeout: 3
session:
  heartbeat_interval: 10
  inactivity_timeout: 120
audio:
  target_chunk_bytes: 6400
  flush_window_ms: 100
webhook:
  url: https://hooks.example/interpreter
  timeout: 4
`
	cfg, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, "wss://upstream.example/v1/realtime", cfg.Upstream.URL)
	assert.Equal(t, "test-realtime", cfg.Upstream.Model)
	assert.Equal(t, 120*time.Second, cfg.Session.InactivityTimeoutDuration())
	assert.Equal(t, 6400, cfg.Audio.TargetChunkBytes)
	assert.Equal(t, "https://hooks.example/interpreter", cfg.Webhook.URL)
	assert.Equal(t, 4*time.Second, cfg.Webhook.TimeoutDuration())
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"empty upstream url", func(c *Config) { c.Upstream.URL = "" }, "url"},
		{"odd chunk size", func(c *Config) { c.Audio.TargetChunkBytes = 3201 }, "even"},
		{"tiny chunk size", func(c *Config) { c.Audio.TargetChunkBytes = 100 }, "target_chunk_bytes"},
		{"volume out of range", func(c *Config) { c.Audio.VolumeThreshold = 1.5 }, "volume_threshold"},
		{
			"inactivity shorter than heartbeat",
			func(c *Config) { c.Session.InactivityTimeout = 5 },
			"inactivity_timeout",
		},
		{
			"webhook timeout missing",
			func(c *Config) { c.Webhook.URL = "https://hooks.example"; c.Webhook.Timeout = 0 },
			"timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("server: [not a map"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/interpreter.yaml")
	require.Error(t, err)
}
