// Package config handles voicecore configuration: a YAML file with env-var
// overrides for secrets and addresses.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration, typically loaded from a YAML file via
// Load.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Azure      AzureConfig      `yaml:"azure"`
	Audio      AudioConfig      `yaml:"audio"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Relay      RelayConfig      `yaml:"relay"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the relay API (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is the TCP address for the Prometheus /metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// AzureConfig holds realtime endpoint settings.
type AzureConfig struct {
	Endpoint          string              `yaml:"endpoint"`
	APIKey            string              `yaml:"api_key"`
	Deployment        string              `yaml:"deployment"`
	APIVersion        string              `yaml:"api_version"`
	Voice             string              `yaml:"voice"`
	Temperature       float64             `yaml:"temperature"`
	MaxResponseTokens int                 `yaml:"max_response_tokens"`
	Instructions      string              `yaml:"instructions"`
	TurnDetection     TurnDetectionConfig `yaml:"turn_detection"`
}

// TurnDetectionConfig holds server-side VAD parameters.
type TurnDetectionConfig struct {
	Type              string  `yaml:"type"`
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// AudioConfig holds capture settings.
type AudioConfig struct {
	// HardwareRate is the device sample rate; must be a multiple of 16000.
	HardwareRate int `yaml:"hardware_rate"`

	// RingFrames is the capture ring capacity in 100 ms frames.
	RingFrames int `yaml:"ring_frames"`
}

// ReconnectConfig governs protocol-level reconnection.
type ReconnectConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

// BaseDelay returns the base delay as a duration.
func (r ReconnectConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the delay cap as a duration.
func (r ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// RelayConfig holds relay server settings.
type RelayConfig struct {
	// RateLimitMessages is the per-connection text message budget per window.
	RateLimitMessages int `yaml:"rate_limit_messages"`

	// RateLimitWindowMs is the sliding window length.
	RateLimitWindowMs int `yaml:"rate_limit_window_ms"`

	// MaxStoppedSessions bounds how many stopped sessions are retained for
	// post-stop transcript reads. Oldest are evicted first. Zero disables
	// retention limits.
	MaxStoppedSessions int `yaml:"max_stopped_sessions"`
}

// TranscriptConfig bounds the in-memory transcript store.
type TranscriptConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// Default returns production-ready defaults. The API key has no default and
// must come from the file or environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8000",
			MetricsAddr: ":9090",
			LogLevel:    "info",
		},
		Azure: AzureConfig{
			APIVersion:        "2024-10-01-preview",
			Voice:             "alloy",
			Temperature:       0.7,
			MaxResponseTokens: 4096,
			TurnDetection: TurnDetectionConfig{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 500,
			},
		},
		Audio: AudioConfig{
			HardwareRate: 48000,
			RingFrames:   10,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 5,
			BaseDelayMs: 1000,
			MaxDelayMs:  30000,
		},
		Relay: RelayConfig{
			RateLimitMessages:  30,
			RateLimitWindowMs:  10000,
			MaxStoppedSessions: 50,
		},
		Transcript: TranscriptConfig{
			MaxEntries: 1000,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr(&c.Server.ListenAddr, "HTTP_ADDR")
	setStr(&c.Server.MetricsAddr, "METRICS_ADDR")
	setStr(&c.Server.LogLevel, "LOG_LEVEL")
	setStr(&c.Azure.Endpoint, "AZURE_OPENAI_ENDPOINT")
	setStr(&c.Azure.APIKey, "AZURE_OPENAI_API_KEY")
	setStr(&c.Azure.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	setStr(&c.Azure.APIVersion, "AZURE_OPENAI_API_VERSION")
	setInt(&c.Audio.HardwareRate, "AUDIO_HARDWARE_RATE")
	setInt(&c.Reconnect.MaxAttempts, "RECONNECT_MAX_ATTEMPTS")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

// Validate checks cross-field constraints. Session-level settings get a
// second, stricter validation when a session is constructed.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is empty")
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q is not one of debug/info/warn/error", c.Server.LogLevel)
	}
	if c.Audio.HardwareRate <= 0 || c.Audio.HardwareRate%16000 != 0 {
		return fmt.Errorf("audio.hardware_rate %d must be a positive multiple of 16000", c.Audio.HardwareRate)
	}
	if c.Audio.RingFrames <= 0 {
		return fmt.Errorf("audio.ring_frames %d must be positive", c.Audio.RingFrames)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts %d must not be negative", c.Reconnect.MaxAttempts)
	}
	if c.Relay.MaxStoppedSessions < 0 {
		return fmt.Errorf("relay.max_stopped_sessions %d must not be negative", c.Relay.MaxStoppedSessions)
	}
	if c.Transcript.MaxEntries <= 0 {
		return fmt.Errorf("transcript.max_entries %d must be positive", c.Transcript.MaxEntries)
	}
	return nil
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Server.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
