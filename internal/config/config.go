package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the chat client core.
type Config struct {
	Server ServerConfig
	Socket SocketConfig
	Audio  AudioConfig
}

type ServerConfig struct {
	BaseURL string
}

type SocketConfig struct {
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
}

type AudioConfig struct {
	Backend           string
	Device            string
	CaptureSampleRate int
	TargetSampleRate  int
	FFMPEGCommand     string
	FFMPEGInputFormat string
}

// fileConfig is the YAML shape of an optional config file pointed to by
// PARLEY_CONFIG. Environment variables override file values.
type fileConfig struct {
	Server struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`

	Socket struct {
		HeartbeatIntervalMs  int `yaml:"heartbeat_interval_ms"`
		MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
		ReconnectBaseDelayMs int `yaml:"reconnect_base_delay_ms"`
	} `yaml:"socket"`

	Audio struct {
		Backend           string `yaml:"backend"`
		Device            string `yaml:"device"`
		CaptureSampleRate int    `yaml:"capture_sample_rate"`
		TargetSampleRate  int    `yaml:"target_sample_rate"`
		FFMPEGCommand     string `yaml:"ffmpeg_command"`
		FFMPEGInputFormat string `yaml:"ffmpeg_input_format"`
	} `yaml:"audio"`
}

// Load resolves configuration from an optional YAML file and environment
// variables, with environment taking precedence.
func Load() (Config, error) {
	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("PARLEY_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg := Config{
		Server: ServerConfig{
			BaseURL: envOrDefault("PARLEY_BASE_URL", firstNonEmpty(file.Server.BaseURL, "http://localhost:8080")),
		},
		Socket: SocketConfig{
			HeartbeatInterval:    time.Duration(envOrDefaultInt("PARLEY_HEARTBEAT_INTERVAL_MS", orDefaultInt(file.Socket.HeartbeatIntervalMs, 30000))) * time.Millisecond,
			MaxReconnectAttempts: envOrDefaultInt("PARLEY_MAX_RECONNECT_ATTEMPTS", orDefaultInt(file.Socket.MaxReconnectAttempts, 5)),
			ReconnectBaseDelay:   time.Duration(envOrDefaultInt("PARLEY_RECONNECT_BASE_DELAY_MS", orDefaultInt(file.Socket.ReconnectBaseDelayMs, 1000))) * time.Millisecond,
		},
		Audio: AudioConfig{
			Backend:           envOrDefault("PARLEY_AUDIO_BACKEND", firstNonEmpty(file.Audio.Backend, "malgo")),
			Device:            envOrDefault("PARLEY_AUDIO_DEVICE", file.Audio.Device),
			CaptureSampleRate: envOrDefaultInt("PARLEY_CAPTURE_SAMPLE_RATE", orDefaultInt(file.Audio.CaptureSampleRate, 48000)),
			TargetSampleRate:  envOrDefaultInt("PARLEY_TARGET_SAMPLE_RATE", orDefaultInt(file.Audio.TargetSampleRate, 16000)),
			FFMPEGCommand:     envOrDefault("PARLEY_FFMPEG_COMMAND", firstNonEmpty(file.Audio.FFMPEGCommand, "ffmpeg")),
			FFMPEGInputFormat: envOrDefault("PARLEY_FFMPEG_INPUT_FORMAT", firstNonEmpty(file.Audio.FFMPEGInputFormat, "pulse")),
		},
	}

	if cfg.Socket.HeartbeatInterval <= 0 {
		cfg.Socket.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Socket.MaxReconnectAttempts <= 0 {
		cfg.Socket.MaxReconnectAttempts = 5
	}
	if cfg.Socket.ReconnectBaseDelay <= 0 {
		cfg.Socket.ReconnectBaseDelay = time.Second
	}
	if cfg.Audio.CaptureSampleRate <= 0 {
		cfg.Audio.CaptureSampleRate = 48000
	}
	if cfg.Audio.TargetSampleRate <= 0 {
		cfg.Audio.TargetSampleRate = 16000
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func orDefaultInt(value int, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
