package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yegors/interview-coach/pkg/logger"
)

// ErrCredentialMissing is returned when a required API key is not configured
var ErrCredentialMissing = errors.New("credential missing")

// Text generation providers
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Logging logger.Config `toml:"logging"`
	Gemini  GeminiConfig  `toml:"gemini"`
	OpenAI  OpenAIConfig  `toml:"openai"`
	Coach   CoachConfig   `toml:"coach"`
	Audio   AudioConfig   `toml:"audio"`
	Devices DevicesConfig `toml:"devices"`
	Events  EventsConfig  `toml:"events"`
	Metrics MetricsConfig `toml:"metrics"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host                   string   `toml:"host"`
	Port                   int      `toml:"port"`
	CORSAllowedOrigins     []string `toml:"cors_allowed_origins"`
	ReadTimeoutSeconds     int      `toml:"read_timeout_seconds"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GeminiConfig represents the Gemini text and live API configuration
type GeminiConfig struct {
	APIKey                  string `toml:"api_key"`
	TextModel               string `toml:"text_model"`
	LiveModel               string `toml:"live_model"`
	LiveEndpoint            string `toml:"live_endpoint"`
	HandshakeTimeoutSeconds int    `toml:"handshake_timeout_seconds"`
	ConnectTimeoutSeconds   int    `toml:"connect_timeout_seconds"`
}

// ConnectTimeout is how long Start waits for the session to open
func (g GeminiConfig) ConnectTimeout() time.Duration {
	return time.Duration(g.ConnectTimeoutSeconds) * time.Second
}

// OpenAIConfig configures the alternative text generation backend
type OpenAIConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
}

// CoachConfig selects and tunes persona and feedback generation
type CoachConfig struct {
	Provider       string `toml:"provider"`
	TemplateDir    string `toml:"template_dir"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout bounds a single generation call
func (c CoachConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AudioConfig represents capture and playback settings
type AudioConfig struct {
	CaptureSampleRate  int `toml:"capture_sample_rate"`
	PlaybackSampleRate int `toml:"playback_sample_rate"`
	BlockSize          int `toml:"block_size"`
	RenderIntervalMs   int `toml:"render_interval_ms"`
	SendQueueSize      int `toml:"send_queue_size"`
	StopTimeoutMs      int `toml:"stop_timeout_ms"`
	MonitorBufferKB    int `toml:"monitor_buffer_kb"`
}

// RenderInterval is the playback mixer tick
func (a AudioConfig) RenderInterval() time.Duration {
	return time.Duration(a.RenderIntervalMs) * time.Millisecond
}

// StopTimeout bounds how long Stop waits for the event loop to acknowledge
func (a AudioConfig) StopTimeout() time.Duration {
	return time.Duration(a.StopTimeoutMs) * time.Millisecond
}

// DevicesConfig represents local microphone and speaker settings for the CLI
type DevicesConfig struct {
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFplayPath  string `toml:"ffplay_path"`
	InputFormat string `toml:"input_format"` // ffmpeg -f value; empty picks one per OS
	InputDevice string `toml:"input_device"`
	SampleRate  int    `toml:"sample_rate"`
}

// EventsConfig represents transcript event publishing
type EventsConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// MetricsConfig represents Prometheus exposition
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8080,
			CORSAllowedOrigins:     []string{"*"},
			ReadTimeoutSeconds:     30,
			ShutdownTimeoutSeconds: 10,
		},
		Logging: logger.Config{Level: "info", Format: "json"},
		Gemini: GeminiConfig{
			TextModel:               "gemini-2.5-flash",
			LiveModel:               "gemini-2.5-flash-native-audio-preview-09-2025",
			LiveEndpoint:            "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
			HandshakeTimeoutSeconds: 15,
			ConnectTimeoutSeconds:   30,
		},
		OpenAI: OpenAIConfig{Model: "gpt-4o-mini"},
		Coach: CoachConfig{
			Provider:       ProviderGemini,
			TimeoutSeconds: 60,
		},
		Audio: AudioConfig{
			CaptureSampleRate:  16000,
			PlaybackSampleRate: 24000,
			BlockSize:          4096,
			RenderIntervalMs:   20,
			SendQueueSize:      64,
			StopTimeoutMs:      2000,
			MonitorBufferKB:    64,
		},
		Devices: DevicesConfig{
			FFmpegPath: "ffmpeg",
			FFplayPath: "ffplay",
			SampleRate: 16000,
		},
		Events: EventsConfig{Topic: "interview.transcripts"},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads the TOML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := firstEnv("GEMINI_API_KEY", "API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("COACH_PROVIDER"); v != "" {
		c.Coach.Provider = v
	}
	if v := os.Getenv("COACH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("COACH_LISTEN_ADDR"); v != "" {
		if host, port, err := net.SplitHostPort(v); err == nil {
			if n, err := strconv.Atoi(port); err == nil {
				c.Server.Host = host
				c.Server.Port = n
			}
		}
	}
	if v := os.Getenv("COACH_KAFKA_BROKERS"); v != "" {
		c.Events.Brokers = strings.Split(v, ",")
		c.Events.Enabled = true
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the configuration once at startup. Missing credentials
// are reported with ErrCredentialMissing so callers can treat them as fatal.
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY or gemini.api_key", ErrCredentialMissing)
	}

	switch c.Coach.Provider {
	case ProviderGemini:
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("%w: coach provider is openai but OPENAI_API_KEY is not set", ErrCredentialMissing)
		}
	default:
		return fmt.Errorf("unknown coach provider %q", c.Coach.Provider)
	}

	if c.Audio.CaptureSampleRate <= 0 || c.Audio.PlaybackSampleRate <= 0 {
		return fmt.Errorf("audio sample rates must be positive")
	}
	if c.Audio.BlockSize <= 0 {
		return fmt.Errorf("audio block size must be positive")
	}
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		return fmt.Errorf("events enabled but no brokers configured")
	}
	return nil
}
