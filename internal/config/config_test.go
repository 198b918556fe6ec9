package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GEMINI_API_KEY", "API_KEY", "OPENAI_API_KEY", "COACH_PROVIDER", "COACH_LOG_LEVEL", "COACH_KAFKA_BROKERS", "COACH_LISTEN_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Gemini.LiveModel != "gemini-2.5-flash-native-audio-preview-09-2025" {
		t.Errorf("live model = %q", cfg.Gemini.LiveModel)
	}
	if cfg.Audio.CaptureSampleRate != 16000 || cfg.Audio.PlaybackSampleRate != 24000 || cfg.Audio.BlockSize != 4096 {
		t.Errorf("audio defaults = %+v", cfg.Audio)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "coach.toml")
	content := `
[server]
port = 9090

[logging]
level = "debug"
format = "console"

[coach]
provider = "openai"

[events]
enabled = true
brokers = ["kafka:9092"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("unset host lost its default: %q", cfg.Server.Host)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Coach.Provider != ProviderOpenAI {
		t.Errorf("provider = %q", cfg.Coach.Provider)
	}
	if len(cfg.Events.Brokers) != 1 || cfg.Events.Brokers[0] != "kafka:9092" {
		t.Errorf("brokers = %v", cfg.Events.Brokers)
	}
}

func TestLoadRejectsBadTOML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("[server\nport = "), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEY", "legacy-key")
	t.Setenv("COACH_KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("COACH_LISTEN_ADDR", "127.0.0.1:9090")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gemini.APIKey != "legacy-key" {
		t.Errorf("api key = %q", cfg.Gemini.APIKey)
	}
	if !cfg.Events.Enabled || len(cfg.Events.Brokers) != 2 {
		t.Errorf("events = %+v", cfg.Events)
	}
	if addr := cfg.Server.Addr(); addr != "127.0.0.1:9090" {
		t.Errorf("addr = %q", addr)
	}

	// GEMINI_API_KEY wins over the generic name
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	cfg, _ = Load("")
	if cfg.Gemini.APIKey != "gemini-key" {
		t.Errorf("api key = %q, want gemini-key", cfg.Gemini.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name           string
		mutate         func(*Config)
		wantCredential bool
		wantErr        bool
	}{
		{"valid", func(c *Config) { c.Gemini.APIKey = "k" }, false, false},
		{"missing gemini key", func(c *Config) {}, true, true},
		{"openai without key", func(c *Config) {
			c.Gemini.APIKey = "k"
			c.Coach.Provider = ProviderOpenAI
		}, true, true},
		{"unknown provider", func(c *Config) {
			c.Gemini.APIKey = "k"
			c.Coach.Provider = "llama"
		}, false, true},
		{"events without brokers", func(c *Config) {
			c.Gemini.APIKey = "k"
			c.Events.Enabled = true
		}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrCredentialMissing) != tt.wantCredential {
				t.Errorf("errors.Is(err, ErrCredentialMissing) = %v, want %v", !tt.wantCredential, tt.wantCredential)
			}
		})
	}
}
