package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestApplyDefaults_WarnsPerMissingField(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	cfg := Config{Port: 3100}
	ApplyDefaults(&cfg)

	out := buf.String()
	missing := []string{
		"sensitivity", "attentionKeywords", "silenceTimeoutMs", "wsPort",
		"logLevel", "profilesPath", "llmEndpoint", "llmModel",
	}
	for _, field := range missing {
		if !strings.Contains(out, "field="+field) {
			t.Errorf("no default warning for %q", field)
		}
	}
	if strings.Contains(out, "field=port") {
		t.Error("warned for a field that was provided")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sensitivity != DefaultSensitivity {
		t.Errorf("Sensitivity = %v, want %v", cfg.Sensitivity, DefaultSensitivity)
	}
	if cfg.SilenceTimeoutMs != DefaultSilenceTimeoutMs {
		t.Errorf("SilenceTimeoutMs = %d, want %d", cfg.SilenceTimeoutMs, DefaultSilenceTimeoutMs)
	}
	if cfg.Port != DefaultPort || cfg.WSPort != DefaultWSPort {
		t.Errorf("ports = %d/%d, want %d/%d", cfg.Port, cfg.WSPort, DefaultPort, DefaultWSPort)
	}
	if len(cfg.AttentionKeywords) != len(DefaultKeywords) {
		t.Errorf("AttentionKeywords = %v", cfg.AttentionKeywords)
	}
	if cfg.LogLevel != LogInfo {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, LogInfo)
	}
	if cfg.ProfilesPath != DefaultProfilesPath {
		t.Errorf("ProfilesPath = %q", cfg.ProfilesPath)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"sensitivity": 0.4,
		"attentionKeywords": ["oi"],
		"userName": "Sam",
		"silenceTimeoutMs": 2000,
		"llmEnabled": true,
		"llmEndpoint": "http://llm:11434",
		"port": 4000,
		"wsPort": 4100
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sensitivity != 0.4 {
		t.Errorf("Sensitivity = %v", cfg.Sensitivity)
	}
	if cfg.UserName != "Sam" {
		t.Errorf("UserName = %q", cfg.UserName)
	}
	if len(cfg.AttentionKeywords) != 1 || cfg.AttentionKeywords[0] != "oi" {
		t.Errorf("AttentionKeywords = %v", cfg.AttentionKeywords)
	}
	if !cfg.LLMEnabled || cfg.LLMEndpoint != "http://llm:11434" {
		t.Errorf("LLM config = %v %q", cfg.LLMEnabled, cfg.LLMEndpoint)
	}
	if cfg.Port != 4000 || cfg.WSPort != 4100 {
		t.Errorf("ports = %d/%d", cfg.Port, cfg.WSPort)
	}
}

func TestParse_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := Parse(strings.NewReader(`{"sensitivty": 0.5}`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvSTTAPIKey, "dg-key")
	t.Setenv(EnvLLMEnabled, "true")
	t.Setenv(EnvSensitivityLevel, "high")
	t.Setenv(EnvSilenceTimeoutMs, "3000")
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvWSPort, "9100")

	var cfg Config
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	if cfg.STTAPIKey != "dg-key" {
		t.Errorf("STTAPIKey = %q", cfg.STTAPIKey)
	}
	if !cfg.LLMEnabled {
		t.Error("LLMEnabled should be true")
	}
	if cfg.Sensitivity != 0.8 {
		t.Errorf("Sensitivity = %v, want 0.8", cfg.Sensitivity)
	}
	if cfg.SilenceTimeoutMs != 3000 {
		t.Errorf("SilenceTimeoutMs = %d", cfg.SilenceTimeoutMs)
	}
	if cfg.Port != 9000 || cfg.WSPort != 9100 {
		t.Errorf("ports = %d/%d", cfg.Port, cfg.WSPort)
	}
}

func TestApplyEnv_InvalidValuesIgnored(t *testing.T) {
	t.Setenv(EnvSensitivityLevel, "extreme")
	t.Setenv(EnvSilenceTimeoutMs, "500")
	t.Setenv(EnvPort, "not-a-port")

	var cfg Config
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	if cfg.Sensitivity != DefaultSensitivity {
		t.Errorf("Sensitivity = %v, want default", cfg.Sensitivity)
	}
	if cfg.SilenceTimeoutMs != DefaultSilenceTimeoutMs {
		t.Errorf("SilenceTimeoutMs = %d, want default", cfg.SilenceTimeoutMs)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want default", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		var cfg Config
		ApplyDefaults(&cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"sensitivity too high", func(c *Config) { c.Sensitivity = 1.5 }, true},
		{"sensitivity negative", func(c *Config) { c.Sensitivity = -0.1 }, true},
		{"timeout below minimum", func(c *Config) { c.SilenceTimeoutMs = 999 }, true},
		{"same ports", func(c *Config) { c.WSPort = c.Port }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"empty keyword", func(c *Config) { c.AttentionKeywords = []string{"hey", " "} }, true},
		{"llm without endpoint", func(c *Config) { c.LLMEnabled = true; c.LLMEndpoint = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsAllViolations(t *testing.T) {
	t.Parallel()

	cfg := Config{Sensitivity: 2, SilenceTimeoutMs: 10, LogLevel: "nope"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		t.Fatalf("expected joined errors, got %T", err)
	}
	if n := len(joined.Unwrap()); n < 3 {
		t.Errorf("got %d violations, want at least 3", n)
	}
}
