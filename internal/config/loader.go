package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Environment variables recognised by [ApplyEnv].
const (
	EnvSTTAPIKey        = "DEEPGRAM_API_KEY"
	EnvLLMEnabled       = "LLM_ENABLED"
	EnvLLMEndpoint      = "LLM_ENDPOINT"
	EnvLLMModel         = "LLM_MODEL"
	EnvLLMAPIKey        = "LLM_API_KEY"
	EnvSensitivityLevel = "SENSITIVITY_LEVEL"
	EnvSilenceTimeoutMs = "SILENCE_TIMEOUT_MS"
	EnvPort             = "PORT"
	EnvWSPort           = "WS_PORT"
)

// sensitivityLevels maps the SENSITIVITY_LEVEL shorthand to numeric values.
var sensitivityLevels = map[string]float64{
	"low":    0.3,
	"medium": 0.5,
	"high":   0.8,
}

// Load reads the JSON configuration at path, fills defaults for missing
// fields, applies environment overrides, and validates the result. A missing
// file is not an error: the defaults (plus environment) are used.
func Load(path string) (Config, error) {
	var cfg Config

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("config file not found, using defaults", "path", path)
	case err != nil:
		return Config{}, fmt.Errorf("open config %q: %w", path, err)
	default:
		defer f.Close()
		cfg, err = Parse(f)
		if err != nil {
			return Config{}, fmt.Errorf("config %q: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a JSON configuration from r. Unknown fields are rejected so
// typos surface at startup instead of silently falling back to defaults.
func Parse(r io.Reader) (Config, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults, warning
// per filled field so an accidentally omitted setting is visible at startup.
func ApplyDefaults(cfg *Config) {
	if cfg.Sensitivity == 0 {
		cfg.Sensitivity = DefaultSensitivity
		warnDefault("sensitivity", DefaultSensitivity)
	}
	if len(cfg.AttentionKeywords) == 0 {
		cfg.AttentionKeywords = append([]string(nil), DefaultKeywords...)
		warnDefault("attentionKeywords", DefaultKeywords)
	}
	if cfg.SilenceTimeoutMs == 0 {
		cfg.SilenceTimeoutMs = DefaultSilenceTimeoutMs
		warnDefault("silenceTimeoutMs", DefaultSilenceTimeoutMs)
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
		warnDefault("port", DefaultPort)
	}
	if cfg.WSPort == 0 {
		cfg.WSPort = DefaultWSPort
		warnDefault("wsPort", DefaultWSPort)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
		warnDefault("logLevel", LogInfo)
	}
	if cfg.ProfilesPath == "" {
		cfg.ProfilesPath = DefaultProfilesPath
		warnDefault("profilesPath", DefaultProfilesPath)
	}
	if cfg.LLMEndpoint == "" {
		cfg.LLMEndpoint = DefaultLLMEndpoint
		warnDefault("llmEndpoint", DefaultLLMEndpoint)
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = DefaultLLMModel
		warnDefault("llmModel", DefaultLLMModel)
	}
}

func warnDefault(field string, value any) {
	slog.Warn("config field missing, using default", "field", field, "default", value)
}

// ApplyEnv overrides cfg fields from the process environment. Malformed
// values are logged and skipped so a bad variable never takes the server down.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvSTTAPIKey); v != "" {
		cfg.STTAPIKey = v
	}
	if v := os.Getenv(EnvLLMEnabled); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("ignoring invalid env override", "var", EnvLLMEnabled, "value", v)
		} else {
			cfg.LLMEnabled = b
		}
	}
	if v := os.Getenv(EnvLLMEndpoint); v != "" {
		cfg.LLMEndpoint = v
	}
	if v := os.Getenv(EnvLLMModel); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv(EnvLLMAPIKey); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv(EnvSensitivityLevel); v != "" {
		s, ok := sensitivityLevels[strings.ToLower(v)]
		if !ok {
			slog.Warn("ignoring invalid env override", "var", EnvSensitivityLevel, "value", v)
		} else {
			cfg.Sensitivity = s
		}
	}
	if v := os.Getenv(EnvSilenceTimeoutMs); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < MinSilenceTimeoutMs {
			slog.Warn("ignoring invalid env override", "var", EnvSilenceTimeoutMs, "value", v)
		} else {
			cfg.SilenceTimeoutMs = ms
		}
	}
	if v := os.Getenv(EnvPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 65535 {
			slog.Warn("ignoring invalid env override", "var", EnvPort, "value", v)
		} else {
			cfg.Port = p
		}
	}
	if v := os.Getenv(EnvWSPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 65535 {
			slog.Warn("ignoring invalid env override", "var", EnvWSPort, "value", v)
		} else {
			cfg.WSPort = p
		}
	}
}

// Validate checks cfg for values that cannot be served. All violations are
// reported together.
func (c Config) Validate() error {
	var errs []error
	if c.Sensitivity < 0 || c.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("sensitivity %v outside [0, 1]", c.Sensitivity))
	}
	if c.SilenceTimeoutMs < MinSilenceTimeoutMs {
		errs = append(errs, fmt.Errorf("silenceTimeoutMs %d below minimum %d", c.SilenceTimeoutMs, MinSilenceTimeoutMs))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d outside [1, 65535]", c.Port))
	}
	if c.WSPort < 1 || c.WSPort > 65535 {
		errs = append(errs, fmt.Errorf("wsPort %d outside [1, 65535]", c.WSPort))
	}
	if c.Port == c.WSPort {
		errs = append(errs, fmt.Errorf("port and wsPort both %d", c.Port))
	}
	if !c.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("unknown logLevel %q", c.LogLevel))
	}
	for _, kw := range c.AttentionKeywords {
		if strings.TrimSpace(kw) == "" {
			errs = append(errs, errors.New("attentionKeywords contains an empty entry"))
			break
		}
	}
	if c.LLMEnabled && c.LLMEndpoint == "" {
		errs = append(errs, errors.New("llmEnabled requires llmEndpoint"))
	}
	return errors.Join(errs...)
}

// SlogLevel converts the configured level to a slog.Level.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
