// Package config provides the configuration schema, JSON loader, environment
// overrides, and the live runtime holder for the Earshot server.
package config

import "slices"

// LogLevel controls log verbosity for the Earshot server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults] for fields missing from the file.
const (
	DefaultSensitivity      = 0.7
	DefaultSilenceTimeoutMs = 5000
	DefaultPort             = 3000
	DefaultWSPort           = 8080
	DefaultProfilesPath     = "profiles.json"
	DefaultLLMEndpoint      = "http://localhost:11434"
	DefaultLLMModel         = "llama3.2:1b"

	// MinSilenceTimeoutMs is the lower bound on the auto-restore timeout.
	MinSilenceTimeoutMs = 1000
)

// DefaultKeywords is the default attention-keyword set.
var DefaultKeywords = []string{"hey", "hello", "excuse me", "hi"}

// Config is the root configuration for Earshot, loaded from a JSON file whose
// shape is shared with the desktop client. Environment variables override
// file values; see [ApplyEnv].
type Config struct {
	// Sensitivity in [0, 1] controls both ignore-match strictness and whether
	// PROBABLY_TO_ME verdicts dim the volume.
	Sensitivity float64 `json:"sensitivity"`

	// AttentionKeywords are lowercase phrases that mark speech as definitely
	// directed at the listener.
	AttentionKeywords []string `json:"attentionKeywords"`

	// UserName is the listener's name. Optional; when set it acts as an
	// additional attention keyword.
	UserName string `json:"userName,omitempty"`

	// SilenceTimeoutMs is how long the volume stays dimmed with no further
	// directed speech before auto-restore. Minimum 1000.
	SilenceTimeoutMs int `json:"silenceTimeoutMs"`

	// STTAPIKey authenticates against the streaming transcription service.
	STTAPIKey string `json:"sttApiKey,omitempty"`

	// LLMEnabled turns on the LLM fallback for uncertain transcripts.
	LLMEnabled bool `json:"llmEnabled"`

	// LLMEndpoint is the base URL of the Ollama-compatible endpoint used when
	// LLMEnabled is true.
	LLMEndpoint string `json:"llmEndpoint,omitempty"`

	// LLMModel selects the model at the LLM endpoint.
	LLMModel string `json:"llmModel,omitempty"`

	// LLMAPIKey, when set, switches the LLM fallback to the OpenAI-compatible
	// chat API (hosted OpenAI, or any compatible server when LLMEndpoint is
	// also customised). Empty means the plain Ollama REST endpoint is used.
	LLMAPIKey string `json:"llmApiKey,omitempty"`

	// Port is the TCP port of the HTTP control API.
	Port int `json:"port"`

	// WSPort is the TCP port clients connect to for the audio channel.
	WSPort int `json:"wsPort"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `json:"logLevel,omitempty"`

	// ProfilesPath is where the JSON voice-profile snapshot lives. Ignored
	// when ProfilesDSN is set.
	ProfilesPath string `json:"profilesPath,omitempty"`

	// ProfilesDSN, when non-empty, selects the PostgreSQL profile store
	// (pgvector) instead of the JSON file.
	ProfilesDSN string `json:"profilesDsn,omitempty"`
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	c.AttentionKeywords = slices.Clone(c.AttentionKeywords)
	return c
}
