package config

import (
	"log/slog"
	"sync"
)

// ApplyFunc is invoked after the runtime configuration changes. Hooks receive
// a deep copy and must not block for long; they run on the caller's goroutine
// in registration order.
type ApplyFunc func(Config)

// Runtime holds the live configuration. The control API updates it at runtime
// and interested components either poll [Runtime.Current] or register an
// [ApplyFunc] to be pushed every change.
type Runtime struct {
	mu    sync.RWMutex
	cfg   Config
	hooks []ApplyFunc
}

// NewRuntime creates a Runtime seeded with cfg.
func NewRuntime(cfg Config) *Runtime {
	return &Runtime{cfg: cfg.Clone()}
}

// Current returns a deep copy of the live configuration.
func (r *Runtime) Current() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Clone()
}

// OnApply registers fn to run after every successful [Runtime.Apply].
func (r *Runtime) OnApply(fn ApplyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Apply validates cfg, installs it as the live configuration and notifies all
// registered hooks. On validation failure the previous configuration stays in
// force.
func (r *Runtime) Apply(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.cfg = cfg.Clone()
	hooks := append([]ApplyFunc(nil), r.hooks...)
	r.mu.Unlock()

	slog.Info("configuration applied",
		"sensitivity", cfg.Sensitivity,
		"keywords", len(cfg.AttentionKeywords),
		"llmEnabled", cfg.LLMEnabled,
		"silenceTimeoutMs", cfg.SilenceTimeoutMs)

	for _, fn := range hooks {
		fn(cfg.Clone())
	}
	return nil
}

// Update applies fn to a copy of the live configuration and installs the
// result via [Runtime.Apply].
func (r *Runtime) Update(fn func(*Config)) error {
	cfg := r.Current()
	fn(&cfg)
	return r.Apply(cfg)
}
