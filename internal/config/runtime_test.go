package config

import "testing"

func validConfig() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

func TestRuntime_ApplyNotifiesHooks(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(validConfig())

	var got Config
	rt.OnApply(func(cfg Config) { got = cfg })

	next := validConfig()
	next.Sensitivity = 0.3
	if err := rt.Apply(next); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Sensitivity != 0.3 {
		t.Errorf("hook saw sensitivity %v, want 0.3", got.Sensitivity)
	}
	if rt.Current().Sensitivity != 0.3 {
		t.Errorf("Current().Sensitivity = %v, want 0.3", rt.Current().Sensitivity)
	}
}

func TestRuntime_ApplyRejectsInvalid(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(validConfig())

	bad := validConfig()
	bad.Sensitivity = 5
	if err := rt.Apply(bad); err == nil {
		t.Fatal("Apply should reject invalid config")
	}
	if rt.Current().Sensitivity != DefaultSensitivity {
		t.Errorf("previous config should stay in force, got %v", rt.Current().Sensitivity)
	}
}

func TestRuntime_Update(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(validConfig())
	err := rt.Update(func(c *Config) {
		c.AttentionKeywords = append(c.AttentionKeywords, "pardon")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	kws := rt.Current().AttentionKeywords
	if kws[len(kws)-1] != "pardon" {
		t.Errorf("AttentionKeywords = %v", kws)
	}
}

func TestRuntime_CurrentReturnsCopy(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(validConfig())
	cfg := rt.Current()
	cfg.AttentionKeywords[0] = "mutated"
	if rt.Current().AttentionKeywords[0] == "mutated" {
		t.Error("Current() must return an isolated copy")
	}
}
