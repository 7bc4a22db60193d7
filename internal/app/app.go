// Package app wires all Earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the servers and the audio pipeline, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSTTProvider, WithClassifier, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/attention"
	"github.com/MrWong99/earshot/internal/bridge"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/dispatch"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/hub"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/server"
	"github.com/MrWong99/earshot/internal/voicefilter"
	"github.com/MrWong99/earshot/pkg/profiles"
	"github.com/MrWong99/earshot/pkg/profiles/jsonfile"
	profilespg "github.com/MrWong99/earshot/pkg/profiles/postgres"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/llm/ollama"
	llmopenai "github.com/MrWong99/earshot/pkg/provider/llm/openai"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/deepgram"
	"github.com/MrWong99/earshot/pkg/types"
)

// App owns all subsystem lifetimes and connects the audio pipeline:
// hub frames → voice filter → STT bridge → attention engine → dispatcher →
// hub broadcasts.
type App struct {
	cfg     config.Config
	runtime *config.Runtime

	store      profiles.Store
	filter     *voicefilter.Filter
	sttProv    stt.Provider
	classifier llm.Classifier
	bridge     *bridge.Bridge
	engine     *attention.Engine
	dispatcher *dispatch.Dispatcher
	hub        *hub.Hub
	control    *server.Server

	tracker    *resilience.Tracker
	sttBreaker *resilience.Breaker
	metrics    *observe.Metrics

	// runCtx is the lifetime context handed to Run; transcript handlers use
	// it for LLM calls so classification stops with the app.
	runCtx context.Context
	ctxMu  sync.RWMutex

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSTTProvider injects an STT provider instead of creating one from config.
func WithSTTProvider(p stt.Provider) Option {
	return func(a *App) { a.sttProv = p }
}

// WithClassifier injects an LLM classifier instead of creating one from config.
func WithClassifier(c llm.Classifier) Option {
	return func(a *App) { a.classifier = c }
}

// WithProfileStore injects a voice-profile store instead of creating one from
// config.
func WithProfileStore(s profiles.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any provider or store.
//
// New performs all initialisation synchronously: profile store connection and
// restore, provider construction, and handler registration. Servers are not
// started until Run.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}

	a := &App{
		cfg:    cfg,
		runCtx: context.Background(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.runtime = config.NewRuntime(cfg)

	// Warnings raised anywhere in the resilience layer reach every connected
	// client. The hub is constructed below; by the time failures can be
	// recorded it is in place.
	a.tracker = resilience.NewTracker(func(w types.Warning) {
		if h := a.hub; h != nil {
			h.BroadcastWarning(w)
		}
	})
	a.sttBreaker = resilience.NewBreaker(resilience.BreakerConfig{Name: "stt"})

	if err := a.initProfiles(ctx); err != nil {
		return nil, fmt.Errorf("app: init profiles: %w", err)
	}
	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}
	a.initPipeline()
	a.initControl()
	a.wireConfigHooks()

	return a, nil
}

// initProfiles sets up the profile store and restores persisted profiles into
// the voice filter.
func (a *App) initProfiles(ctx context.Context) error {
	if a.store == nil {
		if a.cfg.ProfilesDSN != "" {
			store, err := profilespg.New(ctx, a.cfg.ProfilesDSN)
			if err != nil {
				return fmt.Errorf("open postgres profile store: %w", err)
			}
			a.store = store
			slog.Info("using postgres profile store")
		} else {
			store, err := jsonfile.New(a.cfg.ProfilesPath)
			if err != nil {
				return fmt.Errorf("open profile file %q: %w", a.cfg.ProfilesPath, err)
			}
			a.store = store
			slog.Info("using json profile store", "path", a.cfg.ProfilesPath)
		}
	}
	a.closers = append(a.closers, a.store.Close)

	a.filter = voicefilter.New(a.cfg.Sensitivity, voicefilter.WithStore(a.store))
	if err := a.filter.Restore(ctx); err != nil {
		return fmt.Errorf("restore profiles: %w", err)
	}
	slog.Info("voice profiles restored", "count", len(a.filter.List()))
	return nil
}

// initProviders creates the STT provider and the LLM classifier unless they
// were injected.
func (a *App) initProviders() error {
	if a.sttProv == nil {
		if a.cfg.STTAPIKey == "" {
			return fmt.Errorf("sttApiKey is required when no STT provider is injected")
		}
		p, err := deepgram.New(a.cfg.STTAPIKey)
		if err != nil {
			return fmt.Errorf("create deepgram provider: %w", err)
		}
		a.sttProv = p
	}

	if a.classifier == nil && a.cfg.LLMEnabled {
		if a.cfg.LLMAPIKey != "" {
			var oaOpts []llmopenai.Option
			if a.cfg.LLMEndpoint != config.DefaultLLMEndpoint {
				oaOpts = append(oaOpts, llmopenai.WithBaseURL(a.cfg.LLMEndpoint))
			}
			c, err := llmopenai.New(a.cfg.LLMAPIKey, a.cfg.LLMModel, oaOpts...)
			if err != nil {
				return fmt.Errorf("create openai classifier: %w", err)
			}
			a.classifier = c
			slog.Info("llm fallback enabled", "backend", "openai", "model", a.cfg.LLMModel)
		} else {
			a.classifier = ollama.New(a.cfg.LLMEndpoint, ollama.WithModel(a.cfg.LLMModel))
			slog.Info("llm fallback enabled", "backend", "ollama",
				"endpoint", a.cfg.LLMEndpoint, "model", a.cfg.LLMModel)
		}
	}
	return nil
}

// initPipeline builds hub, bridge, attention engine and dispatcher, and
// registers the transcript handlers.
func (a *App) initPipeline() {
	a.hub = hub.New(hub.WithWarningSink(func(w types.Warning) {
		a.hub.BroadcastWarning(w)
	}))
	a.hub.OnClientConfig(a.applyClientConfig)
	a.hub.OnConnect(func(string) {
		a.metrics.ActiveSessions.Add(a.lifetimeCtx(), 1)
	})
	a.hub.OnDisconnect(func(string) {
		a.metrics.ActiveSessions.Add(a.lifetimeCtx(), -1)
	})

	a.bridge = bridge.New(a.sttProv,
		stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-US"},
		bridge.WithTracker(a.tracker),
		bridge.WithBreaker(a.sttBreaker),
		bridge.WithWarningSink(func(w types.Warning) {
			a.hub.BroadcastWarning(w)
		}),
	)

	engineOpts := []attention.Option{attention.WithTracker(a.tracker)}
	if a.classifier != nil {
		engineOpts = append(engineOpts, attention.WithClassifier(a.classifier))
	}
	a.engine = attention.New(a.cfg.AttentionKeywords, engineOpts...)
	a.engine.SetUserName(a.cfg.UserName)
	if a.cfg.LLMEnabled {
		a.engine.EnableLLM()
	}

	a.dispatcher = dispatch.New(
		a.broadcastCommand,
		a.cfg.Sensitivity,
		time.Duration(a.cfg.SilenceTimeoutMs)*time.Millisecond,
	)

	// Handlers are registered before the first frame can open a session.
	a.bridge.OnPartial(func(t types.Transcript) {
		a.metrics.RecordTranscript(a.lifetimeCtx(), "partial")
		a.hub.BroadcastTranscript(t)
	})
	a.bridge.OnFinal(a.handleFinal)
}

// initControl assembles the health handler and the control API server.
func (a *App) initControl() {
	checkers := []health.Checker{
		{Name: "stt", Check: func(_ context.Context) error {
			if a.sttBreaker.State() == resilience.BreakerOpen {
				return fmt.Errorf("stt circuit open")
			}
			return nil
		}},
		{Name: "profiles", Check: func(ctx context.Context) error {
			_, err := a.store.Load(ctx)
			return err
		}},
	}
	h := health.New(a.hub.Count, checkers...)
	a.control = server.New(a.runtime, a.filter, a.tracker, h,
		server.WithBreakers(a.sttBreaker),
		server.WithMetrics(a.metrics),
	)
}

// wireConfigHooks pushes every runtime configuration change into the live
// components.
func (a *App) wireConfigHooks() {
	a.runtime.OnApply(func(c config.Config) {
		a.filter.SetSensitivity(c.Sensitivity)
		a.dispatcher.SetSensitivity(c.Sensitivity)
		a.dispatcher.SetSilenceTimeout(time.Duration(c.SilenceTimeoutMs) * time.Millisecond)
		a.engine.SetKeywords(c.AttentionKeywords)
		a.engine.SetUserName(c.UserName)
		if c.LLMEnabled && a.classifier != nil {
			a.engine.EnableLLM()
		} else {
			a.engine.DisableLLM()
		}
	})
}

// handleFinal routes a final transcript through the attention engine and the
// volume dispatcher.
func (a *App) handleFinal(t types.Transcript) {
	ctx := a.lifetimeCtx()
	a.metrics.RecordTranscript(ctx, "final")
	a.hub.BroadcastTranscript(t)

	started := time.Now()
	verdict := a.engine.Analyze(ctx, t, a.runtime.Current().Sensitivity)
	if verdict.LLMConsulted {
		a.metrics.LLMDuration.Record(ctx, time.Since(started).Seconds())
	}

	slog.Debug("attention verdict",
		"kind", verdict.Kind,
		"confidence", verdict.Confidence,
		"llm", verdict.LLMConsulted,
		"text", t.Text)

	a.dispatcher.HandleVerdict(verdict)
}

// broadcastCommand is the dispatcher's sink: every volume command goes to all
// connected clients.
func (a *App) broadcastCommand(cmd types.VolumeCommand) {
	a.metrics.RecordCommand(a.lifetimeCtx(), string(cmd.Type))
	a.hub.BroadcastCommand(cmd)
}

// clientConfigPayload is the subset of settings a client may push over the
// websocket config message. Pointer fields distinguish absent from zero.
type clientConfigPayload struct {
	Sensitivity       *float64 `json:"sensitivity"`
	AttentionKeywords []string `json:"attentionKeywords"`
	UserName          *string  `json:"userName"`
	SilenceTimeoutMs  *int     `json:"silenceTimeoutMs"`
	LLMEnabled        *bool    `json:"llmEnabled"`
}

// applyClientConfig merges a client-pushed config message into the runtime
// configuration. Invalid updates are rejected and logged; the session stays
// connected either way.
func (a *App) applyClientConfig(clientID string, payload json.RawMessage) {
	var p clientConfigPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		slog.Warn("malformed client config", "client", clientID, "err", err)
		return
	}

	err := a.runtime.Update(func(c *config.Config) {
		if p.Sensitivity != nil {
			c.Sensitivity = *p.Sensitivity
		}
		if p.AttentionKeywords != nil {
			c.AttentionKeywords = p.AttentionKeywords
		}
		if p.UserName != nil {
			c.UserName = *p.UserName
		}
		if p.SilenceTimeoutMs != nil {
			c.SilenceTimeoutMs = *p.SilenceTimeoutMs
		}
		if p.LLMEnabled != nil {
			c.LLMEnabled = *p.LLMEnabled
		}
	})
	if err != nil {
		slog.Warn("client config rejected", "client", clientID, "err", err)
		return
	}
	slog.Info("client config applied", "client", clientID)
}

// Runtime exposes the live configuration holder, mainly for tests.
func (a *App) Runtime() *config.Runtime { return a.runtime }

// Hub exposes the connection hub, mainly for tests.
func (a *App) Hub() *hub.Hub { return a.hub }

// Run starts the websocket hub, the control API and the STT bridge, then
// pumps audio frames through the pipeline until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.ctxMu.Lock()
	a.runCtx = ctx
	a.ctxMu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.hub.Serve(ctx, fmt.Sprintf(":%d", a.cfg.WSPort))
	})
	g.Go(func() error {
		return a.control.Serve(ctx, fmt.Sprintf(":%d", a.cfg.Port))
	})
	g.Go(func() error {
		return a.bridge.Run(ctx)
	})
	g.Go(func() error {
		return a.pump(ctx)
	})

	slog.Info("earshot running",
		"wsPort", a.cfg.WSPort,
		"apiPort", a.cfg.Port,
		"profiles", len(a.filter.List()),
		"llmEnabled", a.cfg.LLMEnabled)

	return g.Wait()
}

// pump is the audio pipeline loop: frames from the hub are matched against
// ignored voice profiles; only unmatched frames reach the STT bridge.
func (a *App) pump(ctx context.Context) error {
	frames := a.hub.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			res := a.filter.Match(frame.Data)
			if res.IsMatch {
				a.metrics.RecordFrame(ctx, "filtered")
				slog.Debug("frame filtered",
					"profile", res.ProfileID,
					"confidence", res.Confidence,
					"client", frame.ClientID)
				continue
			}
			a.metrics.RecordFrame(ctx, "passed")
			a.bridge.HandleFrame(frame)
		}
	}
}

// lifetimeCtx returns the context handed to Run, or a background context
// before Run has started.
func (a *App) lifetimeCtx() context.Context {
	a.ctxMu.RLock()
	defer a.ctxMu.RUnlock()
	return a.runCtx
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		a.dispatcher.Stop()
		if err := a.bridge.Close(); err != nil {
			slog.Warn("bridge close error", "err", err)
		}
		if err := a.filter.Close(ctx); err != nil {
			slog.Warn("filter close error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
