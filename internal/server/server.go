// Package server exposes the HTTP control API: configuration, voice
// profiles, failure reports, health and Prometheus metrics. The API is
// consumed by the desktop client and by operators; CORS is fully permissive.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/voicefilter"
)

// Option configures a [Server].
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithBreakers registers circuit breakers for the /errors report.
func WithBreakers(breakers ...*resilience.Breaker) Option {
	return func(s *Server) { s.breakers = append(s.breakers, breakers...) }
}

// WithMetrics attaches the metrics instruments used by the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the control API. All state lives in the injected components; the
// server itself is stateless.
type Server struct {
	runtime  *config.Runtime
	filter   *voicefilter.Filter
	tracker  *resilience.Tracker
	health   *health.Handler
	breakers []*resilience.Breaker
	metrics  *observe.Metrics
	log      *slog.Logger
}

// New creates a Server around the given components.
func New(runtime *config.Runtime, filter *voicefilter.Filter, tracker *resilience.Tracker, healthHandler *health.Handler, opts ...Option) *Server {
	s := &Server{
		runtime: runtime,
		filter:  filter,
		tracker: tracker,
		health:  healthHandler,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler builds the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /config", s.getConfig)
	mux.HandleFunc("PUT /config", s.putConfig)
	mux.HandleFunc("PUT /config/sensitivity", s.putSensitivity)
	mux.HandleFunc("POST /config/keywords", s.postKeyword)

	mux.HandleFunc("GET /profiles", s.listProfiles)
	mux.HandleFunc("POST /profiles", s.createProfile)
	mux.HandleFunc("PUT /profiles/{id}", s.renameProfile)
	mux.HandleFunc("DELETE /profiles/{id}", s.deleteProfile)

	mux.HandleFunc("GET /errors", s.getErrors)

	return cors(observe.Middleware(s.metrics)(mux))
}

// Serve runs the control API on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("control api on %s: %w", addr, err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	}
}

// cors allows any origin, matching the desktop client's dev setup.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime.Current())
}

func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Parse(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	config.ApplyDefaults(&cfg)
	if err := s.runtime.Apply(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "config": s.runtime.Current()})
}

func (s *Server) putSensitivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Level *float64 `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Level == nil {
		writeError(w, http.StatusBadRequest, errors.New("body must be {\"level\": 0..1}"))
		return
	}
	if *body.Level < 0 || *body.Level > 1 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("level %v outside [0, 1]", *body.Level))
		return
	}
	if err := s.runtime.Update(func(c *config.Config) { c.Sensitivity = *body.Level }); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sensitivity": *body.Level})
}

func (s *Server) postKeyword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Keyword string `json:"keyword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Keyword == "" {
		writeError(w, http.StatusBadRequest, errors.New("body must be {\"keyword\": string}"))
		return
	}
	err := s.runtime.Update(func(c *config.Config) {
		c.AttentionKeywords = append(c.AttentionKeywords, body.Keyword)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"keywords": s.runtime.Current().AttentionKeywords,
	})
}

func (s *Server) listProfiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"profiles": s.filter.List()})
}

// createProfileRequest carries base64-encoded PCM training frames.
type createProfileRequest struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Frames []string `json:"frames"`
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var body createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse body: %w", err))
		return
	}

	frames := make([][]byte, 0, len(body.Frames))
	for i, enc := range body.Frames {
		data, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("frame %d is not valid base64", i))
			return
		}
		frames = append(frames, data)
	}

	profile, err := s.filter.Add(r.Context(), body.ID, body.Name, frames)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, voicefilter.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "profile": profile})
}

func (s *Server) renameProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse body: %w", err))
		return
	}
	if err := s.filter.Rename(r.Context(), r.PathValue("id"), body.Name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, voicefilter.ErrInvalidInput) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.filter.Remove(r.Context(), id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no profile %q", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// errorsReport is the /errors response: failure counters plus the state of
// every registered circuit breaker.
type errorsReport struct {
	Operations []resilience.OperationStatus `json:"operations"`
	Breakers   []breakerStatus              `json:"breakers"`
}

type breakerStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

func (s *Server) getErrors(w http.ResponseWriter, _ *http.Request) {
	report := errorsReport{
		Operations: s.tracker.Snapshot(),
		Breakers:   make([]breakerStatus, 0, len(s.breakers)),
	}
	for _, b := range s.breakers {
		report.Breakers = append(report.Breakers, breakerStatus{
			Name:  b.Name(),
			State: b.State().String(),
		})
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
