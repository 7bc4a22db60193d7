// Package hub accepts client connections and owns the bidirectional message
// channel: raw PCM frames flow in, transcripts and volume commands flow out.
// Each client runs an independent receive loop, send loop and bounded audio
// buffer; a periodic sweep terminates peers that stopped responding.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/pkg/types"
)

const (
	// DefaultHeartbeatInterval is how often the hub pings every client.
	DefaultHeartbeatInterval = 10 * time.Second
	// DefaultHeartbeatTimeout is how long a peer may stay silent before it is
	// considered stale and terminated.
	DefaultHeartbeatTimeout = 30 * time.Second

	// DefaultAudioBufferSize bounds the per-session inbound audio buffer.
	DefaultAudioBufferSize = 128
	// DefaultSendQueueSize bounds the per-session outbound queue.
	DefaultSendQueueSize = 64
)

// ConnectHandler is notified once per accepted session.
type ConnectHandler func(clientID string)

// DisconnectHandler is notified exactly once per closed session.
type DisconnectHandler func(clientID string)

// ClientConfigHandler receives config messages forwarded from clients.
type ClientConfigHandler func(clientID string, payload json.RawMessage)

// WarningSink receives buffer-overflow warnings.
type WarningSink func(types.Warning)

// Option configures a [Hub].
type Option func(*Hub)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Hub) { h.log = log }
}

// WithHeartbeat overrides the sweep interval and stale timeout.
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(h *Hub) {
		h.heartbeatInterval = interval
		h.heartbeatTimeout = timeout
	}
}

// WithAudioBufferSize overrides the per-session audio buffer capacity.
func WithAudioBufferSize(n int) Option {
	return func(h *Hub) { h.audioBufferSize = n }
}

// WithSendQueueSize overrides the per-session outbound queue capacity.
func WithSendQueueSize(n int) Option {
	return func(h *Hub) { h.sendQueueSize = n }
}

// WithWarningSink routes warning events somewhere besides the log.
func WithWarningSink(sink WarningSink) Option {
	return func(h *Hub) { h.warn = sink }
}

// Hub is the connection registry and broadcast fan-out. Safe for concurrent
// use.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session

	frames chan types.AudioFrame

	onConnect      []ConnectHandler
	onDisconnect   []DisconnectHandler
	onClientConfig []ClientConfigHandler

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	audioBufferSize   int
	sendQueueSize     int

	warn WarningSink
	log  *slog.Logger
}

// New creates a Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		sessions:          make(map[string]*session),
		frames:            make(chan types.AudioFrame, 256),
		heartbeatInterval: DefaultHeartbeatInterval,
		heartbeatTimeout:  DefaultHeartbeatTimeout,
		audioBufferSize:   DefaultAudioBufferSize,
		sendQueueSize:     DefaultSendQueueSize,
		log:               slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.warn == nil {
		h.warn = func(w types.Warning) {
			h.log.Warn("hub warning", "operation", w.Operation, "message", w.Message)
		}
	}
	return h
}

// Frames returns the pipeline entry: every buffered audio frame from every
// session, in per-session arrival order. Intended for a single consumer.
func (h *Hub) Frames() <-chan types.AudioFrame {
	return h.frames
}

// OnConnect registers a handler fired once per accepted session, after the
// ack has been enqueued.
func (h *Hub) OnConnect(fn ConnectHandler) {
	h.mu.Lock()
	h.onConnect = append(h.onConnect, fn)
	h.mu.Unlock()
}

// OnDisconnect registers a handler fired once per terminated session.
func (h *Hub) OnDisconnect(fn DisconnectHandler) {
	h.mu.Lock()
	h.onDisconnect = append(h.onDisconnect, fn)
	h.mu.Unlock()
}

// OnClientConfig registers a handler for forwarded client config messages.
func (h *Hub) OnClientConfig(fn ClientConfigHandler) {
	h.mu.Lock()
	h.onClientConfig = append(h.onClientConfig, fn)
	h.mu.Unlock()
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ServeHTTP upgrades the request to a client session. The ack is enqueued
// before the loops start so it reaches the peer right away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("connection upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	id := uuid.NewString()
	s := h.newSession(id, conn)

	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()
	h.log.Info("client connected", "clientId", id, "remote", r.RemoteAddr)

	ack, err := ackMessage(id)
	if err == nil {
		s.enqueue(ack)
	}

	h.mu.RLock()
	connectHandlers := append([]ConnectHandler(nil), h.onConnect...)
	h.mu.RUnlock()
	for _, fn := range connectHandlers {
		fn(id)
	}

	go s.writeLoop(r.Context())
	go s.forwardAudio()
	s.readLoop(r.Context())
}

// Run sweeps for stale sessions until ctx is cancelled, then terminates all
// remaining sessions.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll("server shutdown")
			return ctx.Err()
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep terminates stale sessions and heartbeats the rest.
func (h *Hub) sweep() {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	beat, err := heartbeatMessage()
	for _, s := range sessions {
		if s.stale(h.heartbeatTimeout) {
			s.log.Info("peer stale, terminating", "timeout", h.heartbeatTimeout)
			s.terminate("heartbeat timeout")
			continue
		}
		if err == nil {
			s.enqueue(beat)
		}
	}
}

// BroadcastTranscript sends a transcript to every connected client.
func (h *Hub) BroadcastTranscript(t types.Transcript) {
	msg, err := transcriptMessage(t)
	if err != nil {
		h.log.Error("marshal transcript failed", "error", err)
		return
	}
	h.broadcast(msg)
}

// BroadcastCommand sends a volume command to every connected client.
func (h *Hub) BroadcastCommand(cmd types.VolumeCommand) {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		msg, err := volumeMessage(cmd, s.id)
		if err != nil {
			h.log.Error("marshal volume command failed", "error", err)
			return
		}
		s.enqueue(msg)
	}
}

// BroadcastWarning sends a warning event to every connected client.
func (h *Hub) BroadcastWarning(w types.Warning) {
	msg, err := warningMessage(w)
	if err != nil {
		h.log.Error("marshal warning failed", "error", err)
		return
	}
	h.broadcast(msg)
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.enqueue(msg)
	}
}

// removeSession drops the session from the registry and fires the
// disconnected event. Called exactly once per session via terminate.
func (h *Hub) removeSession(id string) {
	h.mu.Lock()
	_, existed := h.sessions[id]
	delete(h.sessions, id)
	handlers := append([]DisconnectHandler(nil), h.onDisconnect...)
	h.mu.Unlock()

	if !existed {
		return
	}
	for _, fn := range handlers {
		fn(id)
	}
}

func (h *Hub) emitClientConfig(clientID string, payload json.RawMessage) {
	h.mu.RLock()
	handlers := append([]ClientConfigHandler(nil), h.onClientConfig...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(clientID, payload)
	}
}

func (h *Hub) emitWarning(w types.Warning) {
	h.warn(w)
}

func (h *Hub) closeAll(reason string) {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.terminate(reason)
	}
}

// Serve runs the websocket listener on addr alongside the stale sweep, until
// ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /", h)

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("audio listener on %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		err := h.Run(ctx)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}
