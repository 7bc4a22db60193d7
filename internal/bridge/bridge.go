// Package bridge connects the audio pipeline to a streaming speech-to-text
// provider. The STT session is opened lazily on the first unfiltered frame
// and shared across all client sessions. Frames that cannot be delivered are
// parked on a bounded retry queue and drained by a single worker with
// exponential backoff; a circuit breaker keeps a flapping provider from being
// hammered.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/types"
)

// State of the STT connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "IDLE"
	}
}

const (
	// DefaultQueueCapacity bounds the retry queue.
	DefaultQueueCapacity = 100
	// DefaultBaseRetryDelay is the backoff base for failed sends.
	DefaultBaseRetryDelay = time.Second
	// DefaultMaxRetries is how often one segment is retried before discard.
	DefaultMaxRetries = 5

	opSTTSend = "stt_send"
	opSTTOpen = "stt_connect"
)

// TranscriptHandler receives transcripts surfaced by the bridge.
type TranscriptHandler func(types.Transcript)

// WarningSink receives queue_overflow and segment_discarded events.
type WarningSink func(types.Warning)

// Option configures a [Bridge].
type Option func(*Bridge)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// WithTracker attaches the failure tracker for send/connect failures.
func WithTracker(t *resilience.Tracker) Option {
	return func(b *Bridge) { b.tracker = t }
}

// WithBreaker overrides the default circuit breaker.
func WithBreaker(br *resilience.Breaker) Option {
	return func(b *Bridge) { b.breaker = br }
}

// WithWarningSink routes warning events somewhere besides the log.
func WithWarningSink(sink WarningSink) Option {
	return func(b *Bridge) { b.warn = sink }
}

// WithRetryPolicy overrides queue capacity, backoff base and retry limit.
func WithRetryPolicy(capacity, maxRetries int, baseDelay time.Duration) Option {
	return func(b *Bridge) {
		b.queueCap = capacity
		b.maxRetries = maxRetries
		b.baseDelay = baseDelay
	}
}

// Bridge forwards audio to the STT provider and fans transcripts out to the
// registered handlers. Register handlers with [Bridge.OnPartial] and
// [Bridge.OnFinal] before the first frame arrives; the session is only opened
// afterwards, so no early transcript can be missed.
type Bridge struct {
	provider  stt.Provider
	streamCfg stt.StreamConfig

	mu        sync.Mutex
	state     State
	session   stt.SessionHandle
	segmentID string
	queue     []queuedFrame
	overflow  bool
	onPartial []TranscriptHandler
	onFinal   []TranscriptHandler

	wake chan struct{}

	queueCap   int
	maxRetries int
	baseDelay  time.Duration

	breaker *resilience.Breaker
	tracker *resilience.Tracker
	warn    WarningSink
	log     *slog.Logger
}

type queuedFrame struct {
	data []byte
}

// New creates a Bridge for the given provider.
func New(provider stt.Provider, streamCfg stt.StreamConfig, opts ...Option) *Bridge {
	b := &Bridge{
		provider:   provider,
		streamCfg:  streamCfg,
		wake:       make(chan struct{}, 1),
		queueCap:   DefaultQueueCapacity,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseRetryDelay,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.breaker == nil {
		b.breaker = resilience.NewBreaker(resilience.BreakerConfig{Name: "stt"})
	}
	if b.warn == nil {
		b.warn = func(w types.Warning) {
			b.log.Warn("bridge warning", "operation", w.Operation, "message", w.Message)
		}
	}
	return b
}

// OnPartial registers a handler for interim transcripts.
func (b *Bridge) OnPartial(h TranscriptHandler) {
	b.mu.Lock()
	b.onPartial = append(b.onPartial, h)
	b.mu.Unlock()
}

// OnFinal registers a handler for stable transcripts.
func (b *Bridge) OnFinal(h TranscriptHandler) {
	b.mu.Lock()
	b.onFinal = append(b.onFinal, h)
	b.mu.Unlock()
}

// State returns the current connection state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// QueueDepth returns the number of frames waiting on the retry queue.
func (b *Bridge) QueueDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// HandleFrame accepts one unfiltered audio frame. Delivery failures never
// propagate: the frame is parked on the retry queue and the pipeline
// continues.
func (b *Bridge) HandleFrame(frame types.AudioFrame) {
	b.mu.Lock()
	session := b.session
	direct := b.state == StateConnected && len(b.queue) == 0
	b.mu.Unlock()

	if direct {
		err := b.breaker.Do(func() error { return session.SendAudio(frame.Data) })
		if err == nil {
			if b.tracker != nil {
				b.tracker.RecordSuccess(opSTTSend)
			}
			return
		}
		b.log.Warn("stt send failed, queueing frame", "error", err)
		if b.tracker != nil {
			b.tracker.RecordFailure(opSTTSend, err)
		}
	}
	b.enqueue(frame.Data)
}

// Run drains the retry queue and lazily (re)opens the STT session until ctx
// is cancelled. Exactly one Run must be active per Bridge.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.wake:
		}
		b.drain(ctx)
	}
}

// drain retries queued frames in order until the queue is empty or ctx ends.
func (b *Bridge) drain(ctx context.Context) {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		item := b.queue[0]
		b.mu.Unlock()

		err := resilience.WithRetry(ctx, b.tracker, opSTTSend, b.maxRetries, b.baseDelay, func() error {
			return b.sendQueued(ctx, item.data)
		})

		// Shutdown mid-retry: keep the head frame queued rather than consume
		// one that never exhausted its retries.
		if err != nil && ctx.Err() != nil {
			return
		}

		b.mu.Lock()
		if len(b.queue) > 0 {
			b.queue = b.queue[1:]
		}
		if len(b.queue) == 0 {
			b.overflow = false
		}
		b.mu.Unlock()

		if err != nil {
			b.log.Error("audio segment discarded after retries", "error", err)
			b.warn(types.Warning{
				Operation: "segment_discarded",
				Message:   fmt.Sprintf("audio segment dropped after %d retries: %v", b.maxRetries, err),
				Timestamp: time.Now(),
			})
		}
	}
}

// sendQueued makes one delivery attempt, opening the session first if needed.
func (b *Bridge) sendQueued(ctx context.Context, data []byte) error {
	session, err := b.ensureSession(ctx)
	if err != nil {
		return err
	}
	return b.breaker.Do(func() error { return session.SendAudio(data) })
}

// ensureSession opens the STT stream if none is live. At most one stream
// exists at a time.
func (b *Bridge) ensureSession(ctx context.Context) (stt.SessionHandle, error) {
	b.mu.Lock()
	if b.state == StateConnected {
		session := b.session
		b.mu.Unlock()
		return session, nil
	}
	if b.state == StateClosing {
		b.mu.Unlock()
		return nil, fmt.Errorf("stt bridge is shutting down")
	}
	b.state = StateConnecting
	b.mu.Unlock()

	var session stt.SessionHandle
	err := b.breaker.Do(func() error {
		var err error
		session, err = b.provider.StartStream(ctx, b.streamCfg)
		return err
	})
	if err != nil {
		b.mu.Lock()
		b.state = StateIdle
		b.mu.Unlock()
		if b.tracker != nil {
			b.tracker.RecordFailure(opSTTOpen, err)
		}
		return nil, fmt.Errorf("open stt stream: %w", err)
	}
	if b.tracker != nil {
		b.tracker.RecordSuccess(opSTTOpen)
	}

	segmentID := uuid.NewString()
	b.mu.Lock()
	b.session = session
	b.segmentID = segmentID
	b.state = StateConnected
	b.mu.Unlock()

	b.log.Info("stt stream opened", "audioSegmentId", segmentID)
	go b.pump(session, segmentID)
	return session, nil
}

// pump forwards transcripts from the session channels to the handlers until
// the provider closes them.
func (b *Bridge) pump(session stt.SessionHandle, segmentID string) {
	partials := session.Partials()
	finals := session.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			b.deliver(t, segmentID)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			b.deliver(t, segmentID)
		}
	}
	b.sessionClosed(session)
}

// deliver stamps the segment id onto t and fans it out. Empty transcripts
// are dropped.
func (b *Bridge) deliver(t types.Transcript, segmentID string) {
	if strings.TrimSpace(t.Text) == "" {
		return
	}
	t.AudioSegmentID = segmentID

	b.mu.Lock()
	var handlers []TranscriptHandler
	if t.IsPartial {
		handlers = append(handlers, b.onPartial...)
	} else {
		handlers = append(handlers, b.onFinal...)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(t)
	}
}

// sessionClosed records that the provider ended the stream. The next inbound
// frame re-enters CONNECTING.
func (b *Bridge) sessionClosed(session stt.SessionHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != session {
		return
	}
	b.session = nil
	if b.state == StateClosing {
		b.state = StateClosed
	} else {
		b.log.Info("stt stream closed by provider")
		b.state = StateIdle
	}
}

// Close shuts the live STT session down. The bridge can be reused afterwards;
// the next frame opens a fresh session.
func (b *Bridge) Close() error {
	b.mu.Lock()
	session := b.session
	if session == nil {
		b.mu.Unlock()
		return nil
	}
	b.state = StateClosing
	b.mu.Unlock()

	err := session.Close()

	b.mu.Lock()
	if b.state == StateClosing {
		b.state = StateClosed
	}
	b.session = nil
	b.mu.Unlock()
	return err
}

// enqueue parks a frame on the bounded retry queue, dropping the oldest on
// overflow with one queue_overflow warning per burst.
func (b *Bridge) enqueue(data []byte) {
	b.mu.Lock()
	dropped := false
	if len(b.queue) >= b.queueCap {
		b.queue = b.queue[1:]
		dropped = true
	}
	b.queue = append(b.queue, queuedFrame{data: data})
	warnNow := dropped && !b.overflow
	if dropped {
		b.overflow = true
	}
	b.mu.Unlock()

	if warnNow {
		b.warn(types.Warning{
			Operation: "queue_overflow",
			Message:   fmt.Sprintf("stt retry queue full (%d), dropping oldest frames", b.queueCap),
			Timestamp: time.Now(),
		})
	}

	select {
	case b.wake <- struct{}{}:
	default:
	}
}
