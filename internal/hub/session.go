package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/pkg/types"
)

// session is one connected client. The receive loop is the only producer of
// the audio buffer; a dedicated forwarder is its only consumer.
type session struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	send  chan []byte
	audio chan types.AudioFrame

	lastSeen  atomic.Int64 // unix millis of the last inbound message
	done      chan struct{}
	closeOnce sync.Once

	// audioOverflow tracks a running drop burst. Touched only by the receive
	// loop.
	audioOverflow bool

	// sendOverflow tracks a running outbound drop burst. Atomic because
	// enqueue is called from broadcast goroutines and the receive loop.
	sendOverflow atomic.Bool

	log *slog.Logger
}

func (h *Hub) newSession(id string, conn *websocket.Conn) *session {
	s := &session{
		id:    id,
		conn:  conn,
		hub:   h,
		send:  make(chan []byte, h.sendQueueSize),
		audio: make(chan types.AudioFrame, h.audioBufferSize),
		done:  make(chan struct{}),
		log:   h.log.With("clientId", id),
	}
	s.lastSeen.Store(nowMillis())
	return s
}

// enqueue puts an outbound message on the send queue. Delivery is
// best-effort: a peer too slow to drain its queue loses messages, never the
// session. Truly dead peers are caught by the heartbeat sweep. Drops warn
// once per burst; the flag also stops the warning broadcast from re-entering
// a queue that is still full.
func (s *session) enqueue(msg []byte) {
	select {
	case <-s.done:
	case s.send <- msg:
		s.sendOverflow.Store(false)
	default:
		if s.sendOverflow.CompareAndSwap(false, true) {
			s.log.Warn("send queue full, dropping outbound messages")
			s.hub.emitWarning(types.Warning{
				Operation: "send_queue_overflow",
				Message:   "send queue full for client " + s.id + ", dropping outbound messages",
				Timestamp: time.Now(),
			})
		}
	}
}

// readLoop consumes inbound frames until the connection dies. Binary frames
// become audio; text frames are parsed as control messages.
func (s *session) readLoop(ctx context.Context) {
	defer close(s.audio)
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			s.log.Debug("connection read ended", "error", err)
			s.terminate("read error")
			return
		}
		s.lastSeen.Store(nowMillis())

		switch typ {
		case websocket.MessageBinary:
			s.bufferFrame(types.AudioFrame{
				Data:       data,
				ClientID:   s.id,
				ReceivedAt: time.Now(),
			})
		case websocket.MessageText:
			s.handleControl(data)
		}
	}
}

// bufferFrame appends to the bounded audio buffer, dropping the oldest frame
// on overflow and warning once per burst.
func (s *session) bufferFrame(frame types.AudioFrame) {
	for {
		select {
		case s.audio <- frame:
			if s.audioOverflow {
				s.audioOverflow = false
			}
			return
		default:
		}
		// Full: drop the oldest and retry.
		select {
		case <-s.audio:
			if !s.audioOverflow {
				s.audioOverflow = true
				s.log.Warn("audio buffer full, dropping oldest frames")
				s.hub.emitWarning(types.Warning{
					Operation: "audio_buffer_overflow",
					Message:   "audio buffer full for client " + s.id + ", dropping oldest frames",
					Timestamp: time.Now(),
				})
			}
		default:
		}
	}
}

// handleControl parses one inbound JSON message. Malformed or unknown
// messages are logged and dropped; the session is preserved.
func (s *session) handleControl(data []byte) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("malformed control message dropped", "error", err)
		return
	}

	switch msg.Type {
	case msgHeartbeat:
		if reply, err := heartbeatMessage(); err == nil {
			s.enqueue(reply)
		}
	case msgConfig:
		s.hub.emitClientConfig(s.id, msg.Payload)
	default:
		s.log.Warn("unknown message type dropped", "type", msg.Type)
	}
}

// writeLoop serialises all outbound traffic for this session, preserving
// enqueue order.
func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg := <-s.send:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := s.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				s.log.Debug("connection write failed", "error", err)
				s.terminate("write error")
				return
			}
		}
	}
}

// forwardAudio moves frames from the session buffer into the hub's pipeline
// channel until the receive loop closes the buffer.
func (s *session) forwardAudio() {
	for frame := range s.audio {
		s.hub.frames <- frame
	}
}

// stale reports whether the peer has been silent longer than timeout.
func (s *session) stale(timeout time.Duration) bool {
	return nowMillis()-s.lastSeen.Load() > timeout.Milliseconds()
}

// terminate tears the session down exactly once: the socket is closed, the
// registry entry removed and one disconnected event fired.
func (s *session) terminate(reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close(websocket.StatusNormalClosure, reason)
		s.hub.removeSession(s.id)
		s.log.Info("session terminated", "reason", reason)
	})
}
