// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g. Deepgram) and
// exposes a uniform streaming interface. The central abstraction is
// [SessionHandle]: once opened, a session accepts raw PCM audio frames and
// emits two streams of [types.Transcript] values — low-latency partials for
// client display and authoritative finals for the attention engine.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/earshot/pkg/types"
)

// ErrSessionClosed is returned by [SessionHandle.SendAudio] after the session
// has been closed.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format for a new STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Earshot clients stream 16000.
	SampleRate int

	// Channels is the number of audio channels; 1 for the Earshot pipeline.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	// Empty lets the provider use its default.
	Language string
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without a live provider
// connection.
//
// Callers must call Close when the session is no longer needed; failing to do
// so may leak goroutines and network connections inside the implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM bytes to the provider. The chunk
	// must match the format agreed in StreamConfig. Calling SendAudio after
	// Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel of interim transcripts. These are
	// forwarded to clients for display but never analysed. The channel is
	// closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals returns a read-only channel of authoritative transcripts — the
	// values that feed the attention engine. The channel is closed when the
	// session ends.
	Finals() <-chan types.Transcript

	// Close terminates the session, flushes pending audio, and releases all
	// resources. After Close returns, the Partials and Finals channels are
	// closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
//
// Implementations must be safe for concurrent use, although the Earshot
// bridge keeps at most one session open per listener at a time.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, unreachable service, or ctx already cancelled). The caller owns
	// the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
