// Package types defines the shared types used across all Earshot packages.
//
// These types form the lingua franca between the connection hub, the voice
// filter, the transcription bridge, the attention engine, and the dispatcher.
// They are intentionally minimal — each package defines its own domain types,
// but cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// AudioFrame is a single frame of microphone audio flowing through the
// pipeline: mono linear PCM, 16-bit little-endian, 16 kHz, typically
// 20–100 ms long. Frames are immutable once they enter the pipeline.
type AudioFrame struct {
	// Data is the raw PCM payload (16-bit LE samples).
	Data []byte

	// ClientID identifies the session the frame arrived on.
	ClientID string

	// ReceivedAt marks when the frame arrived at the server.
	ReceivedAt time.Time
}

// SampleCount returns the number of 16-bit samples in the frame.
func (f AudioFrame) SampleCount() int { return len(f.Data) / 2 }

// Transcript is a speech-to-text result. Partial transcripts are forwarded
// to clients for display but never feed the attention engine; only finals do.
type Transcript struct {
	// ID uniquely identifies this transcript.
	ID string `json:"id"`

	// Text is the transcribed speech content.
	Text string `json:"text"`

	// Confidence is the recognition confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Timestamp marks when the transcript was produced.
	Timestamp time.Time `json:"timestamp"`

	// IsPartial is true for interim results that may still change.
	IsPartial bool `json:"isPartial"`

	// AudioSegmentID ties the transcript to the STT session that was open for
	// the current speech burst. A fresh segment ID is minted per session open.
	AudioSegmentID string `json:"audioSegmentId"`
}

// AttentionKind classifies whether a final transcript is directed at the
// listener.
type AttentionKind string

const (
	// AttentionIgnore marks speech that is not directed at the listener.
	AttentionIgnore AttentionKind = "IGNORE"

	// AttentionProbably marks speech that is probably directed at the listener.
	AttentionProbably AttentionKind = "PROBABLY_TO_ME"

	// AttentionDefinitely marks speech that is definitely directed at the
	// listener.
	AttentionDefinitely AttentionKind = "DEFINITELY_TO_ME"
)

// AttentionVerdict is the attention engine's classification of one final
// transcript, with an explanation of how the decision was reached.
type AttentionVerdict struct {
	// Kind is the classification.
	Kind AttentionKind

	// Confidence is the engine's confidence in the classification, in [0, 1].
	Confidence float64

	// MatchedKeywords lists the configured keywords (or the user name) found
	// in the text, when Kind was decided by keyword match.
	MatchedKeywords []string

	// MatchedPatterns names the question / direct-address patterns that fired,
	// when Kind was decided by pattern match.
	MatchedPatterns []string

	// LLMConsulted is true when the LLM fallback contributed to the verdict.
	LLMConsulted bool

	// Reason is a short human-readable explanation (LLM-provided when
	// LLMConsulted is true).
	Reason string
}

// VolumeCommandKind enumerates the volume actions sent to clients.
type VolumeCommandKind string

const (
	// VolumeDim asks the client to lower playback volume.
	VolumeDim VolumeCommandKind = "LOWER_VOLUME"

	// VolumeRestore asks the client to return playback volume to its prior level.
	VolumeRestore VolumeCommandKind = "RESTORE_VOLUME"
)

// VolumeCommand is a volume-control instruction emitted by the dispatcher and
// broadcast to every connected client.
type VolumeCommand struct {
	// Type is the action to perform.
	Type VolumeCommandKind `json:"type"`

	// Timestamp is when the command was emitted.
	Timestamp time.Time `json:"timestamp"`

	// TriggerReason is the attention verdict kind that caused the command.
	// Auto-restore after silence carries AttentionIgnore.
	TriggerReason AttentionKind `json:"triggerReason"`

	// Confidence is the confidence of the triggering verdict, in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Warning is an asynchronous health signal raised by the resilience layer
// when an operation keeps failing. Warnings surface over the control API and
// never interrupt the pipeline.
type Warning struct {
	// Operation names the failing operation (e.g. "stt_send", "llm_classify").
	Operation string `json:"operation"`

	// Count is the failure count at the time the warning was raised.
	Count int `json:"count"`

	// Message describes the most recent failure.
	Message string `json:"message"`

	// Timestamp is when the warning was raised.
	Timestamp time.Time `json:"timestamp"`
}
