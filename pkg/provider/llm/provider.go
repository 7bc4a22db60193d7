// Package llm defines the Classifier interface for the attention engine's
// LLM fallback.
//
// A classifier wraps a local or remote language model endpoint and answers a
// single narrow question: is this utterance directed at the listener? The
// model is asked for a strict JSON object; because small local models are
// unreliable JSON emitters, [ParseDecision] accepts any response that merely
// contains such an object and degrades gracefully when it does not.
//
// Implementations must be safe for concurrent use and must honour the
// deadline on the supplied context.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Request carries one utterance to classify plus its conversational context.
type Request struct {
	// Text is the final transcript text to classify.
	Text string

	// Context holds the most recent final transcripts (oldest first), used to
	// ground the model's judgement. At most a handful of entries.
	Context []string

	// UserName is the listener's name, when configured. Empty otherwise.
	UserName string
}

// Decision is the model's answer.
type Decision struct {
	// Directed reports whether the model believes the utterance addresses the
	// listener.
	Directed bool `json:"directed"`

	// Confidence is the model's self-reported confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Reason is a short model-provided explanation.
	Reason string `json:"reason"`
}

// Classifier is the abstraction over any LLM backend capable of answering
// the directed-speech question.
type Classifier interface {
	// Classify asks the model whether req.Text is directed at the listener.
	// Implementations never panic on malformed model output; they return the
	// permissive-parse result instead. Errors indicate transport problems
	// (unreachable endpoint, timeout), and the caller falls back to its
	// rule-based verdict.
	Classify(ctx context.Context, req Request) (Decision, error)
}

// BuildPrompt renders the classification prompt shared by all backends.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You decide whether speech overheard near a headphone wearer is directed at them.\n")
	if req.UserName != "" {
		fmt.Fprintf(&b, "The wearer's name is %q.\n", req.UserName)
	}
	if len(req.Context) > 0 {
		b.WriteString("Recent speech, oldest first:\n")
		for _, line := range req.Context {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	fmt.Fprintf(&b, "Utterance: %q\n", req.Text)
	b.WriteString(`Answer with only a JSON object: {"directed": bool, "confidence": number 0..1, "reason": string}`)
	return b.String()
}

// jsonObjectRe finds a flat JSON object embedded in surrounding prose.
var jsonObjectRe = regexp.MustCompile(`\{[^{}]*\}`)

// ParseDecision extracts a [Decision] from a raw model response. It first
// tries the whole string as JSON, then the first embedded JSON object.
// Unparseable responses yield a zero decision with reason "could not parse"
// and ok=false.
func ParseDecision(raw string) (Decision, bool) {
	raw = strings.TrimSpace(raw)

	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err == nil {
		return clampDecision(d), true
	}

	if m := jsonObjectRe.FindString(raw); m != "" {
		if err := json.Unmarshal([]byte(m), &d); err == nil {
			return clampDecision(d), true
		}
	}

	return Decision{Directed: false, Confidence: 0, Reason: "could not parse"}, false
}

// clampDecision forces Confidence into [0, 1].
func clampDecision(d Decision) Decision {
	if d.Confidence < 0 {
		d.Confidence = 0
	} else if d.Confidence > 1 {
		d.Confidence = 1
	}
	return d
}
