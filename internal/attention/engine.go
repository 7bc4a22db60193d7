// Package attention classifies final transcripts as directed at the listener
// or not. Detection is layered: exact and fuzzy keyword matching, regex
// question and direct-address patterns, a soft-signal score, and finally an
// optional LLM consultation for transcripts the rules cannot decide.
package attention

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/types"
)

const (
	// DefaultUncertaintyThreshold is the rule-confidence floor below which the
	// LLM is consulted.
	DefaultUncertaintyThreshold = 0.5

	// DefaultLLMTimeout bounds a single LLM consultation.
	DefaultLLMTimeout = 10 * time.Second

	// fuzzyThreshold is the minimum Jaro-Winkler similarity for a word to
	// count as a keyword match.
	fuzzyThreshold = 0.92

	// contextWindow is how many recent final transcripts are retained for the
	// LLM prompt; promptContext of those are actually sent.
	contextWindow = 10
	promptContext = 5

	keywordConfidence = 0.95
	patternConfidence = 0.7
)

// Option configures an [Engine].
type Option func(*Engine)

// WithClassifier attaches the LLM used for uncertain transcripts.
func WithClassifier(c llm.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithTracker attaches the failure tracker that records llm_fallback events.
func WithTracker(t *resilience.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// WithLLMTimeout overrides the per-consultation deadline.
func WithLLMTimeout(d time.Duration) Option {
	return func(e *Engine) { e.llmTimeout = d }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// Engine decides whether speech is directed at the listener. Safe for
// concurrent use.
type Engine struct {
	mu                   sync.RWMutex
	keywords             []string
	userName             string
	questionPatterns     []*regexp.Regexp
	addressPatterns      []*regexp.Regexp
	uncertaintyThreshold float64
	llmEnabled           bool
	recent               []string

	classifier llm.Classifier
	tracker    *resilience.Tracker
	llmTimeout time.Duration
	log        *slog.Logger
}

// New creates an Engine seeded with the given attention keywords.
func New(keywords []string, opts ...Option) *Engine {
	e := &Engine{
		questionPatterns:     clonePatterns(defaultQuestionPatterns),
		addressPatterns:      clonePatterns(defaultAddressPatterns),
		uncertaintyThreshold: DefaultUncertaintyThreshold,
		llmTimeout:           DefaultLLMTimeout,
		log:                  slog.Default(),
	}
	for _, kw := range keywords {
		e.addKeywordLocked(kw)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze classifies a final transcript at the given sensitivity. Partial
// transcripts are never analyzed and yield an IGNORE verdict. Analyze never
// returns an error: a failing or unreachable LLM degrades to the rule-based
// result.
func (e *Engine) Analyze(ctx context.Context, t types.Transcript, sensitivity float64) types.AttentionVerdict {
	if t.IsPartial {
		return types.AttentionVerdict{Kind: types.AttentionIgnore, Confidence: 1, Reason: "partial transcript"}
	}

	text := strings.ToLower(strings.TrimSpace(t.Text))
	verdict := e.classify(ctx, t.Text, text, sensitivity)
	e.remember(t.Text)
	return verdict
}

func (e *Engine) classify(ctx context.Context, original, text string, sensitivity float64) types.AttentionVerdict {
	if matched := e.matchKeywords(text); len(matched) > 0 {
		return types.AttentionVerdict{
			Kind:            types.AttentionDefinitely,
			Confidence:      keywordConfidence,
			MatchedKeywords: matched,
			Reason:          "attention keyword",
		}
	}

	if matched := e.matchPatterns(text); len(matched) > 0 {
		return types.AttentionVerdict{
			Kind:            types.AttentionProbably,
			Confidence:      patternConfidence,
			MatchedPatterns: matched,
			Reason:          "question or direct-address pattern",
		}
	}

	ruleConfidence := softSignalConfidence(original, text)

	e.mu.RLock()
	consult := ruleConfidence < e.uncertaintyThreshold && e.llmEnabled && e.classifier != nil
	e.mu.RUnlock()

	ignore := types.AttentionVerdict{
		Kind:       types.AttentionIgnore,
		Confidence: 1 - ruleConfidence,
		Reason:     "no attention indicators",
	}
	if !consult {
		return ignore
	}

	verdict, ok := e.consultLLM(ctx, original, sensitivity)
	if !ok {
		return ignore
	}
	return verdict
}

// matchKeywords returns the configured keywords (and user name) found in
// text, by substring or by fuzzy per-word comparison.
func (e *Engine) matchKeywords(text string) []string {
	e.mu.RLock()
	keywords := slices.Clone(e.keywords)
	if e.userName != "" {
		keywords = append(keywords, strings.ToLower(e.userName))
	}
	e.mu.RUnlock()

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})

	var matched []string
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matched = append(matched, kw)
			continue
		}
		// Multi-word keywords only match as substrings.
		if strings.ContainsRune(kw, ' ') {
			continue
		}
		for _, w := range words {
			if matchr.JaroWinkler(w, kw, true) >= fuzzyThreshold {
				matched = append(matched, kw)
				break
			}
		}
	}
	return matched
}

func (e *Engine) matchPatterns(text string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var matched []string
	for _, p := range e.questionPatterns {
		if p.MatchString(text) {
			matched = append(matched, p.String())
		}
	}
	for _, p := range e.addressPatterns {
		if p.MatchString(text) {
			matched = append(matched, p.String())
		}
	}
	return matched
}

// softSignalConfidence scores weak directedness hints. original keeps its
// casing for the uppercase-start signal; text is the lowercased form.
func softSignalConfidence(original, text string) float64 {
	var c float64
	if strings.Contains(text, "?") {
		c += 0.2
	}
	if containsWord(text, "you") {
		c += 0.15
	}
	if containsWord(text, "your") {
		c += 0.1
	}
	if len(text) < 50 {
		c += 0.1
	}
	trimmed := strings.TrimSpace(original)
	if trimmed != "" && unicode.IsUpper([]rune(trimmed)[0]) {
		c += 0.05
	}
	return min(c, 1)
}

func containsWord(text, word string) bool {
	for w := range strings.FieldsSeq(text) {
		if strings.Trim(w, ".,!?;:'\"") == word {
			return true
		}
	}
	return false
}

// consultLLM asks the classifier whether text is directed at the listener and
// maps its confidence, scaled by sensitivity, onto a verdict. The second
// return is false when the consultation failed and the caller must fall back.
func (e *Engine) consultLLM(ctx context.Context, text string, sensitivity float64) (types.AttentionVerdict, bool) {
	e.mu.RLock()
	classifier := e.classifier
	userName := e.userName
	recent := e.recent
	if len(recent) > promptContext {
		recent = recent[len(recent)-promptContext:]
	}
	recent = slices.Clone(recent)
	e.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	decision, err := classifier.Classify(ctx, llm.Request{
		Text:     text,
		Context:  recent,
		UserName: userName,
	})
	if err != nil {
		e.log.Warn("llm consultation failed, falling back to rules", "error", err)
		if e.tracker != nil {
			e.tracker.RecordFailure("llm_fallback", err)
		}
		return types.AttentionVerdict{}, false
	}
	if e.tracker != nil {
		e.tracker.RecordSuccess("llm_fallback")
	}

	adjusted := decision.Confidence * sensitivity
	kind := types.AttentionIgnore
	switch {
	case adjusted >= 0.8:
		kind = types.AttentionDefinitely
	case adjusted >= 0.5:
		kind = types.AttentionProbably
	}
	return types.AttentionVerdict{
		Kind:         kind,
		Confidence:   adjusted,
		LLMConsulted: true,
		Reason:       decision.Reason,
	}, true
}

// remember appends a final transcript to the sliding context window.
func (e *Engine) remember(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	e.mu.Lock()
	e.recent = append(e.recent, text)
	if len(e.recent) > contextWindow {
		e.recent = e.recent[len(e.recent)-contextWindow:]
	}
	e.mu.Unlock()
}

// AddKeyword registers an attention keyword. Keywords are lowercased, trimmed
// and deduplicated.
func (e *Engine) AddKeyword(kw string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addKeywordLocked(kw)
}

func (e *Engine) addKeywordLocked(kw string) {
	kw = strings.ToLower(strings.TrimSpace(kw))
	if kw == "" || slices.Contains(e.keywords, kw) {
		return
	}
	e.keywords = append(e.keywords, kw)
}

// RemoveKeyword deletes a keyword and reports whether it was present.
func (e *Engine) RemoveKeyword(kw string) bool {
	kw = strings.ToLower(strings.TrimSpace(kw))
	e.mu.Lock()
	defer e.mu.Unlock()
	i := slices.Index(e.keywords, kw)
	if i < 0 {
		return false
	}
	e.keywords = slices.Delete(e.keywords, i, i+1)
	return true
}

// SetKeywords replaces the keyword set.
func (e *Engine) SetKeywords(kws []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keywords = nil
	for _, kw := range kws {
		e.addKeywordLocked(kw)
	}
}

// Keywords returns the current keyword set.
func (e *Engine) Keywords() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.keywords)
}

// SetUserName sets the listener's name, which acts as an extra keyword.
func (e *Engine) SetUserName(name string) {
	e.mu.Lock()
	e.userName = strings.TrimSpace(name)
	e.mu.Unlock()
}

// AddQuestionPattern registers an additional question regex.
func (e *Engine) AddQuestionPattern(p *regexp.Regexp) {
	e.mu.Lock()
	e.questionPatterns = append(e.questionPatterns, p)
	e.mu.Unlock()
}

// AddDirectAddressPattern registers an additional direct-address regex.
func (e *Engine) AddDirectAddressPattern(p *regexp.Regexp) {
	e.mu.Lock()
	e.addressPatterns = append(e.addressPatterns, p)
	e.mu.Unlock()
}

// SetUncertaintyThreshold changes the rule-confidence floor for LLM
// consultation.
func (e *Engine) SetUncertaintyThreshold(v float64) {
	e.mu.Lock()
	e.uncertaintyThreshold = v
	e.mu.Unlock()
}

// EnableLLM turns the LLM fallback on.
func (e *Engine) EnableLLM() { e.setLLMEnabled(true) }

// DisableLLM turns the LLM fallback off.
func (e *Engine) DisableLLM() { e.setLLMEnabled(false) }

func (e *Engine) setLLMEnabled(v bool) {
	e.mu.Lock()
	e.llmEnabled = v
	e.mu.Unlock()
}
