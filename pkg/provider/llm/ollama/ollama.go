// Package ollama provides an llm.Classifier backed by an Ollama-compatible
// /api/generate endpoint running on the listener's machine.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/earshot/pkg/provider/llm"
)

const (
	defaultEndpoint = "http://localhost:11434"
	defaultModel    = "llama3.2:1b"

	// The classifier asks one narrow question; keep decoding near-greedy and
	// the answer short.
	temperature = 0.1
	numPredict  = 100
)

// Option is a functional option for configuring the Classifier.
type Option func(*Classifier)

// WithModel selects the model name passed to the endpoint.
func WithModel(model string) Option {
	return func(c *Classifier) { c.model = model }
}

// WithHTTPClient replaces the HTTP client. Useful for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Classifier) { c.http = hc }
}

// Classifier implements llm.Classifier against an Ollama-style server.
type Classifier struct {
	endpoint string
	model    string
	http     *http.Client
}

// New creates a Classifier for the server at endpoint (e.g.
// "http://localhost:11434"). An empty endpoint selects the local default.
func New(endpoint string, opts ...Option) *Classifier {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	c := &Classifier{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    defaultModel,
		http:     &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// generateResponse is the subset of the Ollama response body we rely on.
type generateResponse struct {
	Response string `json:"response"`
}

// Classify sends the prompt to the model and parses the decision out of the
// response text. Transport and HTTP-status failures are returned as errors;
// unparseable model output is not an error — it degrades to the zero
// decision per the llm.ParseDecision contract.
func (c *Classifier) Classify(ctx context.Context, req llm.Request) (llm.Decision, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: llm.BuildPrompt(req),
		Stream: false,
		Options: generateOptions{
			Temperature: temperature,
			NumPredict:  numPredict,
		},
	})
	if err != nil {
		return llm.Decision{}, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return llm.Decision{}, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return llm.Decision{}, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return llm.Decision{}, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, bytes.TrimSpace(slurp))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return llm.Decision{}, fmt.Errorf("ollama: decode response: %w", err)
	}
	if gr.Response == "" {
		return llm.Decision{}, errors.New("ollama: empty response")
	}

	d, _ := llm.ParseDecision(gr.Response)
	return d, nil
}

// Model returns the configured model name.
func (c *Classifier) Model() string { return c.model }

var _ llm.Classifier = (*Classifier)(nil)
