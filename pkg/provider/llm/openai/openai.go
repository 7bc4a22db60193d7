// Package openai provides an llm.Classifier backed by the OpenAI Chat
// Completions API (or any OpenAI-compatible endpoint via WithBaseURL).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/earshot/pkg/provider/llm"
)

// DefaultModel is the default chat model for attention classification. A
// small model is plenty — the question is a binary one with short context.
const DefaultModel = "gpt-4o-mini"

var _ llm.Classifier = (*Classifier)(nil)

// Classifier implements llm.Classifier using the OpenAI API.
type Classifier struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the classifier.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Classifier.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, allowing any
// OpenAI-compatible server to be used.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI-backed Classifier. If model is empty,
// DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Classifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Classifier{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Classify implements llm.Classifier.
func (c *Classifier) Classify(ctx context.Context, req llm.Request) (llm.Decision, error) {
	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(llm.BuildPrompt(req)),
		},
		Temperature:         param.NewOpt(0.1),
		MaxCompletionTokens: param.NewOpt(int64(100)),
	})
	if err != nil {
		return llm.Decision{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Decision{}, fmt.Errorf("openai: empty choices in response")
	}

	d, _ := llm.ParseDecision(resp.Choices[0].Message.Content)
	return d, nil
}

// Model returns the configured model name.
func (c *Classifier) Model() string { return c.model }
