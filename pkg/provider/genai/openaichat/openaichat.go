// Package openaichat provides a word-definition fallback backed by the
// OpenAI chat completions API. It serves only the text-only Define
// operation; audio-capable operations stay with the primary provider.
package openaichat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/lingoloop/lingoloop/pkg/provider/genai"
)

var _ genai.Definer = (*Definer)(nil)

const defaultModel = "gpt-4o-mini"

const systemPrompt = `You are a dictionary for language learners. Answer with a
single JSON object with keys "word", "definition", "example", and "phonetic"
(IPA, empty string if unknown). Keep the definition concise and suited to the
word's meaning in the given sentence.`

// config holds optional configuration for the Definer.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Definer.
type Option func(*config)

// WithModel overrides the default chat model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Definer implements genai.Definer using OpenAI chat completions in JSON
// mode.
type Definer struct {
	client oai.Client
	model  string
}

// New constructs a Definer. An empty API key returns
// [genai.ErrMissingCredential] so callers can distinguish "fallback not
// configured" from a hard failure.
func New(apiKey string, opts ...Option) (*Definer, error) {
	if apiKey == "" {
		return nil, genai.ErrMissingCredential
	}

	cfg := &config{model: defaultModel}
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

	client := oai.NewClient(reqOpts...)
	return &Definer{client: client, model: cfg.model}, nil
}

// Define implements genai.Definer.
func (d *Definer) Define(ctx context.Context, word, sentence string) (*genai.WordDefinition, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(d.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(fmt.Sprintf("Define %q as used in: %q", word, sentence)),
		},
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	resp, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openaichat: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, genai.ErrEmptyResponse
	}

	var def genai.WordDefinition
	raw := genai.StripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return nil, &genai.FormatError{Op: "define", Err: err}
	}
	if def.Word == "" {
		def.Word = word
	}
	return &def, nil
}
