// Package anyllm provides a word-definition fallback backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more. It lets the fallback definer run against whichever LLM vendor the
// deployment has credentials for.
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/lingoloop/lingoloop/pkg/provider/genai"
)

var _ genai.Definer = (*Definer)(nil)

const systemPrompt = `You are a dictionary for language learners. Answer with a
single JSON object with keys "word", "definition", "example", and "phonetic"
(IPA, empty string if unknown). Keep the definition concise and suited to the
word's meaning in the given sentence.`

// Definer implements genai.Definer by wrapping any-llm-go.
type Definer struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Definer backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq". opts are any-llm-go configuration options
// (e.g. anyllmlib.WithAPIKey, anyllmlib.WithBaseURL). Without an API key
// option the backend falls back to its usual environment variable.
func New(providerName string, model string, opts ...anyllmlib.Option) (*Definer, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Definer{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq", providerName)
	}
}

// Define implements genai.Definer.
func (d *Definer) Define(ctx context.Context, word, sentence string) (*genai.WordDefinition, error) {
	params := anyllmlib.CompletionParams{
		Model: d.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: fmt.Sprintf("Define %q as used in: %q", word, sentence)},
		},
	}

	resp, err := d.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, genai.ErrEmptyResponse
	}

	var def genai.WordDefinition
	raw := genai.StripCodeFence(resp.Choices[0].Message.ContentString())
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return nil, &genai.FormatError{Op: "define", Err: err}
	}
	if def.Word == "" {
		def.Word = word
	}
	return &def, nil
}
