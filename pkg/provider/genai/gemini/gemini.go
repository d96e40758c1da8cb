// Package gemini implements the genai.Provider and genai.Definer
// interfaces against Google's Gemini generateContent REST API.
//
// Audio is transmitted as base64-encoded inline data; structured replies
// are constrained with a response schema and parsed after stripping any
// markdown code fence the model wraps around them. Speech synthesis uses a
// separate audio-modality model and returns raw PCM (s16le, mono,
// 24 000 Hz) decoded from the response's inline data.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lingoloop/lingoloop/pkg/provider/genai"
)

// Compile-time assertions.
var (
	_ genai.Provider = (*Client)(nil)
	_ genai.Definer  = (*Client)(nil)
)

const (
	defaultModel    = "gemini-2.5-flash"
	defaultTTSModel = "gemini-2.5-flash-preview-tts"
	defaultBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	defaultVoice    = "Kore"

	defaultTimeout = 2 * time.Minute
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model used for transcription, scoring, and
// definitions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithTTSModel sets the audio-modality model used for speech synthesis.
func WithTTSModel(model string) Option {
	return func(c *Client) { c.ttsModel = model }
}

// WithVoice sets the prebuilt voice used for speech synthesis.
func WithVoice(voice string) Option {
	return func(c *Client) { c.voice = voice }
}

// WithBaseURL overrides the API base URL. Primarily used in tests to point
// at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client talks to the Gemini generateContent API. Safe for concurrent use.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client

	// mu guards the synthesis settings, which can be swapped at runtime via
	// [Client.SetSynthesisVoice] on a config reload.
	mu       sync.RWMutex
	ttsModel string
	voice    string
}

// New creates a Client with the given API key and options. An empty key is
// a configuration error surfaced immediately.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, genai.ErrMissingCredential
	}
	c := &Client{
		apiKey:     apiKey,
		model:      defaultModel,
		ttsModel:   defaultTTSModel,
		voice:      defaultVoice,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ── Protocol message types ─────────────────────────────────────────────────────

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type generationConfig struct {
	ResponseMIMEType   string         `json:"responseMimeType,omitempty"`
	ResponseSchema     map[string]any `json:"responseSchema,omitempty"`
	ResponseModalities []string       `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig  `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content content `json:"content"`
}

// ── Prompts and response schemas ───────────────────────────────────────────────

const transcribePrompt = `Transcribe this audio into segments. For each segment
provide the start and end time in seconds, the transcribed text, an English
translation, and a natural idiomatic rephrasing of the text. Also report the
detected language and overall metadata: total word count, estimated CEFR
level, and speaking speed (slow, normal, or fast).`

const scorePromptFormat = `The attached recording is a language learner reading
this reference sentence aloud: %q. Grade the pronunciation from 0 to 100,
give one sentence of feedback, classify the accuracy as good, average, or
poor, and report the text you actually heard as "recognized".`

const definePromptFormat = `Define the word %q as used in this sentence: %q.
Provide a concise definition, one example sentence, and the IPA phonetic
transcription if known.`

var transcriptionSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"language": map[string]any{"type": "STRING"},
		"meta": map[string]any{
			"type": "OBJECT",
			"properties": map[string]any{
				"wordCount":      map[string]any{"type": "INTEGER"},
				"estimatedLevel": map[string]any{"type": "STRING"},
				"speed":          map[string]any{"type": "STRING"},
			},
			"required": []string{"wordCount", "estimatedLevel", "speed"},
		},
		"segments": map[string]any{
			"type": "ARRAY",
			"items": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"start":       map[string]any{"type": "NUMBER"},
					"end":         map[string]any{"type": "NUMBER"},
					"text":        map[string]any{"type": "STRING"},
					"translation": map[string]any{"type": "STRING"},
					"idiomatic":   map[string]any{"type": "STRING"},
				},
				"required": []string{"start", "end", "text", "translation", "idiomatic"},
			},
		},
	},
	"required": []string{"language", "meta", "segments"},
}

var scoreSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"score":    map[string]any{"type": "INTEGER"},
		"feedback": map[string]any{"type": "STRING"},
		"accuracy": map[string]any{
			"type": "STRING",
			"enum": []string{"good", "average", "poor"},
		},
		"recognized": map[string]any{"type": "STRING"},
	},
	"required": []string{"score", "feedback", "accuracy"},
}

var defineSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"word":       map[string]any{"type": "STRING"},
		"definition": map[string]any{"type": "STRING"},
		"example":    map[string]any{"type": "STRING"},
		"phonetic":   map[string]any{"type": "STRING"},
	},
	"required": []string{"word", "definition", "example"},
}

// ── Operations ─────────────────────────────────────────────────────────────────

// Transcribe implements genai.Provider.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (*genai.TranscriptionResult, error) {
	req := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: transcribePrompt},
				{InlineData: &inlineData{
					MIMEType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(audio),
				}},
			},
		}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   transcriptionSchema,
		},
	}

	text, err := c.generateText(ctx, c.model, req)
	if err != nil {
		return nil, fmt.Errorf("gemini: transcribe: %w", err)
	}

	var result genai.TranscriptionResult
	if err := json.Unmarshal([]byte(genai.StripCodeFence(text)), &result); err != nil {
		return nil, &genai.FormatError{Op: "transcribe", Err: err}
	}
	return &result, nil
}

// SetSynthesisVoice swaps the TTS model and voice used for subsequent
// synthesis calls. Empty arguments keep the current values.
func (c *Client) SetSynthesisVoice(ttsModel, voice string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttsModel != "" {
		c.ttsModel = ttsModel
	}
	if voice != "" {
		c.voice = voice
	}
}

// SynthesizeSpeech implements genai.Provider. The returned bytes are raw
// PCM: s16le, mono, 24 000 Hz.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	c.mu.RLock()
	ttsModel, voice := c.ttsModel, c.voice
	c.mu.RUnlock()

	req := generateRequest{
		Contents: []content{{
			Parts: []part{{Text: text}},
		}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	}

	resp, err := c.generate(ctx, ttsModel, req)
	if err != nil {
		return nil, fmt.Errorf("gemini: synthesize: %w", err)
	}

	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, &genai.FormatError{Op: "synthesize", Err: err}
			}
			return pcm, nil
		}
	}
	return nil, genai.ErrNoAudio
}

// ScorePronunciation implements genai.Provider.
func (c *Client) ScorePronunciation(ctx context.Context, audio []byte, mimeType, referenceText string) (*genai.PronunciationScore, error) {
	req := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: fmt.Sprintf(scorePromptFormat, referenceText)},
				{InlineData: &inlineData{
					MIMEType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(audio),
				}},
			},
		}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   scoreSchema,
		},
	}

	text, err := c.generateText(ctx, c.model, req)
	if err != nil {
		return nil, fmt.Errorf("gemini: score: %w", err)
	}

	var score genai.PronunciationScore
	if err := json.Unmarshal([]byte(genai.StripCodeFence(text)), &score); err != nil {
		return nil, &genai.FormatError{Op: "score", Err: err}
	}
	if !score.Accuracy.IsValid() {
		return nil, &genai.FormatError{Op: "score", Err: fmt.Errorf("unknown accuracy %q", score.Accuracy)}
	}
	if score.Score < 0 {
		score.Score = 0
	} else if score.Score > 100 {
		score.Score = 100
	}
	return &score, nil
}

// Define implements genai.Definer.
func (c *Client) Define(ctx context.Context, word, sentence string) (*genai.WordDefinition, error) {
	req := generateRequest{
		Contents: []content{{
			Parts: []part{{Text: fmt.Sprintf(definePromptFormat, word, sentence)}},
		}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   defineSchema,
		},
	}

	text, err := c.generateText(ctx, c.model, req)
	if err != nil {
		return nil, fmt.Errorf("gemini: define: %w", err)
	}

	var def genai.WordDefinition
	if err := json.Unmarshal([]byte(genai.StripCodeFence(text)), &def); err != nil {
		return nil, &genai.FormatError{Op: "define", Err: err}
	}
	return &def, nil
}

// ── Transport ──────────────────────────────────────────────────────────────────

// generateText performs a generateContent call and returns the first text
// part of the first candidate. Returns [genai.ErrEmptyResponse] when the
// response carries no text.
func (c *Client) generateText(ctx context.Context, model string, req generateRequest) (string, error) {
	resp, err := c.generate(ctx, model, req)
	if err != nil {
		return "", err
	}
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				return p.Text, nil
			}
		}
	}
	return "", genai.ErrEmptyResponse
}

// generate POSTs a generateContent request for the given model.
func (c *Client) generate(ctx context.Context, model string, req generateRequest) (*generateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned HTTP %d: %s", httpResp.StatusCode, truncate(data, 200))
	}

	var resp generateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse response envelope: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, genai.ErrEmptyResponse
	}
	return &resp, nil
}

// truncate shortens an error body for log-friendly messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
