// Package mock provides test doubles for the genai.Provider and
// genai.Definer interfaces.
//
// Use them in unit tests to feed controlled responses without a live
// backend and to inspect what was sent. All fields are safe to set before
// calling any method; mutating them during a concurrent call is the
// caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    TranscribeResult: &genai.TranscriptionResult{Language: "es"},
//	}
//	res, err := p.Transcribe(ctx, audio, "audio/mpeg")
package mock

import (
	"context"
	"sync"

	"github.com/lingoloop/lingoloop/pkg/provider/genai"
)

// Compile-time assertions.
var (
	_ genai.Provider = (*Provider)(nil)
	_ genai.Definer  = (*Definer)(nil)
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Audio    []byte
	MIMEType string
}

// SynthesizeCall records a single invocation of SynthesizeSpeech.
type SynthesizeCall struct {
	Text string
}

// ScoreCall records a single invocation of ScorePronunciation.
type ScoreCall struct {
	Audio         []byte
	MIMEType      string
	ReferenceText string
}

// Provider is a mock implementation of genai.Provider. Zero values for
// response fields cause methods to return zero values and nil errors. Set
// the function fields to take over a method entirely.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TranscribeResult is returned by Transcribe. May be nil.
	TranscribeResult *genai.TranscriptionResult

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeFunc, if non-nil, replaces the canned Transcribe behavior.
	TranscribeFunc func(ctx context.Context, audio []byte, mimeType string) (*genai.TranscriptionResult, error)

	// SynthesizePCM is returned by SynthesizeSpeech.
	SynthesizePCM []byte

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeSpeech.
	SynthesizeErr error

	// SynthesizeFunc, if non-nil, replaces the canned SynthesizeSpeech behavior.
	SynthesizeFunc func(ctx context.Context, text string) ([]byte, error)

	// ScoreResult is returned by ScorePronunciation. May be nil.
	ScoreResult *genai.PronunciationScore

	// ScoreErr, if non-nil, is returned as the error from ScorePronunciation.
	ScoreErr error

	// ScoreFunc, if non-nil, replaces the canned ScorePronunciation behavior.
	ScoreFunc func(ctx context.Context, audio []byte, mimeType, referenceText string) (*genai.PronunciationScore, error)

	// --- Call records (read after test) ---

	TranscribeCalls []TranscribeCall
	SynthesizeCalls []SynthesizeCall
	ScoreCalls      []ScoreCall
}

// Transcribe implements genai.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (*genai.TranscriptionResult, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Audio: audio, MIMEType: mimeType})
	fn := p.TranscribeFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio, mimeType)
	}
	return p.TranscribeResult, p.TranscribeErr
}

// SynthesizeSpeech implements genai.Provider.
func (p *Provider) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text})
	fn := p.SynthesizeFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return p.SynthesizePCM, p.SynthesizeErr
}

// ScorePronunciation implements genai.Provider.
func (p *Provider) ScorePronunciation(ctx context.Context, audio []byte, mimeType, referenceText string) (*genai.PronunciationScore, error) {
	p.mu.Lock()
	p.ScoreCalls = append(p.ScoreCalls, ScoreCall{Audio: audio, MIMEType: mimeType, ReferenceText: referenceText})
	fn := p.ScoreFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio, mimeType, referenceText)
	}
	return p.ScoreResult, p.ScoreErr
}

// DefineCall records a single invocation of Define.
type DefineCall struct {
	Word     string
	Sentence string
}

// Definer is a mock implementation of genai.Definer.
type Definer struct {
	mu sync.Mutex

	// DefineResult is returned by Define. May be nil.
	DefineResult *genai.WordDefinition

	// DefineErr, if non-nil, is returned as the error from Define.
	DefineErr error

	// DefineFunc, if non-nil, replaces the canned Define behavior.
	DefineFunc func(ctx context.Context, word, sentence string) (*genai.WordDefinition, error)

	// DefineCalls records every invocation of Define in order.
	DefineCalls []DefineCall
}

// Define implements genai.Definer.
func (d *Definer) Define(ctx context.Context, word, sentence string) (*genai.WordDefinition, error) {
	d.mu.Lock()
	d.DefineCalls = append(d.DefineCalls, DefineCall{Word: word, Sentence: sentence})
	fn := d.DefineFunc
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, word, sentence)
	}
	return d.DefineResult, d.DefineErr
}
