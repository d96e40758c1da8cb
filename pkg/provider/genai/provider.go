// Package genai defines the contract with the external generative AI
// service that powers transcription, speech synthesis, pronunciation
// scoring, and word definitions.
//
// The service is a black box: audio bytes and text go in, structured JSON
// or raw PCM bytes come out. Implementations live in subpackages (gemini
// for the full provider, openaichat and anyllm for text-only definition
// fallbacks) and must be safe for concurrent use.
package genai

import "context"

// TranscribedSegment is one acoustically-timed span of the raw model
// output. Timing is in seconds from the start of the audio. Raw segments
// are linguistically noisy (fragments, filler words) and are consolidated
// by the transcript package before reaching the session.
type TranscribedSegment struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	Translation string  `json:"translation"`
	Idiomatic   string  `json:"idiomatic"`
}

// TranscriptionMeta summarizes the transcribed clip.
type TranscriptionMeta struct {
	WordCount      int    `json:"wordCount"`
	EstimatedLevel string `json:"estimatedLevel"`
	Speed          string `json:"speed"`
}

// TranscriptionResult is the parsed response of a transcription call.
type TranscriptionResult struct {
	Language string               `json:"language"`
	Meta     TranscriptionMeta    `json:"meta"`
	Segments []TranscribedSegment `json:"segments"`
}

// Accuracy is the coarse pronunciation grade reported by the scoring
// endpoint.
type Accuracy string

const (
	AccuracyGood    Accuracy = "good"
	AccuracyAverage Accuracy = "average"
	AccuracyPoor    Accuracy = "poor"
)

// IsValid reports whether a is a recognised accuracy grade.
func (a Accuracy) IsValid() bool {
	return a == AccuracyGood || a == AccuracyAverage || a == AccuracyPoor
}

// PronunciationScore grades a learner's recording against a reference text.
type PronunciationScore struct {
	// Score is in [0, 100].
	Score int `json:"score"`

	// Feedback is a short human-readable assessment.
	Feedback string `json:"feedback"`

	// Accuracy is the coarse grade.
	Accuracy Accuracy `json:"accuracy"`

	// Recognized is the text the service heard in the recording. May be
	// empty when the provider does not report it.
	Recognized string `json:"recognized,omitempty"`
}

// WordDefinition is a dictionary-style lookup of a word in context.
// Phonetic may be empty when the provider does not supply one.
type WordDefinition struct {
	Word       string `json:"word"`
	Definition string `json:"definition"`
	Example    string `json:"example"`
	Phonetic   string `json:"phonetic,omitempty"`
}

// Provider is the abstraction over the audio-capable generative AI
// service. All three operations require binary-audio understanding, so
// none of them has a fallback path — the text-only secondary provider
// cannot serve them.
type Provider interface {
	// Transcribe sends encoded audio and returns timed, translated raw
	// segments. Returns an error if the call fails, the response is empty,
	// or the payload cannot be parsed as the requested JSON shape.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*TranscriptionResult, error)

	// SynthesizeSpeech requests audio-modality output for a short text and
	// returns raw PCM: signed 16-bit little-endian, mono, 24 000 Hz.
	// Returns [ErrNoAudio] when the response carries no audio payload.
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)

	// ScorePronunciation grades the learner's encoded recording against
	// referenceText.
	ScorePronunciation(ctx context.Context, audio []byte, mimeType, referenceText string) (*PronunciationScore, error)
}

// Definer looks up a word in the context of the sentence it appeared in.
// This is the only text-only operation of the service contract and
// therefore the only one that can be served by a secondary provider.
type Definer interface {
	Define(ctx context.Context, word, sentence string) (*WordDefinition, error)
}
