// Package transcript defines the timed transcript model produced by the
// transcription service and the consolidation pass that folds filler
// fragments into readable segments.
//
// The session controller holds the authoritative ordered segment sequence;
// every view (full transcript, favorites, shadowing) is a projection of it.
// Segments therefore carry a stable ID — their position at creation time —
// so a filtered view item can always be mapped back to its source position
// even when segment text repeats.
package transcript

import (
	"strings"

	"github.com/lingoloop/lingoloop/pkg/provider/genai"
)

// Segment is a timed span of transcript text with its translation and an
// idiomatic rephrasing. Start and End are seconds from the beginning of the
// audio file. Start < End is expected but not enforced — upstream model
// output occasionally violates it.
type Segment struct {
	ID          int     `json:"id"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	Translation string  `json:"translation"`
	Idiomatic   string  `json:"idiomatic"`
	Favorite    bool    `json:"favorite"`
}

// Meta summarizes a transcription: total word count, an estimated
// difficulty level, and a speaking-speed label.
type Meta struct {
	WordCount      int    `json:"wordCount"`
	EstimatedLevel string `json:"estimatedLevel"`
	Speed          string `json:"speed"`
}

// Transcription is the consolidated result of one transcription call.
// It is replaced wholesale on re-upload and never partially mutated except
// through the session controller's favorite toggle.
type Transcription struct {
	Language string    `json:"language"`
	Meta     Meta      `json:"meta"`
	Segments []Segment `json:"segments"`
}

// FromResult converts a raw provider transcription into the consolidated
// form: segments are merged through [Merge] and then assigned stable IDs by
// final position.
func FromResult(res *genai.TranscriptionResult) *Transcription {
	raw := make([]Segment, len(res.Segments))
	for i, s := range res.Segments {
		raw[i] = Segment{
			Start:       s.Start,
			End:         s.End,
			Text:        s.Text,
			Translation: s.Translation,
			Idiomatic:   s.Idiomatic,
		}
	}

	merged := Merge(raw)
	for i := range merged {
		merged[i].ID = i
	}

	return &Transcription{
		Language: res.Language,
		Meta: Meta{
			WordCount:      res.Meta.WordCount,
			EstimatedLevel: res.Meta.EstimatedLevel,
			Speed:          res.Meta.Speed,
		},
		Segments: merged,
	}
}

// wordCount returns the number of whitespace-delimited tokens in s.
func wordCount(s string) int {
	return len(strings.Fields(s))
}
