package gateway

import (
	"github.com/lingoloop/lingoloop/internal/transcript"
	"github.com/lingoloop/lingoloop/pkg/provider/genai"
)

// Client intents arrive as JSON text frames. While recording is active the
// client additionally sends binary frames carrying raw Opus packets; those
// never appear here.
const (
	// IntentTimeUpdate reports the playback position a few times a second.
	IntentTimeUpdate = "timeupdate"

	// IntentSegmentClick jumps playback to the clicked segment.
	IntentSegmentClick = "segment_click"

	// IntentToggleFavorite flips a segment's favorite bit.
	IntentToggleFavorite = "toggle_favorite"

	// IntentSetView switches between the full and favorites transcript view.
	IntentSetView = "set_view"

	// IntentShadowEnter starts shadowing practice at a segment.
	IntentShadowEnter = "shadow_enter"

	// IntentShadowExit leaves shadowing practice.
	IntentShadowExit = "shadow_exit"

	// IntentShadowNext and IntentShadowPrev move the shadowing cursor.
	IntentShadowNext = "shadow_next"
	IntentShadowPrev = "shadow_prev"

	// IntentPlayReference requests synthesized reference audio for the
	// current shadowing segment; IntentPlayIdiomatic does the same for the
	// idiomatic rephrasing.
	IntentPlayReference = "play_reference"
	IntentPlayIdiomatic = "play_idiomatic"

	// IntentDefine looks up a clicked word in its sentence context.
	IntentDefine = "define"

	// IntentRecordStart and IntentRecordStop bracket a mic recording.
	// Stopping submits the recording for pronunciation scoring.
	IntentRecordStart = "record_start"
	IntentRecordStop  = "record_stop"

	// IntentReset abandons the session.
	IntentReset = "reset"
)

// Server-to-client message types.
const (
	// MsgState is the session snapshot, sent on connect and on every
	// lifecycle change.
	MsgState = "state"

	// MsgSegments carries the transcript of the active view.
	MsgSegments = "segments"

	// MsgActiveSegment highlights the segment under the playback position.
	MsgActiveSegment = "active_segment"

	// MsgSeek instructs the client to move its audio element.
	MsgSeek = "seek"

	// MsgReferenceAudio delivers synthesized reference audio as base64 WAV.
	MsgReferenceAudio = "reference_audio"

	// MsgDefinition delivers a word definition.
	MsgDefinition = "definition"

	// MsgScore delivers a pronunciation score.
	MsgScore = "score"

	// MsgError reports a failed intent without closing the connection.
	MsgError = "error"
)

// ClientMessage is the decoded form of every client intent. Fields beyond
// Type are populated per intent.
type ClientMessage struct {
	Type string `json:"type"`

	// Position is the playback position in seconds (timeupdate).
	Position float64 `json:"position,omitempty"`

	// ID addresses a transcript segment (segment_click, toggle_favorite,
	// shadow_enter, play_reference).
	ID *int `json:"id,omitempty"`

	// View selects a transcript view (set_view).
	View string `json:"view,omitempty"`

	// Word and Sentence carry a definition lookup (define).
	Word     string `json:"word,omitempty"`
	Sentence string `json:"sentence,omitempty"`
}

// ServerMessage is the envelope for everything the server pushes.
type ServerMessage struct {
	Type string `json:"type"`

	// MsgState fields.
	State    string           `json:"state,omitempty"`
	Error    string           `json:"error,omitempty"`
	AudioURL string           `json:"audioUrl,omitempty"`
	Language string           `json:"language,omitempty"`
	Meta     *transcript.Meta `json:"meta,omitempty"`
	View     string           `json:"view,omitempty"`

	// MsgSegments fields.
	Segments []transcript.Segment `json:"segments,omitempty"`

	// Segment addressing (active_segment, reference_audio, score).
	ID *int `json:"id,omitempty"`

	// MsgSeek position in seconds.
	Position float64 `json:"position,omitempty"`

	// MsgReferenceAudio payload, base64-encoded WAV. Variant is
	// "reference" or "idiomatic".
	WAV     string `json:"wav,omitempty"`
	Variant string `json:"variant,omitempty"`

	// MsgDefinition payload.
	Definition *genai.WordDefinition `json:"definition,omitempty"`

	// MsgScore payload. Words marks, per reference word, whether it was
	// heard in the recording; present only when the provider reported what
	// it recognized.
	Score *genai.PronunciationScore `json:"score,omitempty"`
	Words []transcript.WordMatch    `json:"words,omitempty"`

	// MsgError fields: the intent that failed and why.
	Op      string `json:"op,omitempty"`
	Message string `json:"message,omitempty"`
}
