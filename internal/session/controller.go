// Package session holds the server-side state of one learner session: the
// uploaded audio, its transcript, playback position, favorites, shadowing
// progress, and the caches and scores that hang off them.
//
// The [Controller] is the single writer for all of it. The gateway
// translates client intents into Controller calls and broadcasts the
// resulting events; provider calls that take long (transcription) run in
// background goroutines tagged with a generation counter so completions
// for an abandoned upload are discarded.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lingoloop/lingoloop/internal/observe"
	"github.com/lingoloop/lingoloop/internal/transcript"
	"github.com/lingoloop/lingoloop/pkg/provider/genai"
)

// State is the lifecycle state of a session.
type State int

const (
	// StateIdle is the initial state: no audio loaded.
	StateIdle State = iota

	// StateProcessing means an upload is being transcribed.
	StateProcessing

	// StateReady means a transcript is loaded and playback is available.
	StateReady

	// StateShadowing is Ready plus an active shadowing practice overlay.
	StateShadowing

	// StateError means the last transcription failed. The uploaded file is
	// kept so the client can retry without re-uploading.
	StateError
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateReady:
		return "ready"
	case StateShadowing:
		return "shadowing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// View selects which segments the transcript pane shows.
type View string

const (
	ViewAll       View = "all"
	ViewFavorites View = "favorites"
)

// IsValid reports whether v is a recognised view.
func (v View) IsValid() bool {
	return v == ViewAll || v == ViewFavorites
}

// EventType classifies controller events.
type EventType string

const (
	// EventState signals a lifecycle state change.
	EventState EventType = "state"

	// EventTranscript signals that a new transcript is available.
	EventTranscript EventType = "transcript"

	// EventScore signals that a pronunciation score arrived for a segment.
	EventScore EventType = "score"
)

// Event is a notification pushed to subscribers (the gateway) when the
// session changes outside a direct request/response exchange.
type Event struct {
	Type  EventType
	State State

	// Err carries the failure message for EventState transitions into
	// [StateError].
	Err string

	// SegmentID is set for EventScore.
	SegmentID int
}

// AudioFile is the uploaded audio held in memory for the session's
// lifetime, addressable by an unguessable token.
type AudioFile struct {
	Name  string
	MIME  string
	Size  int64
	Token string
	Data  []byte
}

// Sentinel errors returned by Controller operations.
var (
	ErrBusy             = errors.New("session: transcription in progress")
	ErrNoTranscript     = errors.New("session: no transcript loaded")
	ErrNoSuchSegment    = errors.New("session: no such segment")
	ErrNotShadowing     = errors.New("session: not in shadowing mode")
	ErrScoringInFlight  = errors.New("session: a scoring request is outstanding")
	ErrUnknownAudio     = errors.New("session: unknown audio token")
	ErrFallbackDisabled = errors.New("session: word definitions unavailable")
)

// Controller owns all mutable session state. All methods are safe for
// concurrent use.
type Controller struct {
	provider genai.Provider
	definer  genai.Definer // may be nil when no definition path is configured
	synth    *SynthCache
	metrics  *observe.Metrics

	// Clock is the playback position mirror. It has its own lock and is
	// deliberately outside mu: timeupdate intents arrive several times a
	// second and must not contend with provider completions.
	Clock Clock

	mu         sync.Mutex
	state      State
	generation uint64
	file       *AudioFile
	tr         *transcript.Transcription
	errMsg     string
	view       View
	shadowIdx  int
	scoring    bool
	scores     map[int]*genai.PronunciationScore
	subs       []chan Event
}

// NewController creates an idle Controller. definer may be nil; metrics may
// be nil in tests.
func NewController(provider genai.Provider, definer genai.Definer, metrics *observe.Metrics) *Controller {
	return &Controller{
		provider: provider,
		definer:  definer,
		synth:    NewSynthCache(provider, metrics),
		metrics:  metrics,
		state:    StateIdle,
		view:     ViewAll,
		scores:   make(map[int]*genai.PronunciationScore),
	}
}

// Subscribe returns a channel on which session events are delivered. Slow
// subscribers lose events rather than blocking the controller.
func (c *Controller) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel obtained from [Controller.Subscribe].
func (c *Controller) Unsubscribe(ch <-chan Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subs {
		if sub == ch {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// emit delivers ev to all subscribers without blocking. Callers must hold
// c.mu.
func (c *Controller) emit(ev Event) {
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ── Upload and transcription ──────────────────────────────────────────────────

// LoadAudio accepts an uploaded file and starts transcription in the
// background. Returns [ErrBusy] while a previous transcription is still
// running. Loading new audio replaces the whole session: the old
// transcript, favorites, scores, and synthesized audio are gone.
func (c *Controller) LoadAudio(ctx context.Context, name, mimeType string, data []byte) error {
	c.mu.Lock()
	if c.state == StateProcessing {
		c.mu.Unlock()
		return ErrBusy
	}

	c.generation++
	gen := c.generation
	c.file = &AudioFile{
		Name:  name,
		MIME:  mimeType,
		Size:  int64(len(data)),
		Token: newToken(),
		Data:  data,
	}
	c.tr = nil
	c.errMsg = ""
	c.view = ViewAll
	c.scoring = false
	c.scores = make(map[int]*genai.PronunciationScore)
	c.state = StateProcessing
	c.emit(Event{Type: EventState, State: StateProcessing})
	c.mu.Unlock()

	c.Clock.Reset()
	c.synth.Drop()

	go c.transcribe(ctx, gen, mimeType, data)
	return nil
}

// transcribe runs the provider call and hands the outcome to
// completeTranscription. It runs on its own goroutine.
func (c *Controller) transcribe(ctx context.Context, gen uint64, mimeType string, data []byte) {
	res, err := c.provider.Transcribe(ctx, data, mimeType)
	c.completeTranscription(gen, res, err)
}

// completeTranscription applies a finished transcription. Completions whose
// generation no longer matches belong to an abandoned upload and are
// dropped on the floor.
func (c *Controller) completeTranscription(gen uint64, res *genai.TranscriptionResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		slog.Debug("discarding stale transcription result",
			"generation", gen, "current", c.generation)
		return
	}

	if err != nil {
		slog.Error("transcription failed", "error", err)
		c.state = StateError
		c.errMsg = err.Error()
		c.emit(Event{Type: EventState, State: StateError, Err: c.errMsg})
		return
	}

	c.tr = transcript.FromResult(res)
	c.state = StateReady
	// Playback starts from the top of the clip regardless of where the
	// audio element sat while processing.
	c.Clock.Reset()
	c.emit(Event{Type: EventState, State: StateReady})
	c.emit(Event{Type: EventTranscript, State: StateReady})
}

// LastError returns the failure message recorded for [StateError].
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// Reset abandons the session and returns to [StateIdle]. The audio token
// is invalidated, the synth cache emptied, and any in-flight transcription
// is orphaned via the generation bump.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.generation++
	c.state = StateIdle
	c.file = nil
	c.tr = nil
	c.errMsg = ""
	c.view = ViewAll
	c.shadowIdx = 0
	c.scoring = false
	c.scores = make(map[int]*genai.PronunciationScore)
	c.emit(Event{Type: EventState, State: StateIdle})
	c.mu.Unlock()

	c.Clock.Reset()
	c.synth.Drop()
}

// ── Audio serving ─────────────────────────────────────────────────────────────

// AudioData resolves the playable-audio token issued at upload time.
// Returns [ErrUnknownAudio] for stale or foreign tokens — after a Reset the
// previous session's URL stops working.
func (c *Controller) AudioData(token string) (*AudioFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil || c.file.Token != token {
		return nil, ErrUnknownAudio
	}
	return c.file, nil
}

// File returns the current upload, or nil.
func (c *Controller) File() *AudioFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file
}

// ── Transcript access ─────────────────────────────────────────────────────────

// Transcript returns the loaded transcription, or nil before one exists.
func (c *Controller) Transcript() *transcript.Transcription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr
}

// Segments returns a copy of all transcript segments.
func (c *Controller) Segments() []transcript.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return nil
	}
	out := make([]transcript.Segment, len(c.tr.Segments))
	copy(out, c.tr.Segments)
	return out
}

// FavoriteSegments returns the favorited segments in transcript order. The
// view is derived fresh on every call; favorites toggled a moment ago are
// always reflected.
func (c *Controller) FavoriteSegments() []transcript.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return nil
	}
	var out []transcript.Segment
	for _, s := range c.tr.Segments {
		if s.Favorite {
			out = append(out, s)
		}
	}
	return out
}

// ViewSegments returns the segments of the active view.
func (c *Controller) ViewSegments() []transcript.Segment {
	if c.CurrentView() == ViewFavorites {
		return c.FavoriteSegments()
	}
	return c.Segments()
}

// ToggleFavorite flips the favorite bit of the segment with the given ID
// and returns the new value.
func (c *Controller) ToggleFavorite(id int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return false, ErrNoTranscript
	}
	for i := range c.tr.Segments {
		if c.tr.Segments[i].ID == id {
			c.tr.Segments[i].Favorite = !c.tr.Segments[i].Favorite
			return c.tr.Segments[i].Favorite, nil
		}
	}
	return false, fmt.Errorf("%w: id %d", ErrNoSuchSegment, id)
}

// SetView switches between the full transcript and the favorites view.
func (c *Controller) SetView(v View) error {
	if !v.IsValid() {
		return fmt.Errorf("session: invalid view %q", v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = v
	return nil
}

// CurrentView returns the active view.
func (c *Controller) CurrentView() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// segmentByID returns a copy of the segment with the given ID.
func (c *Controller) segmentByID(id int) (transcript.Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return transcript.Segment{}, ErrNoTranscript
	}
	for _, s := range c.tr.Segments {
		if s.ID == id {
			return s, nil
		}
	}
	return transcript.Segment{}, fmt.Errorf("%w: id %d", ErrNoSuchSegment, id)
}

// ── Shadowing ─────────────────────────────────────────────────────────────────

// EnterShadowing switches to shadowing practice starting at the segment
// with the given ID. Requires [StateReady].
func (c *Controller) EnterShadowing(id int) (transcript.Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return transcript.Segment{}, fmt.Errorf("session: cannot shadow in state %s", c.state)
	}
	idx := c.indexOfLocked(id)
	if idx < 0 {
		return transcript.Segment{}, fmt.Errorf("%w: id %d", ErrNoSuchSegment, id)
	}
	c.shadowIdx = idx
	c.state = StateShadowing
	c.emit(Event{Type: EventState, State: StateShadowing})
	return c.tr.Segments[idx], nil
}

// ExitShadowing returns to [StateReady]. Exiting while not shadowing is a
// no-op.
func (c *Controller) ExitShadowing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateShadowing {
		return
	}
	c.state = StateReady
	c.emit(Event{Type: EventState, State: StateReady})
}

// ShadowStep moves the shadowing cursor by delta segments, clamped to the
// transcript bounds, and returns the segment now under the cursor.
func (c *Controller) ShadowStep(delta int) (transcript.Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateShadowing {
		return transcript.Segment{}, ErrNotShadowing
	}
	idx := c.shadowIdx + delta
	if idx < 0 {
		idx = 0
	}
	if max := len(c.tr.Segments) - 1; idx > max {
		idx = max
	}
	c.shadowIdx = idx
	return c.tr.Segments[idx], nil
}

// ShadowSegment returns the segment currently under the shadowing cursor.
func (c *Controller) ShadowSegment() (transcript.Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateShadowing {
		return transcript.Segment{}, ErrNotShadowing
	}
	return c.tr.Segments[c.shadowIdx], nil
}

// indexOfLocked returns the slice index of the segment with the given ID.
// Callers must hold c.mu.
func (c *Controller) indexOfLocked(id int) int {
	if c.tr == nil {
		return -1
	}
	for i, s := range c.tr.Segments {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// ── Reference audio ───────────────────────────────────────────────────────────

// ReferenceAudio returns WAV reference audio for the segment with the
// given ID, synthesizing it on first request.
func (c *Controller) ReferenceAudio(ctx context.Context, id int) ([]byte, error) {
	seg, err := c.segmentByID(id)
	if err != nil {
		return nil, err
	}
	return c.synth.Get(ctx, seg.Text)
}

// IdiomaticAudio returns WAV audio for the idiomatic rephrasing of the
// segment with the given ID, falling back to the raw segment text when the
// model supplied no rephrasing.
func (c *Controller) IdiomaticAudio(ctx context.Context, id int) ([]byte, error) {
	seg, err := c.segmentByID(id)
	if err != nil {
		return nil, err
	}
	text := seg.Idiomatic
	if text == "" {
		text = seg.Text
	}
	return c.synth.Get(ctx, text)
}

// DropSynthesisCache empties the reference audio cache. Called when a
// config reload changes the synthesis voice and cached audio goes stale.
func (c *Controller) DropSynthesisCache() {
	c.synth.Drop()
}

// ── Scoring ───────────────────────────────────────────────────────────────────

// BeginScoring marks a scoring request as outstanding. A second request
// while one is in flight returns [ErrScoringInFlight]; the previous
// attempt's score would race with the new recording otherwise.
func (c *Controller) BeginScoring() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scoring {
		return ErrScoringInFlight
	}
	c.scoring = true
	return nil
}

// ScoringInFlight reports whether a scoring request is outstanding.
func (c *Controller) ScoringInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scoring
}

// ScoreRecording grades wavClip against the segment's text and stores the
// result. It runs synchronously; the gateway calls it from a goroutine
// after [BeginScoring] succeeds.
func (c *Controller) ScoreRecording(ctx context.Context, id int, wavClip []byte) (*genai.PronunciationScore, error) {
	seg, err := c.segmentByID(id)
	if err != nil {
		c.finishScoring()
		return nil, err
	}

	score, err := c.provider.ScorePronunciation(ctx, wavClip, "audio/wav", seg.Text)

	c.mu.Lock()
	c.scoring = false
	if err == nil {
		c.scores[id] = score
		c.emit(Event{Type: EventScore, State: c.state, SegmentID: id})
	}
	c.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("session: score segment %d: %w", id, err)
	}
	return score, nil
}

// finishScoring clears the outstanding-scoring guard.
func (c *Controller) finishScoring() {
	c.mu.Lock()
	c.scoring = false
	c.mu.Unlock()
}

// Score returns the stored pronunciation score for a segment, if any.
func (c *Controller) Score(id int) (*genai.PronunciationScore, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.scores[id]
	return s, ok
}

// ── Word definitions ──────────────────────────────────────────────────────────

// DefineWord looks up a word in the context of the sentence it was clicked
// in. Returns [ErrFallbackDisabled] when no definer is configured.
func (c *Controller) DefineWord(ctx context.Context, word, sentence string) (*genai.WordDefinition, error) {
	if c.definer == nil {
		return nil, ErrFallbackDisabled
	}
	return c.definer.Define(ctx, word, sentence)
}

// newToken returns an unguessable audio URL token.
func newToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms.
		panic("session: rand: " + err.Error())
	}
	return hex.EncodeToString(b)
}
