// Package gateway is the HTTP and WebSocket surface of the LingoLoop
// server.
//
// Uploads and playable audio travel over plain HTTP; everything
// interactive (playback sync, favorites, shadowing, definitions, mic
// audio) flows through a single WebSocket per browser tab. Client intents
// are JSON text frames; mic audio while recording is binary Opus frames.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/lingoloop/lingoloop/internal/health"
	"github.com/lingoloop/lingoloop/internal/observe"
	"github.com/lingoloop/lingoloop/internal/recorder"
	"github.com/lingoloop/lingoloop/internal/session"
	"github.com/lingoloop/lingoloop/internal/transcript"
)

// defaultMaxUpload caps uploads when the config does not set a limit.
const defaultMaxUpload = 25 << 20 // 25 MiB

// Server routes HTTP and WebSocket traffic to the session controller.
type Server struct {
	ctrl      *session.Controller
	health    *health.Handler
	metrics   *observe.Metrics
	log       *slog.Logger
	maxUpload int64

	// newRecorder builds a per-connection recorder. Each WebSocket gets its
	// own Opus decoder state. Tests inject a libopus-free constructor.
	newRecorder func() (*recorder.Recorder, error)

	// baseCtx outlives individual requests; background transcription is
	// anchored to it rather than to the upload request.
	baseCtx context.Context
}

// Config configures a [Server].
type Config struct {
	// Controller is the session controller. Required.
	Controller *session.Controller

	// Health serves /healthz and /readyz. Required.
	Health *health.Handler

	// Metrics may be nil in tests.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// MaxUploadBytes defaults to 25 MiB when zero.
	MaxUploadBytes int64

	// NewRecorder defaults to [recorder.New].
	NewRecorder func() (*recorder.Recorder, error)

	// BaseContext anchors background work. Defaults to context.Background().
	BaseContext context.Context
}

// New creates a Server.
func New(cfg Config) *Server {
	s := &Server{
		ctrl:        cfg.Controller,
		health:      cfg.Health,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		maxUpload:   cfg.MaxUploadBytes,
		newRecorder: cfg.NewRecorder,
		baseCtx:     cfg.BaseContext,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultMaxUpload
	}
	if s.newRecorder == nil {
		s.newRecorder = recorder.New
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	return s
}

// Routes returns the server's HTTP handler. The WebSocket route bypasses
// the observability middleware: the upgrade needs the raw ResponseWriter
// for connection hijacking.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/audio", s.handleUpload)
	mux.HandleFunc("GET /api/audio/{token}", s.handleAudio)
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	root := http.NewServeMux()
	root.HandleFunc("GET /api/session/ws", s.handleWS)
	if s.metrics != nil {
		root.Handle("/", observe.Middleware(s.metrics)(mux))
	} else {
		root.Handle("/", mux)
	}
	return root
}

// ── Upload and audio serving ──────────────────────────────────────────────────

// handleUpload accepts a multipart upload under the "audio" field and
// starts transcription. 409 while a transcription is running, 415 for
// non-audio files, 413 past the size cap.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, header, err := r.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.recordUpload(r.Context(), "rejected")
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "missing audio field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.recordUpload(r.Context(), "rejected")
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read upload", http.StatusInternalServerError)
		return
	}

	mime, err := DetectAudioMIME(header.Filename, data)
	if err != nil {
		s.recordUpload(r.Context(), "rejected")
		http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
		return
	}

	if err := s.ctrl.LoadAudio(s.baseCtx, header.Filename, mime, data); err != nil {
		if errors.Is(err, session.ErrBusy) {
			http.Error(w, "transcription in progress", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.recordUpload(r.Context(), "accepted")
	observe.Logger(r.Context()).Info("audio uploaded",
		"name", header.Filename, "mime", mime, "bytes", len(data))

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"state":    s.ctrl.State().String(),
		"audioUrl": "/api/audio/" + s.ctrl.File().Token,
	})
}

// handleAudio serves the uploaded file under its session token. ServeContent
// gives the browser's audio element the range support it needs for seeking.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	f, err := s.ctrl.AudioData(r.PathValue("token"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", f.MIME)
	http.ServeContent(w, r, f.Name, time.Time{}, bytes.NewReader(f.Data))
}

func (s *Server) recordUpload(ctx context.Context, status string) {
	if s.metrics != nil {
		s.metrics.Uploads.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("status", status)))
	}
}

// ── WebSocket ─────────────────────────────────────────────────────────────────

// handleWS upgrades the connection and runs the read/write/event loops
// until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	rec, err := s.newRecorder()
	if err != nil {
		s.log.Error("create recorder", "error", err)
		conn.Close(websocket.StatusInternalError, "recorder unavailable")
		return
	}

	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(r.Context(), 1)
		defer s.metrics.ActiveSessions.Add(context.Background(), -1)
	}

	c := &wsConn{
		srv:  s,
		conn: conn,
		rec:  rec,
		out:  make(chan ServerMessage, 64),
	}
	c.lastActive.Store(-1)
	c.run(r.Context())
}

// wsConn is the per-connection state of one WebSocket client.
type wsConn struct {
	srv  *Server
	conn *websocket.Conn
	rec  *recorder.Recorder
	out  chan ServerMessage

	// lastActive dedupes active_segment pushes. Written by both the read
	// loop (timeupdate) and the event loop (new transcript).
	lastActive atomic.Int64
}

// run drives the connection until the context ends or the peer closes.
func (c *wsConn) run(ctx context.Context) {
	events := c.srv.ctrl.Subscribe()
	defer c.srv.ctrl.Unsubscribe(events)

	// Initial snapshot so a (re)connecting client renders without waiting
	// for the next change.
	c.pushSnapshot(true)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(ctx) })
	g.Go(func() error { return c.writeLoop(ctx) })
	g.Go(func() error { return c.eventLoop(ctx, events) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		status := websocket.CloseStatus(err)
		if status == -1 {
			c.srv.log.Warn("websocket session ended", "error", err)
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop decodes frames from the client. Text frames are JSON intents;
// binary frames are Opus packets for the recorder.
func (c *wsConn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			c.recordMessage(ctx, "in", "opus")
			if err := c.rec.Push(data); err != nil {
				c.srv.log.Debug("dropped mic packet", "error", err)
			}
		case websocket.MessageText:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.sendError("", "malformed intent")
				continue
			}
			c.recordMessage(ctx, "in", msg.Type)
			c.handleIntent(ctx, msg)
		}
	}
}

// writeLoop serialises every outbound message onto the socket.
func (c *wsConn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.out:
			c.recordMessage(ctx, "out", msg.Type)
			if err := wsjson.Write(ctx, c.conn, msg); err != nil {
				return err
			}
		}
	}
}

// eventLoop forwards controller events as fresh snapshots.
func (c *wsConn) eventLoop(ctx context.Context, events <-chan session.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			switch ev.Type {
			case session.EventState:
				c.pushSnapshot(false)
			case session.EventTranscript:
				c.lastActive.Store(-1)
				c.pushSegments()
			case session.EventScore:
				if score, ok := c.srv.ctrl.Score(ev.SegmentID); ok {
					id := ev.SegmentID
					msg := ServerMessage{Type: MsgScore, ID: &id, Score: score}
					if score.Recognized != "" {
						for _, seg := range c.srv.ctrl.Segments() {
							if seg.ID == id {
								msg.Words = transcript.AlignWords(seg.Text, score.Recognized)
								break
							}
						}
					}
					c.send(msg)
				}
			}
		}
	}
}

// handleIntent dispatches one client intent. Provider-bound intents spawn
// goroutines; the read loop must keep consuming frames.
func (c *wsConn) handleIntent(ctx context.Context, msg ClientMessage) {
	ctrl := c.srv.ctrl
	switch msg.Type {
	case IntentTimeUpdate:
		ctrl.Clock.Update(msg.Position)
		c.pushActiveSegment(msg.Position)

	case IntentSegmentClick:
		seg, err := c.requireSegment(msg)
		if err != nil {
			c.sendError(msg.Type, err.Error())
			return
		}
		if ctrl.Clock.NeedsSeek(seg.Start) {
			ctrl.Clock.Update(seg.Start)
			c.send(ServerMessage{Type: MsgSeek, Position: seg.Start})
		}

	case IntentToggleFavorite:
		if msg.ID == nil {
			c.sendError(msg.Type, "missing segment id")
			return
		}
		if _, err := ctrl.ToggleFavorite(*msg.ID); err != nil {
			c.sendError(msg.Type, err.Error())
			return
		}
		c.pushSegments()

	case IntentSetView:
		if err := ctrl.SetView(session.View(msg.View)); err != nil {
			c.sendError(msg.Type, err.Error())
			return
		}
		c.pushSegments()

	case IntentShadowEnter:
		if msg.ID == nil {
			c.sendError(msg.Type, "missing segment id")
			return
		}
		seg, err := ctrl.EnterShadowing(*msg.ID)
		if err != nil {
			c.sendError(msg.Type, err.Error())
			return
		}
		c.seekToSegmentStart(seg.Start)

	case IntentShadowExit:
		ctrl.ExitShadowing()

	case IntentShadowNext, IntentShadowPrev:
		delta := 1
		if msg.Type == IntentShadowPrev {
			delta = -1
		}
		seg, err := ctrl.ShadowStep(delta)
		if err != nil {
			c.sendError(msg.Type, err.Error())
			return
		}
		c.seekToSegmentStart(seg.Start)

	case IntentPlayReference, IntentPlayIdiomatic:
		seg, err := c.requireSegment(msg)
		if err != nil {
			c.sendError(msg.Type, err.Error())
			return
		}
		go c.playReference(ctx, seg.ID, msg.Type == IntentPlayIdiomatic)

	case IntentDefine:
		if msg.Word == "" {
			c.sendError(msg.Type, "missing word")
			return
		}
		go c.define(ctx, msg.Word, msg.Sentence)

	case IntentRecordStart:
		if ctrl.ScoringInFlight() {
			c.sendError(msg.Type, "scoring in progress")
			return
		}
		if _, err := ctrl.ShadowSegment(); err != nil {
			c.sendError(msg.Type, err.Error())
			return
		}
		c.rec.Start()

	case IntentRecordStop:
		c.stopRecording(ctx)

	case IntentReset:
		c.rec.Stop()
		ctrl.Reset()

	default:
		c.sendError(msg.Type, "unknown intent")
	}
}

// requireSegment resolves the segment addressed by msg.ID, falling back to
// the current shadowing segment when no ID is given.
func (c *wsConn) requireSegment(msg ClientMessage) (transcript.Segment, error) {
	if msg.ID == nil {
		return c.srv.ctrl.ShadowSegment()
	}
	for _, s := range c.srv.ctrl.Segments() {
		if s.ID == *msg.ID {
			return s, nil
		}
	}
	return transcript.Segment{}, fmt.Errorf("no such segment: %d", *msg.ID)
}

// seekToSegmentStart tells the client to move its audio element unless it
// is already within tolerance.
func (c *wsConn) seekToSegmentStart(start float64) {
	if c.srv.ctrl.Clock.NeedsSeek(start) {
		c.srv.ctrl.Clock.Update(start)
		c.send(ServerMessage{Type: MsgSeek, Position: start})
	}
}

// playReference synthesizes (or serves cached) reference or idiomatic
// audio. Runs on its own goroutine.
func (c *wsConn) playReference(ctx context.Context, id int, idiomatic bool) {
	op, variant := IntentPlayReference, "reference"
	fetch := c.srv.ctrl.ReferenceAudio
	if idiomatic {
		op, variant = IntentPlayIdiomatic, "idiomatic"
		fetch = c.srv.ctrl.IdiomaticAudio
	}

	start := time.Now()
	wav, err := fetch(ctx, id)
	c.observeProvider(ctx, "synthesize", start, err)
	if err != nil {
		c.sendError(op, err.Error())
		return
	}
	c.send(ServerMessage{
		Type:    MsgReferenceAudio,
		ID:      &id,
		Variant: variant,
		WAV:     base64.StdEncoding.EncodeToString(wav),
	})
}

// define looks a word up. Runs on its own goroutine.
func (c *wsConn) define(ctx context.Context, word, sentence string) {
	start := time.Now()
	def, err := c.srv.ctrl.DefineWord(ctx, word, sentence)
	c.observeProvider(ctx, "define", start, err)
	if err != nil {
		c.sendError(IntentDefine, err.Error())
		return
	}
	c.send(ServerMessage{Type: MsgDefinition, Definition: def})
}

// stopRecording finishes the mic capture and submits it for scoring.
func (c *wsConn) stopRecording(ctx context.Context) {
	clip, err := c.rec.Stop()
	if err != nil {
		c.sendError(IntentRecordStop, err.Error())
		return
	}
	seg, err := c.srv.ctrl.ShadowSegment()
	if err != nil {
		c.sendError(IntentRecordStop, err.Error())
		return
	}
	if err := c.srv.ctrl.BeginScoring(); err != nil {
		c.sendError(IntentRecordStop, err.Error())
		return
	}
	go func() {
		start := time.Now()
		_, err := c.srv.ctrl.ScoreRecording(ctx, seg.ID, clip.WAV)
		c.observeProvider(ctx, "score", start, err)
		if err != nil {
			// The stored-score event handles the success path.
			c.sendError(IntentRecordStop, err.Error())
		}
	}()
}

// ── Outbound helpers ──────────────────────────────────────────────────────────

// send enqueues a message, dropping it if the writer is hopelessly behind.
func (c *wsConn) send(msg ServerMessage) {
	select {
	case c.out <- msg:
	default:
		c.srv.log.Warn("dropping outbound message", "type", msg.Type)
	}
}

func (c *wsConn) sendError(op, message string) {
	c.send(ServerMessage{Type: MsgError, Op: op, Message: message})
}

// pushSnapshot sends the session state, and with includeSegments also the
// transcript when one is loaded.
func (c *wsConn) pushSnapshot(includeSegments bool) {
	ctrl := c.srv.ctrl
	msg := ServerMessage{
		Type:  MsgState,
		State: ctrl.State().String(),
		Error: ctrl.LastError(),
		View:  string(ctrl.CurrentView()),
	}
	if f := ctrl.File(); f != nil {
		msg.AudioURL = "/api/audio/" + f.Token
	}
	if tr := ctrl.Transcript(); tr != nil {
		msg.Language = tr.Language
		meta := tr.Meta
		msg.Meta = &meta
	}
	c.send(msg)
	if includeSegments && ctrl.Transcript() != nil {
		c.pushSegments()
	}
}

// pushSegments sends the segments of the active view.
func (c *wsConn) pushSegments() {
	c.send(ServerMessage{
		Type:     MsgSegments,
		View:     string(c.srv.ctrl.CurrentView()),
		Segments: c.srv.ctrl.ViewSegments(),
	})
}

// pushActiveSegment announces the segment under pos when it changed.
func (c *wsConn) pushActiveSegment(pos float64) {
	segs := c.srv.ctrl.Segments()
	idx := session.ActiveSegment(segs, pos)
	if int64(idx) == c.lastActive.Swap(int64(idx)) {
		return
	}
	msg := ServerMessage{Type: MsgActiveSegment}
	if idx >= 0 {
		id := segs[idx].ID
		msg.ID = &id
	}
	c.send(msg)
}

func (c *wsConn) recordMessage(ctx context.Context, direction, msgType string) {
	if c.srv.metrics != nil {
		c.srv.metrics.RecordWSMessage(ctx, direction, msgType)
	}
}

func (c *wsConn) observeProvider(ctx context.Context, op string, start time.Time, err error) {
	m := c.srv.metrics
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, "session", op)
	}
	m.RecordProviderRequest(ctx, "session", op, status)
	switch op {
	case "synthesize":
		m.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	case "define":
		m.DefinitionDuration.Record(ctx, time.Since(start).Seconds())
	case "score":
		m.ScoreDuration.Record(ctx, time.Since(start).Seconds())
	}
}
