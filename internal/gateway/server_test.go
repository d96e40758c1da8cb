package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lingoloop/lingoloop/internal/health"
	"github.com/lingoloop/lingoloop/internal/recorder"
	"github.com/lingoloop/lingoloop/internal/session"
	"github.com/lingoloop/lingoloop/pkg/audio"
	"github.com/lingoloop/lingoloop/pkg/provider/genai"
	"github.com/lingoloop/lingoloop/pkg/provider/genai/mock"
)

// stubDecoder stands in for the Opus decoder so WebSocket tests run
// without libopus.
type stubDecoder struct{}

func (stubDecoder) Decode(packet []byte) ([]byte, error) {
	return audio.Int16sToBytes(make([]int16, 960)), nil
}

func testTranscription() *genai.TranscriptionResult {
	return &genai.TranscriptionResult{
		Language: "es",
		Meta:     genai.TranscriptionMeta{WordCount: 12, EstimatedLevel: "B1", Speed: "normal"},
		Segments: []genai.TranscribedSegment{
			{Start: 0, End: 2, Text: "hola que tal amigo", Translation: "hi how are you friend", Idiomatic: "hey, how's it going"},
			{Start: 2, End: 4, Text: "muy bien y tu que", Translation: "very well and you", Idiomatic: ""},
			{Start: 4, End: 6, Text: "todo tranquilo por aqui", Translation: "all calm over here", Idiomatic: "pretty chill here"},
		},
	}
}

func newTestServer(t *testing.T, p genai.Provider, d genai.Definer) (*httptest.Server, *session.Controller) {
	t.Helper()
	ctrl := session.NewController(p, d, nil)
	srv := New(Config{
		Controller: ctrl,
		Health:     health.New(),
		NewRecorder: func() (*recorder.Recorder, error) {
			return recorder.NewWithDecoder(stubDecoder{}), nil
		},
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, ctrl
}

// mp3Upload builds a multipart body whose payload sniffs as audio/mpeg.
func mp3Upload(t *testing.T) (*bytes.Buffer, string, []byte) {
	t.Helper()
	data := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0xAB}, 128)...)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", "clip.mp3")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(data)
	mw.Close()
	return &body, mw.FormDataContentType(), data
}

func waitReady(t *testing.T, ctrl *session.Controller) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl.State() == session.StateReady {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("controller never became ready, state = %v", ctrl.State())
}

// ── HTTP ──────────────────────────────────────────────────────────────────────

func TestUploadAndServeAudio(t *testing.T) {
	p := &mock.Provider{TranscribeResult: testTranscription()}
	ts, ctrl := newTestServer(t, p, nil)

	body, contentType, data := mp3Upload(t)
	resp, err := http.Post(ts.URL+"/api/session/audio", contentType, body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload status = %d, want 202", resp.StatusCode)
	}
	var reply struct {
		State    string `json:"state"`
		AudioURL string `json:"audioUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.State != "processing" {
		t.Errorf("state = %q, want processing", reply.State)
	}
	if !strings.HasPrefix(reply.AudioURL, "/api/audio/") {
		t.Fatalf("audioUrl = %q", reply.AudioURL)
	}
	waitReady(t, ctrl)

	audioResp, err := http.Get(ts.URL + reply.AudioURL)
	if err != nil {
		t.Fatalf("fetch audio: %v", err)
	}
	defer audioResp.Body.Close()
	if audioResp.StatusCode != http.StatusOK {
		t.Fatalf("audio status = %d, want 200", audioResp.StatusCode)
	}
	if ct := audioResp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", ct)
	}
	got, _ := io.ReadAll(audioResp.Body)
	if !bytes.Equal(got, data) {
		t.Error("served audio differs from upload")
	}

	notFound, err := http.Get(ts.URL + "/api/audio/nonexistent")
	if err != nil {
		t.Fatalf("fetch bogus token: %v", err)
	}
	notFound.Body.Close()
	if notFound.StatusCode != http.StatusNotFound {
		t.Errorf("bogus token status = %d, want 404", notFound.StatusCode)
	}
}

func TestUploadRejectsNonAudio(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Provider{}, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("audio", "notes.txt")
	fw.Write([]byte("definitely not audio content here"))
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/session/audio", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", resp.StatusCode)
	}
}

func TestUploadMissingField(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Provider{}, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("name", "clip.mp3")
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/session/audio", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadConflictWhileProcessing(t *testing.T) {
	release := make(chan struct{})
	p := &mock.Provider{
		TranscribeFunc: func(ctx context.Context, audio []byte, mimeType string) (*genai.TranscriptionResult, error) {
			<-release
			return testTranscription(), nil
		},
	}
	ts, _ := newTestServer(t, p, nil)
	defer close(release)

	body, contentType, _ := mp3Upload(t)
	resp, err := http.Post(ts.URL+"/api/session/audio", contentType, body)
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first upload status = %d, want 202", resp.StatusCode)
	}

	body2, contentType2, _ := mp3Upload(t)
	resp2, err := http.Post(ts.URL+"/api/session/audio", contentType2, body2)
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Errorf("second upload status = %d, want 409", resp2.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Provider{}, nil)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

// ── WebSocket ─────────────────────────────────────────────────────────────────

func dialWS(ctx context.Context, t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := strings.Replace(ts.URL, "http", "ws", 1) + "/api/session/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMsg(ctx context.Context, t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	var msg ServerMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

// readUntil skips interleaved messages (such as state snapshots pushed by
// controller events) until one of the wanted type arrives.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string) ServerMessage {
	t.Helper()
	for {
		msg := readMsg(ctx, t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
}

func sendIntent(ctx context.Context, t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("send %s: %v", msg.Type, err)
	}
}

func uploadAndWait(t *testing.T, ts *httptest.Server, ctrl *session.Controller) {
	t.Helper()
	body, contentType, _ := mp3Upload(t)
	resp, err := http.Post(ts.URL+"/api/session/audio", contentType, body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	waitReady(t, ctrl)
}

func TestWebSocketSnapshotOnConnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := &mock.Provider{TranscribeResult: testTranscription()}
	ts, ctrl := newTestServer(t, p, nil)
	uploadAndWait(t, ts, ctrl)

	conn := dialWS(ctx, t, ts)

	state := readMsg(ctx, t, conn)
	if state.Type != MsgState || state.State != "ready" {
		t.Fatalf("first message = %+v, want ready state", state)
	}
	if state.Language != "es" || state.Meta == nil {
		t.Errorf("snapshot missing transcript metadata: %+v", state)
	}
	if !strings.HasPrefix(state.AudioURL, "/api/audio/") {
		t.Errorf("audioUrl = %q", state.AudioURL)
	}

	segs := readMsg(ctx, t, conn)
	if segs.Type != MsgSegments || len(segs.Segments) != 3 {
		t.Fatalf("second message = %+v, want 3 segments", segs)
	}
	if segs.View != "all" {
		t.Errorf("view = %q, want all", segs.View)
	}
}

func TestWebSocketPlaybackAndFavorites(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := &mock.Provider{TranscribeResult: testTranscription()}
	ts, ctrl := newTestServer(t, p, nil)
	uploadAndWait(t, ts, ctrl)

	conn := dialWS(ctx, t, ts)
	readMsg(ctx, t, conn) // state
	readMsg(ctx, t, conn) // segments

	// A position inside the first segment highlights it.
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentTimeUpdate, Position: 0.5})
	active := readMsg(ctx, t, conn)
	if active.Type != MsgActiveSegment || active.ID == nil || *active.ID != 0 {
		t.Fatalf("active segment = %+v, want id 0", active)
	}

	// Repeating the same position must not re-announce.
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentTimeUpdate, Position: 1.0})

	id := 0
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentToggleFavorite, ID: &id})
	segs := readMsg(ctx, t, conn)
	if segs.Type != MsgSegments {
		t.Fatalf("after toggle: %+v, want segments", segs)
	}
	if !segs.Segments[0].Favorite {
		t.Error("segment 0 not marked favorite")
	}

	sendIntent(ctx, t, conn, ClientMessage{Type: IntentSetView, View: "favorites"})
	fav := readMsg(ctx, t, conn)
	if fav.View != "favorites" || len(fav.Segments) != 1 || fav.Segments[0].ID != 0 {
		t.Fatalf("favorites view = %+v, want only segment 0", fav)
	}
}

func TestWebSocketSegmentClickSeeks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := &mock.Provider{TranscribeResult: testTranscription()}
	ts, ctrl := newTestServer(t, p, nil)
	uploadAndWait(t, ts, ctrl)

	conn := dialWS(ctx, t, ts)
	readMsg(ctx, t, conn)
	readMsg(ctx, t, conn)

	id := 2
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentSegmentClick, ID: &id})
	seek := readMsg(ctx, t, conn)
	if seek.Type != MsgSeek || seek.Position != 4 {
		t.Fatalf("seek = %+v, want position 4", seek)
	}

	// Clicking the segment we are already inside stays quiet; verify by
	// sending a follow-up intent and checking its reply comes first.
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentSegmentClick, ID: &id})
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentTimeUpdate, Position: 4.2})
	next := readMsg(ctx, t, conn)
	if next.Type != MsgActiveSegment {
		t.Fatalf("got %+v, want active_segment (no redundant seek)", next)
	}
}

func TestWebSocketShadowingFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pcm := audio.Int16sToBytes(make([]int16, audio.SynthSampleRate/10))
	p := &mock.Provider{
		TranscribeResult: testTranscription(),
		SynthesizePCM:    pcm,
		ScoreResult: &genai.PronunciationScore{
			Score: 85, Feedback: "solid", Accuracy: genai.AccuracyGood,
			Recognized: "muy bien y tu",
		},
	}
	ts, ctrl := newTestServer(t, p, nil)
	uploadAndWait(t, ts, ctrl)

	conn := dialWS(ctx, t, ts)
	readMsg(ctx, t, conn)
	readMsg(ctx, t, conn)

	id := 1
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentShadowEnter, ID: &id})
	seek := readUntil(ctx, t, conn, MsgSeek)
	if seek.Position != 2 {
		t.Fatalf("shadow_enter seek = %+v, want position 2", seek)
	}
	if ctrl.State() != session.StateShadowing {
		t.Fatalf("state = %v, want shadowing", ctrl.State())
	}

	// Reference audio for the current shadowing segment.
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentPlayReference})
	ref := readUntil(ctx, t, conn, MsgReferenceAudio)
	if ref.ID == nil || *ref.ID != 1 {
		t.Fatalf("reference = %+v, want id 1", ref)
	}
	wav, err := base64.StdEncoding.DecodeString(ref.WAV)
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if len(wav) < 44 || string(wav[:4]) != "RIFF" {
		t.Error("reference payload is not a WAV file")
	}
	if ref.Variant != "reference" {
		t.Errorf("variant = %q, want reference", ref.Variant)
	}

	// Segment 1 has no idiomatic rephrasing; the idiomatic variant falls
	// back to the segment text, which the cache already holds.
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentPlayIdiomatic})
	idio := readUntil(ctx, t, conn, MsgReferenceAudio)
	if idio.Variant != "idiomatic" || idio.ID == nil || *idio.ID != 1 {
		t.Fatalf("idiomatic = %+v, want idiomatic variant for id 1", idio)
	}
	if n := len(p.SynthesizeCalls); n != 1 {
		t.Errorf("synthesize calls = %d, want 1 (cache hit for same text)", n)
	}

	// Stopping without any captured audio reports an error but keeps the
	// connection usable.
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentRecordStart})
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentRecordStop})
	empty := readUntil(ctx, t, conn, MsgError)
	if empty.Op != IntentRecordStop {
		t.Fatalf("empty recording reply = %+v, want record_stop error", empty)
	}

	// A real recording comes back as a score.
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentRecordStart})
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("send opus frame: %v", err)
	}
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentRecordStop})
	score := readUntil(ctx, t, conn, MsgScore)
	if score.ID == nil || *score.ID != 1 {
		t.Fatalf("score = %+v, want id 1", score)
	}
	if score.Score == nil || score.Score.Score != 85 {
		t.Fatalf("score payload = %+v", score.Score)
	}
	// The reference "muy bien y tu que" against recognized "muy bien y tu":
	// every word heard except the last.
	if len(score.Words) != 5 {
		t.Fatalf("words = %+v, want 5 entries", score.Words)
	}
	for i, w := range score.Words {
		if want := i < 4; w.Hit != want {
			t.Errorf("word %q hit = %v, want %v", w.Word, w.Hit, want)
		}
	}

	// shadow_next moves to the last segment and seeks there.
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentShadowNext})
	seek = readUntil(ctx, t, conn, MsgSeek)
	if seek.Position != 4 {
		t.Fatalf("shadow_next seek = %+v, want position 4", seek)
	}

	sendIntent(ctx, t, conn, ClientMessage{Type: IntentShadowExit})
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentTimeUpdate, Position: 4.5})
	if msg := readUntil(ctx, t, conn, MsgActiveSegment); msg.ID == nil || *msg.ID != 2 {
		t.Fatalf("after exit: %+v, want active segment 2", msg)
	}
	if ctrl.State() != session.StateReady {
		t.Errorf("state after exit = %v, want ready", ctrl.State())
	}
}

func TestWebSocketDefine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := &mock.Provider{TranscribeResult: testTranscription()}
	d := &mock.Definer{DefineResult: &genai.WordDefinition{
		Word: "tranquilo", Definition: "calm, quiet", Example: "todo tranquilo",
	}}
	ts, ctrl := newTestServer(t, p, d)
	uploadAndWait(t, ts, ctrl)

	conn := dialWS(ctx, t, ts)
	readMsg(ctx, t, conn)
	readMsg(ctx, t, conn)

	sendIntent(ctx, t, conn, ClientMessage{
		Type: IntentDefine, Word: "tranquilo", Sentence: "todo tranquilo por aqui",
	})
	def := readMsg(ctx, t, conn)
	if def.Type != MsgDefinition || def.Definition == nil || def.Definition.Word != "tranquilo" {
		t.Fatalf("definition = %+v", def)
	}
	if len(d.DefineCalls) != 1 || d.DefineCalls[0].Sentence != "todo tranquilo por aqui" {
		t.Errorf("DefineCalls = %+v", d.DefineCalls)
	}
}

func TestWebSocketDefineWithoutFallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := &mock.Provider{TranscribeResult: testTranscription()}
	ts, ctrl := newTestServer(t, p, nil)
	uploadAndWait(t, ts, ctrl)

	conn := dialWS(ctx, t, ts)
	readMsg(ctx, t, conn)
	readMsg(ctx, t, conn)

	sendIntent(ctx, t, conn, ClientMessage{Type: IntentDefine, Word: "hola"})
	msg := readMsg(ctx, t, conn)
	if msg.Type != MsgError || msg.Op != IntentDefine {
		t.Fatalf("reply = %+v, want error for define", msg)
	}
}

func TestWebSocketErrorsKeepConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := &mock.Provider{TranscribeResult: testTranscription()}
	ts, ctrl := newTestServer(t, p, nil)
	uploadAndWait(t, ts, ctrl)

	conn := dialWS(ctx, t, ts)
	readMsg(ctx, t, conn)
	readMsg(ctx, t, conn)

	id := 99
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentToggleFavorite, ID: &id})
	msg := readMsg(ctx, t, conn)
	if msg.Type != MsgError || msg.Op != IntentToggleFavorite {
		t.Fatalf("reply = %+v, want error", msg)
	}

	sendIntent(ctx, t, conn, ClientMessage{Type: "bogus_intent"})
	msg = readMsg(ctx, t, conn)
	if msg.Type != MsgError {
		t.Fatalf("reply = %+v, want error for unknown intent", msg)
	}

	// The connection still serves valid intents afterwards.
	good := 0
	sendIntent(ctx, t, conn, ClientMessage{Type: IntentToggleFavorite, ID: &good})
	if msg = readMsg(ctx, t, conn); msg.Type != MsgSegments {
		t.Fatalf("reply = %+v, want segments", msg)
	}
}

func TestWebSocketReset(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := &mock.Provider{TranscribeResult: testTranscription()}
	ts, ctrl := newTestServer(t, p, nil)
	uploadAndWait(t, ts, ctrl)

	conn := dialWS(ctx, t, ts)
	readMsg(ctx, t, conn)
	readMsg(ctx, t, conn)

	sendIntent(ctx, t, conn, ClientMessage{Type: IntentReset})
	state := readMsg(ctx, t, conn)
	if state.Type != MsgState || state.State != "idle" {
		t.Fatalf("after reset = %+v, want idle state", state)
	}
	if state.AudioURL != "" {
		t.Error("reset snapshot still carries an audio URL")
	}
	if ctrl.File() != nil {
		t.Error("controller still holds the audio file after reset")
	}
}
