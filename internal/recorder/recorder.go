// Package recorder accumulates the learner's microphone audio during a
// shadowing attempt.
//
// The browser streams Opus packets (48 kHz mono, 20 ms frames) over the
// WebSocket binary channel while recording is active. Each packet is decoded
// to PCM as it arrives; stopping yields a single WAV clip downsampled to
// 16 kHz, the rate the scoring endpoint expects.
package recorder

import (
	"errors"
	"fmt"
	"sync"

	"layeh.com/gopus"

	"github.com/lingoloop/lingoloop/pkg/audio"
)

// Microphone capture parameters: 48 kHz mono Opus at 20 ms frame size.
const (
	captureChannels = 1
	frameSizeMs     = 20
	// frameSize is the number of samples per channel per 20 ms frame.
	frameSize = audio.CaptureSampleRate * frameSizeMs / 1000 // 960
)

// ErrEmptyRecording is returned by [Recorder.Stop] when no audio was
// captured between Start and Stop.
var ErrEmptyRecording = errors.New("recorder: no audio captured")

// Decoder decodes one Opus packet into interleaved little-endian int16 PCM
// bytes. Satisfied by the production gopus wrapper and by fakes in tests.
type Decoder interface {
	Decode(packet []byte) ([]byte, error)
}

// opusDecoder wraps a gopus Opus decoder. A single decoder instance must
// see every packet of a stream in order to keep its internal state correct.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(audio.CaptureSampleRate, captureChannels)
	if err != nil {
		return nil, fmt.Errorf("recorder: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

func (d *opusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("recorder: opus decode: %w", err)
	}
	return audio.Int16sToBytes(pcm), nil
}

// Clip is a finished recording ready for scoring.
type Clip struct {
	// WAV is the complete recording encoded as a 16 kHz mono WAV file.
	WAV []byte

	// Duration is the clip length in seconds.
	Duration float64
}

// Recorder captures one shadowing attempt at a time. It is safe for
// concurrent use.
type Recorder struct {
	mu      sync.Mutex
	dec     Decoder
	active  bool
	pcm     []byte // accumulated 48 kHz mono s16le
	dropped int
}

// New creates a Recorder backed by a fresh Opus decoder.
func New() (*Recorder, error) {
	dec, err := newOpusDecoder()
	if err != nil {
		return nil, err
	}
	return &Recorder{dec: dec}, nil
}

// NewWithDecoder creates a Recorder with an injected decoder. Used by tests
// that must not depend on libopus.
func NewWithDecoder(dec Decoder) *Recorder {
	return &Recorder{dec: dec}
}

// Start begins capturing. Starting while already active is a no-op; the
// recording in progress continues undisturbed.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return
	}
	r.active = true
	r.pcm = r.pcm[:0]
	r.dropped = 0
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Push decodes one Opus packet and appends it to the recording. Packets
// arriving while not recording are discarded. A packet that fails to decode
// is dropped and counted; a corrupt frame should not kill the attempt.
func (r *Recorder) Push(packet []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	pcm, err := r.dec.Decode(packet)
	if err != nil {
		r.dropped++
		return err
	}
	r.pcm = append(r.pcm, pcm...)
	return nil
}

// Stop finishes the recording and returns the captured audio as a 16 kHz
// mono WAV clip. Returns [ErrEmptyRecording] when nothing was captured.
// Stopping while not active also returns ErrEmptyRecording.
func (r *Recorder) Stop() (*Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasActive := r.active
	r.active = false
	if !wasActive || len(r.pcm) == 0 {
		return nil, ErrEmptyRecording
	}

	scoring := audio.ResampleMono16(r.pcm, audio.CaptureSampleRate, audio.ScoringSampleRate)
	clip := &Clip{
		WAV:      audio.EncodeWAV(scoring, audio.ScoringSampleRate, captureChannels),
		Duration: audio.Duration(scoring, audio.ScoringSampleRate, captureChannels),
	}
	r.pcm = nil
	return clip, nil
}

// Dropped returns the number of packets discarded due to decode errors
// during the current or most recent recording.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
