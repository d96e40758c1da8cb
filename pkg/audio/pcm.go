// Package audio provides the PCM plumbing shared by the playback and
// recording paths: decoding the base64 16-bit PCM returned by the speech
// synthesis API into playable samples, wrapping raw PCM in a WAV container,
// and sample-rate conversion between the microphone and scoring formats.
//
// All PCM in this package is signed 16-bit little-endian ("s16le"). The
// synthesis API produces mono 24 000 Hz; microphone capture is decoded at
// 48 000 Hz and downsampled before upload.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

const (
	// SynthSampleRate is the sample rate of PCM returned by the speech
	// synthesis API: mono, 24 000 Hz.
	SynthSampleRate = 24000

	// CaptureSampleRate is the sample rate of decoded microphone audio.
	CaptureSampleRate = 48000

	// ScoringSampleRate is the sample rate expected by the pronunciation
	// scoring endpoint.
	ScoringSampleRate = 16000
)

// DecodeBase64PCM16 decodes a base64 string of s16le PCM into normalized
// float32 samples in [-1, 1). An odd decoded byte count indicates a
// truncated payload and is rejected.
func DecodeBase64PCM16(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64 pcm: %w", err)
	}
	return SamplesFromPCM16(raw)
}

// SamplesFromPCM16 converts raw s16le PCM bytes into normalized float32
// samples. Returns an error for odd-length input.
func SamplesFromPCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: truncated pcm: %d bytes", len(pcm))
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(s) / 32768.0
	}
	return samples, nil
}

// Int16sToBytes converts a slice of int16 PCM samples to s16le bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], uint16(s))
	}
	return b
}

// Duration returns the play time in seconds of an s16le PCM buffer at the
// given sample rate and channel count. Returns 0 for invalid inputs.
func Duration(pcm []byte, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * 2
	return float64(len(pcm)) / float64(bytesPerSec)
}
