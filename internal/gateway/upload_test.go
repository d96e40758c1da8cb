package gateway

import (
	"errors"
	"testing"
)

func TestDetectAudioMIME(t *testing.T) {
	// 12 bytes is the minimum the sniffer needs for RIFF containers.
	wavHeader := append([]byte("RIFF\x24\x00\x00\x00WAVE"), make([]byte, 32)...)
	mp3Header := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 32)...)
	oggHeader := append([]byte("OggS\x00"), make([]byte, 32)...)
	flacHeader := append([]byte("fLaC\x00\x00\x00\x22"), make([]byte, 32)...)
	junk := make([]byte, 64)

	tests := []struct {
		name     string
		fileName string
		data     []byte
		want     string
	}{
		{"mp3 by content", "clip.bin", mp3Header, "audio/mpeg"},
		{"wav by content", "clip.bin", wavHeader, "audio/wav"},
		{"ogg by content", "clip.bin", oggHeader, "audio/ogg"},
		{"flac magic", "clip.bin", flacHeader, "audio/flac"},
		{"m4a by extension", "clip.m4a", junk, "audio/mp4"},
		{"opus by extension", "clip.opus", junk, "audio/ogg"},
		{"extension is case-insensitive", "CLIP.MP3", junk, "audio/mpeg"},
		{"content wins over extension", "clip.wav", mp3Header, "audio/mpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectAudioMIME(tt.fileName, tt.data)
			if err != nil {
				t.Fatalf("DetectAudioMIME: %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectAudioMIME = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectAudioMIMERejectsNonAudio(t *testing.T) {
	for _, tt := range []struct {
		name     string
		fileName string
		data     []byte
	}{
		{"plain text", "notes.txt", []byte("hello world, this is not audio")},
		{"html", "page.html", []byte("<!DOCTYPE html><html></html>")},
		{"unknown binary", "data.bin", make([]byte, 64)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DetectAudioMIME(tt.fileName, tt.data); !errors.Is(err, ErrUnsupportedMedia) {
				t.Errorf("err = %v, want ErrUnsupportedMedia", err)
			}
		})
	}
}
