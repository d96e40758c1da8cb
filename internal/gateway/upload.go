package gateway

import (
	"errors"
	"net/http"
	"path"
	"strings"
)

// ErrUnsupportedMedia is returned when an upload is neither sniffed nor
// named as a supported audio container.
var ErrUnsupportedMedia = errors.New("gateway: unsupported media type")

// sniffedMIMEs maps content-sniffing results to the canonical MIME type
// sent to the provider. Sniffing sees containers, not codecs, so webm and
// mp4 show up under their video types.
var sniffedMIMEs = map[string]string{
	"audio/mpeg":      "audio/mpeg",
	"audio/wave":      "audio/wav",
	"audio/aiff":      "audio/aiff",
	"application/ogg": "audio/ogg",
	"video/webm":      "audio/webm",
	"video/mp4":       "audio/mp4",
}

// extensionMIMEs is the fallback for formats the sniffer reports as
// application/octet-stream (notably raw AAC and some m4a files).
var extensionMIMEs = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".webm": "audio/webm",
	".flac": "audio/flac",
}

// DetectAudioMIME determines the MIME type of an uploaded file, preferring
// content sniffing over the file name. Returns [ErrUnsupportedMedia] when
// neither identifies a supported audio format.
func DetectAudioMIME(name string, data []byte) (string, error) {
	sniffed := http.DetectContentType(data)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	if mime, ok := sniffedMIMEs[sniffed]; ok {
		return mime, nil
	}
	// FLAC is not in the stdlib sniffing table.
	if len(data) >= 4 && string(data[:4]) == "fLaC" {
		return "audio/flac", nil
	}
	if mime, ok := extensionMIMEs[strings.ToLower(path.Ext(name))]; ok {
		return mime, nil
	}
	return "", ErrUnsupportedMedia
}
