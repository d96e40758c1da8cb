package genai

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is returned by provider constructors when no API
// key is configured. This is fatal for the primary provider; for the
// definition fallback it merely disables the fallback path.
var ErrMissingCredential = errors.New("genai: missing API credential")

// ErrEmptyResponse indicates the model returned no usable candidate.
var ErrEmptyResponse = errors.New("genai: empty model response")

// ErrNoAudio indicates a synthesis response carried no audio payload.
var ErrNoAudio = errors.New("genai: response contains no audio payload")

// FormatError indicates the model's reply could not be parsed as the
// requested JSON shape, even after stripping a surrounding markdown code
// fence. It is a hard failure, never silently swallowed.
type FormatError struct {
	// Op names the operation whose response was malformed
	// ("transcribe", "score", "define").
	Op string

	// Err is the underlying parse or validation error.
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("genai: %s: malformed response: %v", e.Op, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }
