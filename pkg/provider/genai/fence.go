package genai

import "strings"

// StripCodeFence removes a surrounding markdown code fence from a model
// reply. Models in JSON mode occasionally wrap their output in
// ```json … ``` despite the response-format instruction; the payload
// inside is returned trimmed. Replies without a fence are returned
// unchanged (trimmed).
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	// Drop the opening fence line, including any language tag.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}

	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
