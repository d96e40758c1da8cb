package session

import (
	"math"
	"sync"

	"github.com/lingoloop/lingoloop/internal/transcript"
)

// SeekTolerance is how far (in seconds) the playback position may drift
// from a requested target before the client is told to seek. Seeking for
// sub-tolerance differences causes audible stutter for no benefit.
const SeekTolerance = 0.5

// Clock mirrors the browser's audio playback position. The client reports
// positions via periodic timeupdate intents; the server never advances the
// clock on its own.
type Clock struct {
	mu       sync.Mutex
	position float64
}

// Update records the latest reported playback position.
func (c *Clock) Update(pos float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	c.position = pos
}

// Position returns the last reported playback position in seconds.
func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// NeedsSeek reports whether jumping to target warrants telling the client
// to seek, i.e. the current position is more than [SeekTolerance] away.
func (c *Clock) NeedsSeek(target float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return math.Abs(c.position-target) > SeekTolerance
}

// Reset returns the clock to zero.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = 0
}

// ActiveSegment returns the index in segments of the segment whose
// half-open interval [Start, End) contains pos. When overlapping segments
// both contain pos, the earliest one wins. Returns -1 when no segment
// contains pos (gaps, or past the end of the transcript).
func ActiveSegment(segments []transcript.Segment, pos float64) int {
	for i, s := range segments {
		if pos >= s.Start && pos < s.End {
			return i
		}
	}
	return -1
}
