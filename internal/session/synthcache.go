package session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/lingoloop/lingoloop/internal/observe"
	"github.com/lingoloop/lingoloop/pkg/audio"
	"github.com/lingoloop/lingoloop/pkg/provider/genai"
)

// SynthCache memoises synthesized reference audio keyed by the exact text
// that was spoken. Repeating a shadowing segment is the common case, and a
// synthesis round-trip is orders of magnitude slower than a map lookup.
//
// Concurrent requests for the same text are collapsed into a single
// provider call via singleflight. The cache lives for one session; [Drop]
// empties it on reset or when the configured voice changes.
type SynthCache struct {
	provider genai.Provider
	metrics  *observe.Metrics

	sf singleflight.Group

	mu      sync.Mutex
	entries map[string][]byte // WAV bytes by exact text
}

// NewSynthCache creates an empty cache backed by the given provider.
// metrics may be nil in tests.
func NewSynthCache(provider genai.Provider, metrics *observe.Metrics) *SynthCache {
	return &SynthCache{
		provider: provider,
		metrics:  metrics,
		entries:  make(map[string][]byte),
	}
}

// Get returns the WAV-encoded reference audio for text, synthesizing it on
// first request. A failed synthesis is not cached; the next request retries.
func (sc *SynthCache) Get(ctx context.Context, text string) ([]byte, error) {
	sc.mu.Lock()
	wav, ok := sc.entries[text]
	sc.mu.Unlock()
	if ok {
		sc.recordLookup(ctx, "hit")
		return wav, nil
	}
	sc.recordLookup(ctx, "miss")

	v, err, _ := sc.sf.Do(text, func() (any, error) {
		// Re-check: a concurrent caller may have filled the entry between
		// the map read and the singleflight dedup.
		sc.mu.Lock()
		if wav, ok := sc.entries[text]; ok {
			sc.mu.Unlock()
			return wav, nil
		}
		sc.mu.Unlock()

		pcm, err := sc.provider.SynthesizeSpeech(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("session: synthesize reference: %w", err)
		}
		wav := audio.EncodeWAV(pcm, audio.SynthSampleRate, 1)

		sc.mu.Lock()
		sc.entries[text] = wav
		sc.mu.Unlock()
		return wav, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Len returns the number of cached clips.
func (sc *SynthCache) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.entries)
}

// Drop empties the cache.
func (sc *SynthCache) Drop() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.entries = make(map[string][]byte)
}

func (sc *SynthCache) recordLookup(ctx context.Context, result string) {
	if sc.metrics != nil {
		sc.metrics.RecordSynthCacheLookup(ctx, result)
	}
}
