package resilience

import (
	"context"
	"log/slog"

	"github.com/lingoloop/lingoloop/pkg/provider/genai"
)

// DefinerFallback wraps a primary [genai.Definer] and an optional
// secondary. Word definition is the only text-only operation of the
// provider contract, so it is the only one with a fallback path.
//
// On a primary failure the secondary is tried once. If the secondary also
// fails, or no secondary is configured, the PRIMARY error is returned —
// the caller should see why the preferred provider failed, not why the
// backup did. Each definer gets its own circuit breaker so a persistently
// failing primary is bypassed quickly.
//
// DefinerFallback is safe for concurrent use.
type DefinerFallback struct {
	primary       genai.Definer
	primaryName   string
	secondary     genai.Definer
	secondaryName string

	primaryBreaker   *CircuitBreaker
	secondaryBreaker *CircuitBreaker
}

var _ genai.Definer = (*DefinerFallback)(nil)

// NewDefinerFallback creates a DefinerFallback. secondary may be nil, in
// which case Define simply forwards to the primary through its breaker.
func NewDefinerFallback(primary genai.Definer, primaryName string, secondary genai.Definer, secondaryName string, cbCfg CircuitBreakerConfig) *DefinerFallback {
	df := &DefinerFallback{
		primary:     primary,
		primaryName: primaryName,
	}
	primaryCfg := cbCfg
	primaryCfg.Name = primaryName
	df.primaryBreaker = NewCircuitBreaker(primaryCfg)

	if secondary != nil {
		df.secondary = secondary
		df.secondaryName = secondaryName
		secondaryCfg := cbCfg
		secondaryCfg.Name = secondaryName
		df.secondaryBreaker = NewCircuitBreaker(secondaryCfg)
	}
	return df
}

// HasFallback reports whether a secondary definer is configured.
func (df *DefinerFallback) HasFallback() bool {
	return df.secondary != nil
}

// Define implements genai.Definer.
func (df *DefinerFallback) Define(ctx context.Context, word, sentence string) (*genai.WordDefinition, error) {
	var def *genai.WordDefinition
	primaryErr := df.primaryBreaker.Execute(func() error {
		var err error
		def, err = df.primary.Define(ctx, word, sentence)
		return err
	})
	if primaryErr == nil {
		return def, nil
	}

	if df.secondary == nil {
		return nil, primaryErr
	}

	slog.Warn("primary definer failed, trying fallback",
		"primary", df.primaryName,
		"fallback", df.secondaryName,
		"error", primaryErr)

	secondaryErr := df.secondaryBreaker.Execute(func() error {
		var err error
		def, err = df.secondary.Define(ctx, word, sentence)
		return err
	})
	if secondaryErr == nil {
		return def, nil
	}

	slog.Warn("fallback definer also failed",
		"fallback", df.secondaryName,
		"error", secondaryErr)
	// Surface the primary error, not the fallback's.
	return nil, primaryErr
}
