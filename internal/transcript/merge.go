package transcript

const (
	// mergeMaxWords is the word count below which an accumulated segment is
	// still considered a filler fragment.
	mergeMaxWords = 4

	// mergeMaxDuration is the duration in seconds below which an
	// accumulated segment is still considered a filler fragment.
	mergeMaxDuration = 2.0
)

// Merge consolidates raw transcription segments by folding short filler
// fragments ("Hi", "uh", "so…") into their successors.
//
// The pass is a deterministic, order-preserving fold: an accumulator starts
// at the first segment, and each following segment either extends it (when
// the accumulator is still below both the word and duration thresholds) or
// commits it and starts fresh. Merging extends the accumulator's end time,
// joins text and translation with a single space, and adopts the
// successor's idiomatic form when non-empty. Committed segments are never
// revisited, even if a merge leaves the accumulator short again later.
//
// Empty input yields empty output; a single segment is returned unchanged.
func Merge(segments []Segment) []Segment {
	if len(segments) == 0 {
		return nil
	}

	out := make([]Segment, 0, len(segments))
	acc := segments[0]

	for _, next := range segments[1:] {
		if wordCount(acc.Text) < mergeMaxWords && acc.End-acc.Start < mergeMaxDuration {
			acc.End = next.End
			acc.Text = joinSpaced(acc.Text, next.Text)
			acc.Translation = joinSpaced(acc.Translation, next.Translation)
			if next.Idiomatic != "" {
				acc.Idiomatic = next.Idiomatic
			}
			continue
		}
		out = append(out, acc)
		acc = next
	}

	return append(out, acc)
}

// joinSpaced concatenates a and b with a single space, tolerating either
// side being empty.
func joinSpaced(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
