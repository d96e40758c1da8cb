package transcript

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// WordMatch reports whether one reference word was recognized in the
// learner's recording.
type WordMatch struct {
	Word string `json:"word"`
	Hit  bool   `json:"hit"`
}

// AlignWords compares the reference text of a segment against the text the
// scoring service recognized in the learner's recording and marks, word by
// word, which reference words were matched. A reference word counts as a
// hit when a recognized word within a small positional window is an exact,
// near (Levenshtein distance ≤ 1), or phonetic (Metaphone) match.
//
// The alignment is greedy left-to-right: each recognized word is consumed
// at most once, so repeated reference words need repeated utterances.
func AlignWords(reference, recognized string) []WordMatch {
	refWords := splitWords(reference)
	if len(refWords) == 0 {
		return nil
	}
	recWords := splitWords(recognized)

	matches := make([]WordMatch, len(refWords))
	used := make([]bool, len(recWords))

	// A drifting window keeps alignment local: insertions or dropped words
	// shift later matches instead of pairing distant words.
	const window = 3
	cursor := 0

	for i, rw := range refWords {
		matches[i] = WordMatch{Word: rw}

		lo := max(cursor-window, 0)
		hi := min(cursor+window+1, len(recWords))
		for j := lo; j < hi; j++ {
			if used[j] || !wordsMatch(rw, recWords[j]) {
				continue
			}
			matches[i].Hit = true
			used[j] = true
			cursor = j + 1
			break
		}
		if !matches[i].Hit {
			cursor++
		}
	}
	return matches
}

// wordsMatch reports whether two normalized words are close enough to count
// as the same utterance.
func wordsMatch(a, b string) bool {
	if a == b {
		return true
	}
	if matchr.Levenshtein(a, b) <= 1 {
		return true
	}
	ma, _ := matchr.DoubleMetaphone(a)
	mb, _ := matchr.DoubleMetaphone(b)
	return ma != "" && ma == mb
}

// splitWords lowercases s, strips punctuation, and returns its words.
func splitWords(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}
