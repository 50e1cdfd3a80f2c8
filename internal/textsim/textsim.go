// Package textsim holds the string normalisation and similarity measures shared by
// the terminology index and the semantic coherence filter.
package textsim

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// chained transformers carry state, so each call gets its own
func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Normalize lowercases and trims s after NFC composition so that composed and
// decomposed accents compare equal.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

// Fold is Normalize plus accent stripping and whitespace collapsing. It is only
// used for approximate lookup keys, never for exact comparisons.
func Fold(s string) string {
	out, _, err := transform.String(stripMarks(), Normalize(s))
	if err != nil {
		out = Normalize(s)
	}
	return strings.Join(strings.Fields(out), " ")
}

// LevenshteinRatio is 1 - distance/maxRuneLen, in [0,1].
func LevenshteinRatio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// WordOverlap is the number of shared whitespace-separated words over the size
// of the larger word set.
func WordOverlap(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	larger := max(len(wa), len(wb))
	if larger == 0 {
		return 0
	}
	shared := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(larger)
}

// Containment is 1 when either string contains the other.
func Containment(a, b string) float64 {
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 1
	}
	return 0
}

func wordSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(s) {
		out[w] = struct{}{}
	}
	return out
}
