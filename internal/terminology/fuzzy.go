package terminology

import (
	"sort"

	"github.com/joelkehle/snomed-consensus/internal/textsim"
)

const (
	trigramMinDice   = 0.3
	trigramShortlist = 50
)

// trigramIndex shortlists labels sharing trigrams with the query, then ranks
// the shortlist by Levenshtein ratio on accent-folded text.
type trigramIndex struct {
	terms    []foldedTerm
	postings map[string][]int
}

type foldedTerm struct {
	folded string
	code   string
	grams  int
}

func newTrigramIndex(index map[string]string) *trigramIndex {
	keys := make([]string, 0, len(index))
	for k := range index {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ix := &trigramIndex{postings: map[string][]int{}}
	seen := map[string]struct{}{}
	for _, k := range keys {
		f := textsim.Fold(k)
		if _, dup := seen[f]; dup || f == "" {
			continue
		}
		seen[f] = struct{}{}
		grams := trigrams(f)
		pos := len(ix.terms)
		ix.terms = append(ix.terms, foldedTerm{folded: f, code: index[k], grams: len(grams)})
		for g := range grams {
			ix.postings[g] = append(ix.postings[g], pos)
		}
	}
	return ix
}

func trigrams(s string) map[string]struct{} {
	r := []rune("  " + s + " ")
	out := make(map[string]struct{}, len(r))
	for i := 0; i+3 <= len(r); i++ {
		out[string(r[i:i+3])] = struct{}{}
	}
	return out
}

type shortlisted struct {
	pos  int
	dice float64
}

func (ix *trigramIndex) best(folded string, minRatio float64) (string, float64, bool) {
	if folded == "" || len(ix.terms) == 0 {
		return "", 0, false
	}
	q := trigrams(folded)
	shared := map[int]int{}
	for g := range q {
		for _, pos := range ix.postings[g] {
			shared[pos]++
		}
	}

	var list []shortlisted
	for pos, n := range shared {
		dice := 2 * float64(n) / float64(len(q)+ix.terms[pos].grams)
		if dice >= trigramMinDice {
			list = append(list, shortlisted{pos: pos, dice: dice})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].dice != list[j].dice {
			return list[i].dice > list[j].dice
		}
		return list[i].pos < list[j].pos
	})
	if len(list) > trigramShortlist {
		list = list[:trigramShortlist]
	}

	bestPos, bestRatio := -1, 0.0
	for _, c := range list {
		ratio := textsim.LevenshteinRatio(folded, ix.terms[c.pos].folded)
		if ratio > bestRatio || (ratio == bestRatio && bestPos >= 0 && c.pos < bestPos) {
			bestPos, bestRatio = c.pos, ratio
		}
	}
	if bestPos < 0 || bestRatio < minRatio {
		return "", bestRatio, false
	}
	return ix.terms[bestPos].code, bestRatio, true
}
