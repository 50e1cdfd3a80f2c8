package consensus

import "github.com/joelkehle/snomed-consensus/internal/textsim"

const (
	weightLevenshtein = 0.3
	weightWordOverlap = 0.4
	weightContainment = 0.3
)

// LexicalScore combines edit-distance similarity, shared words and substring
// containment of the normalised inputs into a score in [0,1].
func LexicalScore(a, b string) float64 {
	a, b = textsim.Normalize(a), textsim.Normalize(b)
	return weightLevenshtein*textsim.LevenshteinRatio(a, b) +
		weightWordOverlap*textsim.WordOverlap(a, b) +
		weightContainment*textsim.Containment(a, b)
}

type Thresholds struct {
	Accept float64 `yaml:"accept"`
	Reject float64 `yaml:"reject"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Accept: 0.5, Reject: 0.01}
}

type lexicalVerdict int

const (
	verdictAmbiguous lexicalVerdict = iota
	verdictAccept
	verdictReject
)

func (t Thresholds) classify(score float64) lexicalVerdict {
	switch {
	case score >= t.Accept:
		return verdictAccept
	case score <= t.Reject:
		return verdictReject
	default:
		return verdictAmbiguous
	}
}
