// Package extraction turns one clinical note into term candidates with a
// single oracle call.
package extraction

import "strings"

const MaxNoteChars = 20000

type Category string

const (
	CategoryClinicalFinding  Category = "clinical_finding"
	CategoryProcedure        Category = "procedure"
	CategoryBodyStructure    Category = "body_structure"
	CategoryObservableEntity Category = "observable_entity"
	CategorySubstance        Category = "substance"
)

// ParseCategory maps the loose labels models produce (English or French) onto
// the three extraction targets. Anything else is reported as unmapped.
func ParseCategory(raw string) (Category, bool) {
	c := lowerTrim(raw)
	switch {
	case c == "":
		return "", false
	case strings.Contains(c, "finding"), strings.Contains(c, "symptome"), strings.Contains(c, "symptôme"),
		strings.Contains(c, "diagnostic"), strings.Contains(c, "constatation"):
		return CategoryClinicalFinding, true
	case strings.Contains(c, "procedure"), strings.Contains(c, "procédure"), strings.Contains(c, "traitement"),
		strings.Contains(c, "intervention"):
		return CategoryProcedure, true
	case strings.Contains(c, "structure"), strings.Contains(c, "anatomie"), strings.Contains(c, "corps"):
		return CategoryBodyStructure, true
	}
	return "", false
}

type Negation string

const (
	NegationPositive Negation = "positive"
	NegationNegative Negation = "negative"
)

type Provenance string

const (
	ProvenancePatient Provenance = "patient"
	ProvenanceFamily  Provenance = "family"
)

type Certainty string

const (
	CertaintyConfirmed Certainty = "confirmed"
	CertaintySuspected Certainty = "suspected"
)

type Recency string

const (
	RecencyCurrent Recency = "current"
	RecencyHistory Recency = "history"
)

type Modifiers struct {
	Negation   Negation   `json:"negation"`
	Provenance Provenance `json:"provenance"`
	Certainty  Certainty  `json:"certainty"`
	Recency    Recency    `json:"recency"`
}

func DefaultModifiers() Modifiers {
	return Modifiers{
		Negation:   NegationPositive,
		Provenance: ProvenancePatient,
		Certainty:  CertaintyConfirmed,
		Recency:    RecencyCurrent,
	}
}

// parseModifiers keeps only known values; anything else falls back to the default.
func parseModifiers(negation, provenance, certainty, recency string) Modifiers {
	m := DefaultModifiers()
	if Negation(lowerTrim(negation)) == NegationNegative {
		m.Negation = NegationNegative
	}
	if Provenance(lowerTrim(provenance)) == ProvenanceFamily {
		m.Provenance = ProvenanceFamily
	}
	if Certainty(lowerTrim(certainty)) == CertaintySuspected {
		m.Certainty = CertaintySuspected
	}
	if Recency(lowerTrim(recency)) == RecencyHistory {
		m.Recency = RecencyHistory
	}
	return m
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Candidate is one term proposed by one extraction run.
type Candidate struct {
	Text         string    `json:"text"`
	ProposedCode string    `json:"proposed_code"`
	Category     Category  `json:"category"`
	Modifiers    Modifiers `json:"modifiers"`
}
