package consensus

import (
	"go.uber.org/zap"

	"github.com/joelkehle/snomed-consensus/internal/extraction"
)

type Validator struct {
	store Terminology
	log   *zap.Logger
}

func NewValidator(store Terminology, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{store: store, log: log}
}

// Validate resolves one run's candidates with the cascade exact label,
// then proposed code, then closest label. Unresolved candidates are dropped
// and only counted.
func (v *Validator) Validate(runID int, candidates []extraction.Candidate) RunValidation {
	out := RunValidation{RunID: runID, Input: len(candidates)}
	for _, c := range candidates {
		rec, ok := v.resolve(c)
		if !ok {
			out.Unresolved++
			v.log.Debug("candidate unresolved",
				zap.Int("run_id", runID),
				zap.String("term", c.Text),
				zap.String("proposed_code", c.ProposedCode))
			continue
		}
		rec.SourceRun = runID
		switch rec.Method {
		case ResolvedExact:
			out.ByExact++
		case ResolvedProposed:
			out.ByProposed++
		case ResolvedClosest:
			out.ByClosest++
		}
		out.Records = append(out.Records, rec)
	}
	out.Resolved = len(out.Records)
	return out
}

func (v *Validator) resolve(c extraction.Candidate) (ValidatedRecord, bool) {
	rec := ValidatedRecord{
		OriginalText: c.Text,
		Category:     c.Category,
		Modifiers:    c.Modifiers,
	}
	// the text is itself a label, so it stands as the official text
	if code, ok := v.store.ExactMatch(c.Text); ok {
		rec.ResolvedCode, rec.OfficialText, rec.Method = code, c.Text, ResolvedExact
		return rec, true
	}
	if c.ProposedCode != "" && v.store.IsValid(c.ProposedCode) {
		if label, ok := v.store.OfficialTerm(c.ProposedCode); ok {
			rec.ResolvedCode, rec.OfficialText, rec.Method = c.ProposedCode, label, ResolvedProposed
			return rec, true
		}
	}
	if code, ok := v.store.ClosestMatch(c.Text); ok && v.store.IsValid(code) {
		if label, ok := v.store.OfficialTerm(code); ok {
			rec.ResolvedCode, rec.OfficialText, rec.Method = code, label, ResolvedClosest
			return rec, true
		}
	}
	return rec, false
}
