package consensus

import (
	"go.uber.org/zap"

	"github.com/joelkehle/snomed-consensus/internal/extraction"
	"github.com/joelkehle/snomed-consensus/internal/textsim"
)

type Finalization struct {
	Entities  []Entity
	Discarded []Decision
}

// Finalize collapses accepted decisions sharing a normalised original term.
// In a group, the single record whose official term equals the original wins;
// with zero or several such records the first one encountered is kept.
func Finalize(accepted []Decision, categorizer *Categorizer, log *zap.Logger) Finalization {
	if log == nil {
		log = zap.NewNop()
	}
	var order []string
	groups := map[string][]Decision{}
	for _, d := range accepted {
		key := textsim.Normalize(d.Record.OriginalText)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], d)
	}

	var out Finalization
	for _, key := range order {
		group := groups[key]
		keep := pickRepresentative(group)
		for i, d := range group {
			if i == keep {
				continue
			}
			out.Discarded = append(out.Discarded, d)
			log.Info("discarded duplicate term",
				zap.String("term", d.Record.OriginalText),
				zap.String("code", d.Record.ResolvedCode),
				zap.String("kept_code", group[keep].Record.ResolvedCode))
		}
		out.Entities = append(out.Entities, toEntity(group[keep], categorizer))
	}
	return out
}

func pickRepresentative(group []Decision) int {
	if len(group) == 1 {
		return 0
	}
	match := -1
	for i, d := range group {
		if textsim.Normalize(d.Record.OfficialText) == textsim.Normalize(d.Record.OriginalText) {
			if match >= 0 {
				return 0
			}
			match = i
		}
	}
	if match < 0 {
		return 0
	}
	return match
}

func toEntity(d Decision, categorizer *Categorizer) Entity {
	cat := extraction.CategoryClinicalFinding
	if categorizer != nil {
		cat = categorizer.Categorize(d.Record.ResolvedCode)
	}
	return Entity{
		Term:         d.Record.OriginalText,
		Code:         d.Record.ResolvedCode,
		OfficialTerm: d.Record.OfficialText,
		Category:     cat,
		Modifiers:    d.Record.Modifiers,
		Confidence:   d.Confidence,
		Method:       d.Method,
		SourceRun:    d.Record.SourceRun,
	}
}
