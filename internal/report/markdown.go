// Package report renders a consensus result as Markdown, HTML or PDF.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/joelkehle/snomed-consensus/internal/consensus"
	"github.com/joelkehle/snomed-consensus/internal/extraction"
)

const Disclaimer = "Automated terminology mapping. Codes are suggestions for review and are not a clinical diagnosis."

type section struct {
	title    string
	entities []consensus.Entity
}

func sections(res consensus.Result) []section {
	return []section{
		{"Clinical Findings", res.Findings},
		{"Procedures", res.Procedures},
		{"Body Structures", res.BodyStructures},
		{"Observable Entities", res.Observables},
		{"Substances", res.Substances},
	}
}

// Markdown renders the result with one GFM table per category, followed by
// pipeline statistics, per-run details and the rejected pairs.
func Markdown(res consensus.Result) string {
	var b strings.Builder
	st := res.Stats
	fmt.Fprintf(&b, "# SNOMED CT Normalization Report\n\n")
	fmt.Fprintf(&b, "- Request ID: %s\n", res.RequestID)
	if !st.CompletedAt.IsZero() {
		fmt.Fprintf(&b, "- Date: %s\n", st.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- Runs: %d of %d succeeded\n", st.RunsSucceeded, st.RunsRequested)
	fmt.Fprintf(&b, "- Entities: %d\n", st.Final)
	if st.NoteTruncated {
		fmt.Fprintf(&b, "- Note truncated to %d characters\n", extraction.MaxNoteChars)
	}
	fmt.Fprintf(&b, "\n%s\n\n", Disclaimer)

	for _, s := range sections(res) {
		if len(s.entities) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", s.title)
		b.WriteString("| Term | Code | Official term | Modifiers | Confidence | Decision |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, e := range s.entities {
			fmt.Fprintf(&b, "| %s | `%s` | %s | %s | %.2f | %s |\n",
				cell(e.Term), e.Code, cell(e.OfficialTerm), modifierLabel(e.Modifiers), e.Confidence, e.Method)
		}
		b.WriteString("\n")
	}
	if st.Final == 0 {
		b.WriteString("No entity survived validation.\n\n")
	}

	fmt.Fprintf(&b, "## Pipeline Statistics\n\n")
	fmt.Fprintf(&b, "- Fusion policy: `%s`\n", st.FusionPolicy)
	fmt.Fprintf(&b, "- Candidates extracted: %d\n", st.CandidatesIn)
	fmt.Fprintf(&b, "- Resolved to active codes: %d\n", st.Resolved)
	fmt.Fprintf(&b, "- Cross-run duplicates removed: %d\n", st.DuplicatesRemoved)
	fmt.Fprintf(&b, "- Arbitrated pairs: %d\n", st.Arbitrated)
	fmt.Fprintf(&b, "- Rejected pairs: %d\n", st.Filtered)
	fmt.Fprintf(&b, "- Term duplicates discarded: %d\n", st.DiscardedDuplicates)
	if st.ArbitrationError != "" {
		fmt.Fprintf(&b, "- Arbitration error: %s\n", st.ArbitrationError)
	}
	b.WriteString("\n")

	if len(st.Runs) > 0 {
		fmt.Fprintf(&b, "## Extraction Runs\n\n")
		b.WriteString("| Run | Status | Candidates | Resolved | Exact / Proposed / Closest | Elapsed |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, r := range st.Runs {
			status := string(r.Status)
			if r.Error != "" {
				status += ": " + cell(r.Error)
			}
			fmt.Fprintf(&b, "| %d | %s | %d | %d | %d / %d / %d | %d ms |\n",
				r.RunID, status, r.Candidates, r.Resolved, r.ByExact, r.ByProposed, r.ByClosest, r.ElapsedMS)
		}
		b.WriteString("\n")
	}

	var rejected []consensus.Decision
	for _, d := range st.Decisions {
		if !d.Accepted {
			rejected = append(rejected, d)
		}
	}
	if len(rejected) > 0 {
		fmt.Fprintf(&b, "## Rejected Pairs\n\n")
		b.WriteString("| Extracted term | Official term | Code | Score | Reason |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, d := range rejected {
			fmt.Fprintf(&b, "| %s | %s | `%s` | %.2f | %s |\n",
				cell(d.Record.OriginalText), cell(d.Record.OfficialText), d.Record.ResolvedCode, d.Confidence, cell(d.Rationale))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func modifierLabel(m extraction.Modifiers) string {
	var parts []string
	if m.Negation == extraction.NegationNegative {
		parts = append(parts, "negated")
	}
	if m.Provenance == extraction.ProvenanceFamily {
		parts = append(parts, "family")
	}
	if m.Certainty == extraction.CertaintySuspected {
		parts = append(parts, "suspected")
	}
	if m.Recency == extraction.RecencyHistory {
		parts = append(parts, "history")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
