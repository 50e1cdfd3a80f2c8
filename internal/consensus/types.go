// Package consensus reconciles several extraction runs over the same note into
// one validated, deduplicated and categorised set of SNOMED CT entities.
package consensus

import (
	"time"

	"github.com/joelkehle/snomed-consensus/internal/extraction"
)

const (
	DefaultRuns = 3
	MaxRuns     = 10
)

// Terminology is the read-only lookup surface the pipeline needs.
type Terminology interface {
	Load() error
	IsValid(code string) bool
	OfficialTerm(code string) (string, bool)
	ExactMatch(text string) (string, bool)
	ClosestMatch(text string) (string, bool)
}

// Hierarchy is optionally implemented by a Terminology with IS-A data.
type Hierarchy interface {
	HasHierarchy() bool
	TopLevelAncestors(code string) []string
}

type ResolutionMethod string

const (
	ResolvedExact    ResolutionMethod = "exact"
	ResolvedProposed ResolutionMethod = "proposed_code"
	ResolvedClosest  ResolutionMethod = "closest_match"
)

// ValidatedRecord is a candidate whose code is active in the terminology.
type ValidatedRecord struct {
	OriginalText string               `json:"original_text"`
	ResolvedCode string               `json:"resolved_code"`
	OfficialText string               `json:"official_text"`
	Category     extraction.Category  `json:"category"`
	Modifiers    extraction.Modifiers `json:"modifiers"`
	SourceRun    int                  `json:"source_run"`
	Method       ResolutionMethod     `json:"method"`
}

type RunValidation struct {
	RunID      int               `json:"run_id"`
	Records    []ValidatedRecord `json:"records"`
	Input      int               `json:"input"`
	Resolved   int               `json:"resolved"`
	ByExact    int               `json:"by_exact"`
	ByProposed int               `json:"by_proposed"`
	ByClosest  int               `json:"by_closest"`
	Unresolved int               `json:"unresolved"`
}

type DecisionMethod string

const (
	DecisionIdentical     DecisionMethod = "identical"
	DecisionLexicalAccept DecisionMethod = "lexical_accept"
	DecisionLexicalReject DecisionMethod = "lexical_reject"
	DecisionArbitrated    DecisionMethod = "arbitrated"
)

// Decision is the coherence verdict for one (original, official) pair.
type Decision struct {
	Record       ValidatedRecord `json:"record"`
	LexicalScore float64         `json:"lexical_score"`
	Arbitration  *float64        `json:"arbitration_confidence,omitempty"`
	Confidence   float64         `json:"confidence"`
	Accepted     bool            `json:"accepted"`
	Method       DecisionMethod  `json:"method"`
	Rationale    string          `json:"rationale"`
}

type Entity struct {
	Term         string               `json:"term"`
	Code         string               `json:"code"`
	OfficialTerm string               `json:"official_term"`
	Category     extraction.Category  `json:"category"`
	Modifiers    extraction.Modifiers `json:"modifiers"`
	Confidence   float64              `json:"confidence"`
	Method       DecisionMethod       `json:"method"`
	SourceRun    int                  `json:"source_run"`
}

type RunStatus string

const (
	RunOK              RunStatus = "ok"
	RunSafetyBlocked   RunStatus = "safety_blocked"
	RunUnavailable     RunStatus = "unavailable"
	RunMalformed       RunStatus = "malformed"
	RunNoCandidates    RunStatus = "no_candidates"
	RunAdmissionDenied RunStatus = "admission_denied"
	RunTimeout         RunStatus = "timeout"
)

type RunReport struct {
	RunID      int       `json:"run_id"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	Candidates int       `json:"candidates"`
	Resolved   int       `json:"resolved"`
	ByExact    int       `json:"by_exact"`
	ByProposed int       `json:"by_proposed"`
	ByClosest  int       `json:"by_closest"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	// Order is the completion rank of the run, starting at 0.
	Order int `json:"completion_order"`
}

type Stats struct {
	RunsRequested       int         `json:"runs_requested"`
	RunsSucceeded       int         `json:"runs_succeeded"`
	CandidatesIn        int         `json:"candidates_in"`
	Resolved            int         `json:"resolved"`
	DuplicatesRemoved   int         `json:"duplicates_removed"`
	Filtered            int         `json:"filtered"`
	Arbitrated          int         `json:"arbitrated"`
	ArbitrationError    string      `json:"arbitration_error,omitempty"`
	Final               int         `json:"final"`
	DiscardedDuplicates int         `json:"discarded_term_duplicates"`
	NoteTruncated       bool        `json:"note_truncated"`
	FusionPolicy        string      `json:"fusion_policy"`
	Runs                []RunReport `json:"runs"`
	Decisions           []Decision  `json:"decisions"`
	StartedAt           time.Time   `json:"started_at"`
	CompletedAt         time.Time   `json:"completed_at"`
}

type Result struct {
	RequestID      string   `json:"request_id"`
	Findings       []Entity `json:"findings"`
	Procedures     []Entity `json:"procedures"`
	BodyStructures []Entity `json:"body_structures"`
	Observables    []Entity `json:"observables"`
	Substances     []Entity `json:"substances"`
	Stats          Stats    `json:"stats"`
}

// Entities returns every entity of the result in category order.
func (r Result) Entities() []Entity {
	out := make([]Entity, 0, len(r.Findings)+len(r.Procedures)+len(r.BodyStructures)+len(r.Observables)+len(r.Substances))
	out = append(out, r.Findings...)
	out = append(out, r.Procedures...)
	out = append(out, r.BodyStructures...)
	out = append(out, r.Observables...)
	out = append(out, r.Substances...)
	return out
}
