package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/joelkehle/snomed-consensus/internal/oracle"
)

var (
	ErrMalformedResponse = errors.New("extraction response malformed")
	// ErrNoCandidates is a well-formed reply that yields no usable term.
	ErrNoCandidates = errors.New("extraction produced no candidates")
	ErrEmptyNote    = errors.New("note text is empty")
)

type Extractor struct {
	oracle oracle.Oracle
	log    *zap.Logger
}

func NewExtractor(o oracle.Oracle, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{oracle: o, log: log.Named("extraction")}
}

// PrepareNote NFC-normalises and trims note, truncating it to MaxNoteChars runes.
func PrepareNote(note string) (string, bool) {
	note = strings.TrimSpace(norm.NFC.String(note))
	if utf8.RuneCountInString(note) <= MaxNoteChars {
		return note, false
	}
	return string([]rune(note)[:MaxNoteChars]), true
}

// Extract performs exactly one oracle call. Oracle errors are returned
// unchanged so callers can tell safety blocks from transport failures.
func (e *Extractor) Extract(ctx context.Context, note string) ([]Candidate, error) {
	note, truncated := PrepareNote(note)
	if note == "" {
		return nil, ErrEmptyNote
	}
	if truncated {
		e.log.Warn("note truncated", zap.Int("max_chars", MaxNoteChars))
	}

	reply, err := e.oracle.Generate(ctx, buildPrompt(note))
	if err != nil {
		return nil, err
	}
	candidates, dropped, err := ParseCandidates(reply.Text)
	if err != nil {
		return nil, err
	}
	e.log.Debug("extraction parsed",
		zap.String("model", reply.Model),
		zap.Int("candidates", len(candidates)),
		zap.Int("dropped", dropped))
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	return candidates, nil
}

// ParseCandidates decodes an extraction reply. Both the current English keys
// and the older French ones are accepted. Terms with an empty text or a
// category outside the three targets are dropped and counted.
func ParseCandidates(text string) ([]Candidate, int, error) {
	obj, err := oracle.ExtractJSONObject(text)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	root := gjson.Parse(obj)
	list := first(root, "terms", "termes_medicaux")
	if !list.IsArray() {
		return nil, 0, fmt.Errorf("%w: no terms array", ErrMalformedResponse)
	}

	var out []Candidate
	dropped := 0
	list.ForEach(func(_, item gjson.Result) bool {
		term := strings.TrimSpace(first(item, "term", "terme").String())
		cat, ok := ParseCategory(first(item, "category", "categorie").String())
		if term == "" || !ok {
			dropped++
			return true
		}
		out = append(out, Candidate{
			Text:         term,
			ProposedCode: strings.TrimSpace(first(item, "code", "code_classification", "snomed_code").String()),
			Category:     cat,
			Modifiers: parseModifiers(
				item.Get("negation").String(),
				first(item, "family", "famille", "provenance").String(),
				first(item, "certainty", "suspicion").String(),
				first(item, "recency", "antecedent").String(),
			),
		})
		return true
	})
	return out, dropped, nil
}

func first(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
