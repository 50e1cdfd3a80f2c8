package consensus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/joelkehle/snomed-consensus/internal/extraction"
	"github.com/joelkehle/snomed-consensus/internal/oracle"
	"github.com/joelkehle/snomed-consensus/internal/textsim"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose view worker is started in init and never stops.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// memStore is an in-memory Terminology keyed by code.
type memStore struct {
	labels  map[string][]string
	closest map[string]string
	parents map[string][]string
	loadErr error
}

func newMemStore() *memStore {
	return &memStore{
		labels: map[string][]string{
			"38907003":  {"varicelle"},
			"271807003": {"éruption cutanée", "rash"},
			"418290006": {"démangeaison"},
			"21522001":  {"douleur abdominale"},
			"225358003": {"soins des plaies"},
			"445662006": {"membres"},
			"999000":    nil,
		},
		closest: map[string]string{},
	}
}

func (s *memStore) Load() error { return s.loadErr }

func (s *memStore) IsValid(code string) bool {
	if s.loadErr != nil {
		return false
	}
	_, ok := s.labels[code]
	return ok
}

func (s *memStore) OfficialTerm(code string) (string, bool) {
	l := s.labels[code]
	if s.loadErr != nil || len(l) == 0 {
		return "", false
	}
	return l[0], true
}

func (s *memStore) ExactMatch(text string) (string, bool) {
	if s.loadErr != nil {
		return "", false
	}
	key := textsim.Normalize(text)
	for code, labels := range s.labels {
		for _, l := range labels {
			if textsim.Normalize(l) == key {
				return code, true
			}
		}
	}
	return "", false
}

func (s *memStore) ClosestMatch(text string) (string, bool) {
	if code, ok := s.ExactMatch(text); ok {
		return code, true
	}
	code, ok := s.closest[textsim.Normalize(text)]
	return code, ok
}

type hierarchyStore struct {
	*memStore
}

func (s hierarchyStore) HasHierarchy() bool { return len(s.parents) > 0 }

func (s hierarchyStore) TopLevelAncestors(code string) []string {
	return s.parents[code]
}

// scriptedExtractor hands out candidate lists in call order; calls past the
// end reuse the last script entry.
type scriptedExtractor struct {
	mu      sync.Mutex
	scripts []func(ctx context.Context) ([]extraction.Candidate, error)
	calls   int
}

func (e *scriptedExtractor) Extract(ctx context.Context, _ string) ([]extraction.Candidate, error) {
	e.mu.Lock()
	idx := min(e.calls, len(e.scripts)-1)
	e.calls++
	fn := e.scripts[idx]
	e.mu.Unlock()
	return fn(ctx)
}

func returns(c ...extraction.Candidate) func(context.Context) ([]extraction.Candidate, error) {
	return func(context.Context) ([]extraction.Candidate, error) { return c, nil }
}

func fails(err error) func(context.Context) ([]extraction.Candidate, error) {
	return func(context.Context) ([]extraction.Candidate, error) { return nil, err }
}

func candidate(text, code string) extraction.Candidate {
	return extraction.Candidate{
		Text:         text,
		ProposedCode: code,
		Category:     extraction.CategoryClinicalFinding,
		Modifiers:    extraction.DefaultModifiers(),
	}
}

var pairLine = regexp.MustCompile(`(?m)^(\d+)\. "(.*)" <-> "(.*)"$`)

// judgeArbiter answers arbitration prompts pair by pair with same(a, b).
type judgeArbiter struct {
	mu    sync.Mutex
	calls int
	same  func(original, official string) bool
}

func (j *judgeArbiter) Generate(_ context.Context, prompt string) (oracle.Reply, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	var items []string
	for _, m := range pairLine.FindAllStringSubmatch(prompt, -1) {
		items = append(items, fmt.Sprintf(`{"pair": %s, "same_concept": %t, "confidence": 0.9, "explanation": "fake"}`, m[1], j.same(m[2], m[3])))
	}
	return oracle.Reply{Text: `{"validations": [` + strings.Join(items, ",") + `]}`}, nil
}

func (j *judgeArbiter) Calls() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}
