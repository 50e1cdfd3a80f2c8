// Package terminology answers code validity and code/label lookups against a
// SNOMED CT RF2 snapshot restricted to active concepts and one language.
package terminology

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/joelkehle/snomed-consensus/internal/textsim"
)

// ErrUnloadable means the required concept or description table could not be read.
var ErrUnloadable = errors.New("terminology unloadable")

const (
	DefaultLanguage      = "fr"
	DefaultFuzzyMinRatio = 0.8
)

type Options struct {
	// Dir holds the RF2 Snapshot/Terminology files.
	Dir              string
	ConceptFile      string
	DescriptionFile  string
	RelationshipFile string
	Language         string

	// CachePath, when set, points at a SQLite database mirroring the filtered snapshot.
	CachePath string

	DisableFuzzy  bool
	FuzzyMinRatio float64

	Logger *zap.Logger
}

func (o Options) language() string {
	if o.Language == "" {
		return DefaultLanguage
	}
	return o.Language
}

type Stats struct {
	Loaded        bool   `json:"loaded"`
	Concepts      int    `json:"concepts"`
	Labels        int    `json:"labels"`
	Relationships int    `json:"relationships"`
	Source        string `json:"source"`
	Error         string `json:"error,omitempty"`
}

// Store is populated once, lazily, and is read-only afterwards.
type Store struct {
	opts Options
	log  *zap.Logger

	once    sync.Once
	loadErr error
	source  string

	active   map[string]struct{}
	official map[string]string
	index    map[string]string
	parents  map[string][]string
	fuzzy    *trigramIndex
	labels   int
	edges    int
}

func NewStore(opts Options) *Store {
	if opts.FuzzyMinRatio <= 0 {
		opts.FuzzyMinRatio = DefaultFuzzyMinRatio
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{opts: opts, log: log.Named("terminology")}
}

// Load reads the snapshot on first call and memoises the outcome, failure included.
func (s *Store) Load() error {
	s.once.Do(func() {
		s.loadErr = s.load()
		if s.loadErr != nil {
			s.log.Error("terminology load failed", zap.Error(s.loadErr))
		}
	})
	return s.loadErr
}

func (s *Store) ready() bool {
	return s.Load() == nil
}

func (s *Store) load() error {
	// Missing tables are only fatal when no cache can stand in for them.
	paths, pathErr := resolveTables(s.opts)
	var source string
	if pathErr == nil {
		source = fingerprint(paths)
	}

	if s.opts.CachePath != "" {
		snap, err := readCache(s.opts.CachePath, s.opts.language(), source)
		switch {
		case err == nil && snap != nil:
			s.source = "cache:" + s.opts.CachePath
			s.build(snap)
			return nil
		case errors.Is(err, errStaleCache):
			s.log.Warn("terminology cache stale, rebuilding from RF2 tables", zap.String("path", s.opts.CachePath))
		case err != nil:
			s.log.Warn("terminology cache unusable, reading RF2 tables", zap.String("path", s.opts.CachePath), zap.Error(err))
		}
	}

	if pathErr != nil {
		return pathErr
	}
	snap, err := readRF2(paths, s.opts.language())
	if err != nil {
		if errors.Is(err, ErrUnloadable) {
			return err
		}
		s.log.Warn("terminology hierarchy disabled", zap.Error(err))
	}
	s.source = "rf2:" + paths.Descriptions
	s.build(snap)

	if s.opts.CachePath != "" {
		if err := writeCache(s.opts.CachePath, s.opts.language(), source, snap); err != nil {
			s.log.Warn("terminology cache write failed", zap.String("path", s.opts.CachePath), zap.Error(err))
		}
	}
	return nil
}

func (s *Store) build(snap *snapshot) {
	s.active = make(map[string]struct{}, len(snap.Concepts))
	for _, id := range snap.Concepts {
		s.active[id] = struct{}{}
	}

	s.official = map[string]string{}
	s.index = map[string]string{}
	fsnOnly := map[string]bool{}
	for _, l := range snap.Labels {
		if _, ok := s.active[l.ConceptID]; !ok {
			continue
		}
		key := textsim.Normalize(l.Term)
		if key == "" {
			continue
		}
		if _, taken := s.index[key]; !taken {
			s.index[key] = l.ConceptID
		}
		if _, ok := s.official[l.ConceptID]; !ok {
			s.official[l.ConceptID] = l.Term
			fsnOnly[l.ConceptID] = l.FSN
		} else if fsnOnly[l.ConceptID] && !l.FSN {
			s.official[l.ConceptID] = l.Term
			fsnOnly[l.ConceptID] = false
		}
	}
	s.labels = len(snap.Labels)

	if len(snap.Relations) > 0 {
		s.parents = map[string][]string{}
		for _, r := range snap.Relations {
			s.parents[r.SourceID] = append(s.parents[r.SourceID], r.DestinationID)
		}
		s.edges = len(snap.Relations)
	}

	if !s.opts.DisableFuzzy {
		s.fuzzy = newTrigramIndex(s.index)
	}
	s.log.Info("terminology loaded",
		zap.String("source", s.source),
		zap.Int("concepts", len(s.active)),
		zap.Int("labels", s.labels),
		zap.Int("relationships", s.edges),
		zap.Bool("fuzzy", s.fuzzy != nil))
}

func (s *Store) IsValid(code string) bool {
	if !s.ready() {
		return false
	}
	_, ok := s.active[code]
	return ok
}

func (s *Store) OfficialTerm(code string) (string, bool) {
	if !s.ready() {
		return "", false
	}
	t, ok := s.official[code]
	return t, ok
}

func (s *Store) ExactMatch(text string) (string, bool) {
	if !s.ready() {
		return "", false
	}
	code, ok := s.index[textsim.Normalize(text)]
	return code, ok
}

// ClosestMatch falls back to the trigram index when there is no exact label.
func (s *Store) ClosestMatch(text string) (string, bool) {
	if code, ok := s.ExactMatch(text); ok {
		return code, true
	}
	if !s.ready() || s.fuzzy == nil {
		return "", false
	}
	code, ratio, ok := s.fuzzy.best(textsim.Fold(text), s.opts.FuzzyMinRatio)
	if ok {
		s.log.Debug("fuzzy label match", zap.String("text", text), zap.String("code", code), zap.Float64("ratio", ratio))
	}
	return code, ok
}

// HasHierarchy reports whether IS-A relationships were loaded.
func (s *Store) HasHierarchy() bool {
	return s.ready() && len(s.parents) > 0
}

// TopLevelAncestors returns the direct children of the SNOMED root reachable
// from code, sorted. A top-level concept is its own ancestor.
func (s *Store) TopLevelAncestors(code string) []string {
	if !s.HasHierarchy() {
		return nil
	}
	found := map[string]struct{}{}
	seen := map[string]struct{}{code: {}}
	queue := []string{code}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range s.parents[cur] {
			if p == rootConcept {
				found[cur] = struct{}{}
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			queue = append(queue, p)
		}
	}
	out := make([]string, 0, len(found))
	for c := range found {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Stats() Stats {
	err := s.Load()
	st := Stats{
		Loaded:        err == nil,
		Concepts:      len(s.active),
		Labels:        s.labels,
		Relationships: s.edges,
		Source:        s.source,
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}
