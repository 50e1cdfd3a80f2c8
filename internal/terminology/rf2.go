package terminology

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	fsnTypeID   = "900000000000003001"
	isATypeID   = "116680003"
	rootConcept = "138875005"
)

// snapshot is the parsed, already-filtered content of an RF2 release (or of the
// SQLite cache built from one).
type snapshot struct {
	Concepts  []string
	Labels    []label
	Relations []relation
}

type label struct {
	ConceptID string `db:"concept_id"`
	Term      string `db:"term"`
	FSN       bool   `db:"fsn"`
}

type relation struct {
	SourceID      string `db:"source_id"`
	DestinationID string `db:"destination_id"`
}

type record struct {
	cols   map[string]int
	fields []string
}

func (r record) get(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return r.fields[i]
}

func (r record) has(name string) bool {
	_, ok := r.cols[name]
	return ok
}

// scanTable walks a tab-delimited table with a header row. Terms may contain
// quotes, so fields are split on tabs only.
func scanTable(r io.Reader, required []string, fn func(rec record) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return err
		}
		return errors.New("empty table")
	}
	cols := map[string]int{}
	for i, name := range strings.Split(strings.TrimRight(sc.Text(), "\r"), "\t") {
		cols[strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return fmt.Errorf("missing column %q", name)
		}
	}
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if err := fn(record{cols: cols, fields: strings.Split(line, "\t")}); err != nil {
			return err
		}
	}
	return sc.Err()
}

// tablePaths resolves the three RF2 tables. Explicit paths win over globbing in Dir.
type tablePaths struct {
	Concepts      string
	Descriptions  string
	Relationships string
}

func resolveTables(opts Options) (tablePaths, error) {
	paths := tablePaths{
		Concepts:      opts.ConceptFile,
		Descriptions:  opts.DescriptionFile,
		Relationships: opts.RelationshipFile,
	}
	lang := opts.language()
	if paths.Concepts == "" {
		paths.Concepts = firstMatch(opts.Dir, "sct2_Concept_Snapshot*.txt")
	}
	if paths.Descriptions == "" {
		paths.Descriptions = firstMatch(opts.Dir,
			"sct2_Description_Snapshot-"+lang+"*.txt",
			"sct2_Description_*Snapshot*-"+lang+"*.txt",
		)
	}
	if paths.Relationships == "" {
		paths.Relationships = firstMatch(opts.Dir, "sct2_Relationship_Snapshot*.txt")
	}
	if paths.Concepts == "" {
		return paths, fmt.Errorf("%w: concept table not found in %q", ErrUnloadable, opts.Dir)
	}
	if paths.Descriptions == "" {
		return paths, fmt.Errorf("%w: %s description table not found in %q", ErrUnloadable, lang, opts.Dir)
	}
	return paths, nil
}

func firstMatch(dir string, patterns ...string) string {
	if dir == "" {
		return ""
	}
	for _, p := range patterns {
		matches, _ := filepath.Glob(filepath.Join(dir, p))
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[0]
		}
	}
	return ""
}

func readRF2(paths tablePaths, lang string) (*snapshot, error) {
	snap := &snapshot{}
	active := map[string]struct{}{}

	if err := readFile(paths.Concepts, []string{"id", "active"}, func(rec record) error {
		if rec.get("active") != "1" {
			return nil
		}
		id := strings.TrimSpace(rec.get("id"))
		if _, seen := active[id]; !seen && id != "" {
			active[id] = struct{}{}
			snap.Concepts = append(snap.Concepts, id)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: concepts: %v", ErrUnloadable, err)
	}

	if err := readFile(paths.Descriptions, []string{"conceptId", "active", "languageCode", "term"}, func(rec record) error {
		if rec.get("active") != "1" || rec.get("languageCode") != lang {
			return nil
		}
		id := strings.TrimSpace(rec.get("conceptId"))
		if _, ok := active[id]; !ok {
			return nil
		}
		snap.Labels = append(snap.Labels, label{
			ConceptID: id,
			Term:      rec.get("term"),
			FSN:       rec.has("typeId") && rec.get("typeId") == fsnTypeID,
		})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: descriptions: %v", ErrUnloadable, err)
	}

	if paths.Relationships == "" {
		return snap, nil
	}
	err := readFile(paths.Relationships, []string{"sourceId", "destinationId", "active", "typeId"}, func(rec record) error {
		if rec.get("active") != "1" || rec.get("typeId") != isATypeID {
			return nil
		}
		snap.Relations = append(snap.Relations, relation{
			SourceID:      strings.TrimSpace(rec.get("sourceId")),
			DestinationID: strings.TrimSpace(rec.get("destinationId")),
		})
		return nil
	})
	if err != nil {
		// hierarchy is optional; a broken table only disables it
		snap.Relations = nil
		return snap, fmt.Errorf("relationships: %w", err)
	}
	return snap, nil
}

func readFile(path string, required []string, fn func(rec record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return scanTable(f, required, fn)
}
