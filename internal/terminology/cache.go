package terminology

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS concepts (
	seq INTEGER PRIMARY KEY,
	id  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS descriptions (
	seq        INTEGER PRIMARY KEY,
	concept_id TEXT NOT NULL,
	term       TEXT NOT NULL,
	fsn        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS relationships (
	seq            INTEGER PRIMARY KEY,
	source_id      TEXT NOT NULL,
	destination_id TEXT NOT NULL
);
`

func openCache(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

var errStaleCache = errors.New("terminology cache is older than the RF2 tables")

// fingerprint identifies the RF2 tables a cache was built from by path, size
// and modification time.
func fingerprint(paths tablePaths) string {
	var parts []string
	for _, p := range []string{paths.Concepts, paths.Descriptions, paths.Relationships} {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		fi, err := os.Stat(p)
		if err != nil {
			parts = append(parts, p+"|missing")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s|%d|%d", p, fi.Size(), fi.ModTime().UnixNano()))
	}
	return strings.Join(parts, ";")
}

// readCache returns (nil, nil) when the cache does not exist yet, is empty,
// or was built for another language. A non-empty source that differs from the
// recorded one yields errStaleCache; an empty source accepts any cache.
func readCache(path, lang, source string) (*snapshot, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	db, err := openCache(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var cachedLang string
	err = db.Get(&cachedLang, "SELECT value FROM meta WHERE key = 'language'")
	if errors.Is(err, sql.ErrNoRows) || (err == nil && cachedLang != lang) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if source != "" {
		var cachedSource string
		if err := db.Get(&cachedSource, "SELECT value FROM meta WHERE key = 'source'"); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if cachedSource != source {
			return nil, errStaleCache
		}
	}

	snap := &snapshot{}
	if err := db.Select(&snap.Concepts, "SELECT id FROM concepts ORDER BY seq"); err != nil {
		return nil, fmt.Errorf("load concepts: %w", err)
	}
	if len(snap.Concepts) == 0 {
		return nil, nil
	}
	if err := db.Select(&snap.Labels, "SELECT concept_id, term, fsn FROM descriptions ORDER BY seq"); err != nil {
		return nil, fmt.Errorf("load descriptions: %w", err)
	}
	if err := db.Select(&snap.Relations, "SELECT source_id, destination_id FROM relationships ORDER BY seq"); err != nil {
		return nil, fmt.Errorf("load relationships: %w", err)
	}
	return snap, nil
}

// writeCache replaces the cache content with snap in one transaction.
func writeCache(path, lang, source string, snap *snapshot) error {
	db, err := openCache(path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"meta", "concepts", "descriptions", "relationships"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	stmt, err := tx.Preparex("INSERT INTO concepts (seq, id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	for i, id := range snap.Concepts {
		if _, err := stmt.Exec(i, id); err != nil {
			stmt.Close()
			return fmt.Errorf("insert concept: %w", err)
		}
	}
	stmt.Close()

	stmt, err = tx.Preparex("INSERT INTO descriptions (seq, concept_id, term, fsn) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	for i, l := range snap.Labels {
		if _, err := stmt.Exec(i, l.ConceptID, l.Term, l.FSN); err != nil {
			stmt.Close()
			return fmt.Errorf("insert description: %w", err)
		}
	}
	stmt.Close()

	stmt, err = tx.Preparex("INSERT INTO relationships (seq, source_id, destination_id) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	for i, r := range snap.Relations {
		if _, err := stmt.Exec(i, r.SourceID, r.DestinationID); err != nil {
			stmt.Close()
			return fmt.Errorf("insert relationship: %w", err)
		}
	}
	stmt.Close()

	meta := map[string]string{
		"language":      lang,
		"source":        source,
		"concepts":      strconv.Itoa(len(snap.Concepts)),
		"descriptions":  strconv.Itoa(len(snap.Labels)),
		"relationships": strconv.Itoa(len(snap.Relations)),
	}
	for k, v := range meta {
		if _, err := tx.Exec("INSERT INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("insert meta: %w", err)
		}
	}
	return tx.Commit()
}

// WarmCache reads the RF2 tables named by opts and (re)writes opts.CachePath.
func WarmCache(opts Options) (Stats, error) {
	if opts.CachePath == "" {
		return Stats{}, errors.New("cache path not set")
	}
	paths, err := resolveTables(opts)
	if err != nil {
		return Stats{}, err
	}
	snap, err := readRF2(paths, opts.language())
	if err != nil && errors.Is(err, ErrUnloadable) {
		return Stats{}, err
	}
	if err := writeCache(opts.CachePath, opts.language(), fingerprint(paths), snap); err != nil {
		return Stats{}, fmt.Errorf("write cache: %w", err)
	}
	return Stats{
		Loaded:        true,
		Concepts:      len(snap.Concepts),
		Labels:        len(snap.Labels),
		Relationships: len(snap.Relations),
		Source:        "rf2:" + paths.Descriptions,
	}, nil
}
