package terminology

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	conceptHeader      = "id\teffectiveTime\tactive\tmoduleId\tdefinitionStatusId"
	descriptionHeader  = "id\teffectiveTime\tactive\tmoduleId\tconceptId\tlanguageCode\ttypeId\tterm\tcaseSignificanceId"
	relationshipHeader = "id\teffectiveTime\tactive\tmoduleId\tsourceId\tdestinationId\trelationshipGroup\ttypeId\tcharacteristicTypeId\tmodifierId"
	synonym            = "900000000000013009"
)

func concept(id, active string) string {
	return strings.Join([]string{id, "20240101", active, "1", "1"}, "\t")
}

func description(conceptID, active, lang, typeID, term string) string {
	return strings.Join([]string{"d" + conceptID, "20240101", active, "1", conceptID, lang, typeID, term, "0"}, "\t")
}

func isA(source, destination string) string {
	return strings.Join([]string{"r" + source, "20240101", "1", "1", source, destination, "0", isATypeID, "0", "0"}, "\t")
}

func writeTable(t *testing.T, dir, name, header string, rows ...string) {
	t.Helper()
	body := header + "\r\n" + strings.Join(rows, "\r\n") + "\r\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

// writeFixture lays out a small French release: varicelle and prurit are
// findings, 999 is inactive, 555 has only an English label.
func writeFixture(t *testing.T, withRelationships bool) string {
	t.Helper()
	dir := t.TempDir()
	writeTable(t, dir, "sct2_Concept_Snapshot_FR1000315_20240101.txt", conceptHeader,
		concept("138875005", "1"),
		concept("404684003", "1"),
		concept("38907003", "1"),
		concept("418290006", "1"),
		concept("71388002", "1"),
		concept("225358003", "1"),
		concept("999", "0"),
		concept("555", "1"),
	)
	writeTable(t, dir, "sct2_Description_Snapshot-fr_FR1000315_20240101.txt", descriptionHeader,
		description("404684003", "1", "fr", fsnTypeID, "constatation clinique (observation)"),
		description("38907003", "1", "fr", fsnTypeID, "varicelle (trouble)"),
		description("38907003", "1", "fr", synonym, "Varicelle"),
		description("418290006", "1", "fr", synonym, "prurit"),
		description("418290006", "1", "fr", synonym, "démangeaison"),
		description("71388002", "1", "fr", fsnTypeID, "procédure (procédure)"),
		description("225358003", "1", "fr", synonym, "soins des plaies"),
		description("225358003", "0", "fr", synonym, "pansement retiré"),
		description("999", "1", "fr", synonym, "concept inactif"),
		description("555", "1", "en", synonym, "english only"),
	)
	if withRelationships {
		writeTable(t, dir, "sct2_Relationship_Snapshot_FR1000315_20240101.txt", relationshipHeader,
			isA("404684003", "138875005"),
			isA("71388002", "138875005"),
			isA("38907003", "404684003"),
			isA("418290006", "404684003"),
			isA("225358003", "71388002"),
		)
	}
	return dir
}

func loadedStore(t *testing.T, opts Options) *Store {
	t.Helper()
	opts.Logger = zaptest.NewLogger(t)
	s := NewStore(opts)
	require.NoError(t, s.Load())
	return s
}

func TestStoreValidityFiltersInactiveConcepts(t *testing.T) {
	s := loadedStore(t, Options{Dir: writeFixture(t, false)})

	assert.True(t, s.IsValid("38907003"))
	assert.True(t, s.IsValid("555"))
	assert.False(t, s.IsValid("999"))
	assert.False(t, s.IsValid("not-a-code"))
}

func TestStoreOfficialTermPrefersSynonymOverFSN(t *testing.T) {
	s := loadedStore(t, Options{Dir: writeFixture(t, false)})

	term, ok := s.OfficialTerm("38907003")
	require.True(t, ok)
	assert.Equal(t, "Varicelle", term)

	term, ok = s.OfficialTerm("418290006")
	require.True(t, ok)
	assert.Equal(t, "prurit", term, "first synonym wins")

	_, ok = s.OfficialTerm("555")
	assert.False(t, ok, "no label in the configured language")
	_, ok = s.OfficialTerm("999")
	assert.False(t, ok)
}

func TestStoreExactMatchIsCaseAndSpaceInsensitive(t *testing.T) {
	s := loadedStore(t, Options{Dir: writeFixture(t, false)})

	code, ok := s.ExactMatch("  VARICELLE ")
	require.True(t, ok)
	assert.Equal(t, "38907003", code)

	// decomposed é must match the composed label
	code, ok = s.ExactMatch("de\u0301mangeaison")
	require.True(t, ok)
	assert.Equal(t, "418290006", code)

	_, ok = s.ExactMatch("pansement retiré")
	assert.False(t, ok, "inactive description")
	_, ok = s.ExactMatch("concept inactif")
	assert.False(t, ok, "label of inactive concept")
}

func TestStoreClosestMatch(t *testing.T) {
	s := loadedStore(t, Options{Dir: writeFixture(t, false)})

	code, ok := s.ClosestMatch("varicele")
	require.True(t, ok)
	assert.Equal(t, "38907003", code)

	code, ok = s.ClosestMatch("soins des plaie")
	require.True(t, ok)
	assert.Equal(t, "225358003", code)

	_, ok = s.ClosestMatch("insuffisance cardiaque")
	assert.False(t, ok)
}

func TestStoreClosestMatchCanBeDisabled(t *testing.T) {
	s := loadedStore(t, Options{Dir: writeFixture(t, false), DisableFuzzy: true})

	_, ok := s.ClosestMatch("varicele")
	assert.False(t, ok)

	code, ok := s.ClosestMatch("varicelle")
	require.True(t, ok, "exact labels still resolve")
	assert.Equal(t, "38907003", code)
}

func TestStoreTopLevelAncestors(t *testing.T) {
	s := loadedStore(t, Options{Dir: writeFixture(t, true)})

	require.True(t, s.HasHierarchy())
	assert.Equal(t, []string{"404684003"}, s.TopLevelAncestors("38907003"))
	assert.Equal(t, []string{"71388002"}, s.TopLevelAncestors("225358003"))
	assert.Equal(t, []string{"404684003"}, s.TopLevelAncestors("404684003"))
	assert.Empty(t, s.TopLevelAncestors("555"))
}

func TestStoreWithoutRelationshipsHasNoHierarchy(t *testing.T) {
	s := loadedStore(t, Options{Dir: writeFixture(t, false)})

	assert.False(t, s.HasHierarchy())
	assert.Nil(t, s.TopLevelAncestors("38907003"))
}

func TestStoreUnloadable(t *testing.T) {
	s := NewStore(Options{Dir: t.TempDir(), Logger: zaptest.NewLogger(t)})

	err := s.Load()
	require.ErrorIs(t, err, ErrUnloadable)
	assert.ErrorIs(t, s.Load(), ErrUnloadable, "failure is memoised")
	assert.False(t, s.IsValid("38907003"))
	_, ok := s.ExactMatch("varicelle")
	assert.False(t, ok)

	st := s.Stats()
	assert.False(t, st.Loaded)
	assert.NotEmpty(t, st.Error)
}

func TestStoreMissingRequiredColumn(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, "sct2_Concept_Snapshot_X.txt", "id\teffectiveTime", "1\t2")
	writeTable(t, dir, "sct2_Description_Snapshot-fr_X.txt", descriptionHeader)

	err := NewStore(Options{Dir: dir}).Load()
	assert.ErrorIs(t, err, ErrUnloadable)
}

func TestStoreBrokenRelationshipsDisableHierarchyOnly(t *testing.T) {
	dir := writeFixture(t, false)
	writeTable(t, dir, "sct2_Relationship_Snapshot_X.txt", "id\tactive")

	s := loadedStore(t, Options{Dir: dir})
	assert.False(t, s.HasHierarchy())
	assert.True(t, s.IsValid("38907003"))
}

func TestStoreCacheRoundTrip(t *testing.T) {
	dir := writeFixture(t, true)
	cache := filepath.Join(t.TempDir(), "snomed.db")

	first := loadedStore(t, Options{Dir: dir, CachePath: cache})
	assert.Contains(t, first.Stats().Source, "rf2:")

	// with the RF2 directory gone, the cache alone must answer
	second := loadedStore(t, Options{Dir: t.TempDir(), CachePath: cache})
	st := second.Stats()
	assert.Equal(t, "cache:"+cache, st.Source)
	assert.Equal(t, first.Stats().Concepts, st.Concepts)
	assert.Equal(t, first.Stats().Relationships, st.Relationships)

	term, ok := second.OfficialTerm("38907003")
	require.True(t, ok)
	assert.Equal(t, "Varicelle", term)
	assert.Equal(t, []string{"71388002"}, second.TopLevelAncestors("225358003"))
}

func TestStoreCacheRebuiltWhenTablesChange(t *testing.T) {
	dir := writeFixture(t, false)
	cache := filepath.Join(t.TempDir(), "snomed.db")
	_, err := WarmCache(Options{Dir: dir, CachePath: cache})
	require.NoError(t, err)

	unchanged := loadedStore(t, Options{Dir: dir, CachePath: cache})
	assert.Equal(t, "cache:"+cache, unchanged.Stats().Source)

	descriptions := filepath.Join(dir, "sct2_Description_Snapshot-fr_FR1000315_20240101.txt")
	writeTable(t, dir, filepath.Base(descriptions), descriptionHeader,
		description("38907003", "1", "fr", synonym, "varicelle de l'adulte"),
	)
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(descriptions, later, later))

	rebuilt := loadedStore(t, Options{Dir: dir, CachePath: cache})
	assert.True(t, strings.HasPrefix(rebuilt.Stats().Source, "rf2:"), rebuilt.Stats().Source)
	term, ok := rebuilt.OfficialTerm("38907003")
	require.True(t, ok)
	assert.Equal(t, "varicelle de l'adulte", term)

	// the rebuild refreshed the cache for the new tables
	again := loadedStore(t, Options{Dir: dir, CachePath: cache})
	assert.Equal(t, "cache:"+cache, again.Stats().Source)
	term, _ = again.OfficialTerm("38907003")
	assert.Equal(t, "varicelle de l'adulte", term)
}

func TestStoreCacheIgnoredForOtherLanguage(t *testing.T) {
	dir := writeFixture(t, false)
	cache := filepath.Join(t.TempDir(), "snomed.db")
	_, err := WarmCache(Options{Dir: dir, CachePath: cache})
	require.NoError(t, err)

	s := NewStore(Options{Dir: t.TempDir(), CachePath: cache, Language: "en"})
	assert.ErrorIs(t, s.Load(), ErrUnloadable)
}

func TestWarmCache(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "snomed.db")
	st, err := WarmCache(Options{Dir: writeFixture(t, true), CachePath: cache})
	require.NoError(t, err)
	assert.Equal(t, 7, st.Concepts)
	assert.Equal(t, 5, st.Relationships)

	_, err = WarmCache(Options{Dir: t.TempDir(), CachePath: cache})
	assert.ErrorIs(t, err, ErrUnloadable)
}
