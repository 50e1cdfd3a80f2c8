package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(run int, text, code, official string) ValidatedRecord {
	return ValidatedRecord{OriginalText: text, ResolvedCode: code, OfficialText: official, SourceRun: run}
}

func TestFuseFirstSeenWinsInCompletionOrder(t *testing.T) {
	runs := []RunValidation{
		{RunID: 2, Records: []ValidatedRecord{record(2, "prurit", "418290006", "démangeaison"), record(2, "varicelle", "38907003", "varicelle")}},
		{RunID: 0, Records: []ValidatedRecord{record(0, "démangeaisons", "418290006", "démangeaison")}},
		{RunID: 1, Records: []ValidatedRecord{record(1, "membres", "445662006", "membres"), record(1, "varicelle", "38907003", "varicelle")}},
	}

	got := Fuse(runs, FuseCompletionOrder)
	require.Len(t, got.Records, 3)
	assert.Equal(t, 2, got.DuplicatesRemoved)
	assert.Equal(t, "prurit", got.Records[0].OriginalText)
	assert.Equal(t, 2, got.Records[0].SourceRun)
	assert.Equal(t, "445662006", got.Records[2].ResolvedCode)
}

func TestFuseRunIndexIsReproducible(t *testing.T) {
	a := RunValidation{RunID: 0, Records: []ValidatedRecord{record(0, "démangeaisons", "418290006", "démangeaison")}}
	b := RunValidation{RunID: 1, Records: []ValidatedRecord{record(1, "prurit", "418290006", "démangeaison")}}

	first := Fuse([]RunValidation{b, a}, FuseRunIndex)
	second := Fuse([]RunValidation{a, b}, FuseRunIndex)
	assert.Equal(t, first, second)
	assert.Equal(t, "démangeaisons", first.Records[0].OriginalText)

	// the input slice is not reordered
	in := []RunValidation{b, a}
	Fuse(in, FuseRunIndex)
	assert.Equal(t, 1, in[0].RunID)
}

func TestFuseNoDuplicateCodes(t *testing.T) {
	var runs []RunValidation
	for i := 0; i < 4; i++ {
		runs = append(runs, RunValidation{RunID: i, Records: []ValidatedRecord{
			record(i, "a", "1", "a"), record(i, "b", "2", "b"), record(i, "c", "1", "c"),
		}})
	}
	got := Fuse(runs, FuseCompletionOrder)
	codes := map[string]bool{}
	for _, r := range got.Records {
		assert.False(t, codes[r.ResolvedCode], "duplicate code %s", r.ResolvedCode)
		codes[r.ResolvedCode] = true
	}
	assert.Equal(t, 10, got.DuplicatesRemoved)
}

func TestParseFusionPolicy(t *testing.T) {
	p, ok := ParseFusionPolicy("")
	assert.True(t, ok)
	assert.Equal(t, FuseCompletionOrder, p)
	p, ok = ParseFusionPolicy("run_index")
	assert.True(t, ok)
	assert.Equal(t, FuseRunIndex, p)
	_, ok = ParseFusionPolicy("confidence")
	assert.False(t, ok)
}
