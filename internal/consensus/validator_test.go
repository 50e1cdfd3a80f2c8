package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/joelkehle/snomed-consensus/internal/extraction"
)

func TestValidatorCascade(t *testing.T) {
	store := newMemStore()
	store.closest["varicele"] = "38907003"
	v := NewValidator(store, zaptest.NewLogger(t))

	got := v.Validate(2, []extraction.Candidate{
		// exact label wins over the proposed code
		candidate("Rash", "38907003"),
		candidate("prurit", "418290006"),
		candidate("varicele", "0000"),
		candidate("céphalée", "12345"),
		// valid code without label and no closest match
		candidate("lésion", "999000"),
	})

	assert.Equal(t, 5, got.Input)
	assert.Equal(t, 3, got.Resolved)
	assert.Equal(t, 1, got.ByExact)
	assert.Equal(t, 1, got.ByProposed)
	assert.Equal(t, 1, got.ByClosest)
	assert.Equal(t, 2, got.Unresolved)
	require.Len(t, got.Records, 3)

	assert.Equal(t, ValidatedRecord{
		OriginalText: "Rash",
		ResolvedCode: "271807003",
		OfficialText: "Rash",
		Category:     extraction.CategoryClinicalFinding,
		Modifiers:    extraction.DefaultModifiers(),
		SourceRun:    2,
		Method:       ResolvedExact,
	}, got.Records[0])
	assert.Equal(t, "démangeaison", got.Records[1].OfficialText)
	assert.Equal(t, "38907003", got.Records[2].ResolvedCode)
	assert.Equal(t, "varicelle", got.Records[2].OfficialText)
}

func TestValidatorExactMatchKeepsOriginalTextVerbatim(t *testing.T) {
	v := NewValidator(newMemStore(), nil)
	got := v.Validate(0, []extraction.Candidate{candidate("  Éruption Cutanée", "")})
	require.Len(t, got.Records, 1)
	assert.Equal(t, "  Éruption Cutanée", got.Records[0].OfficialText)
	assert.Equal(t, "271807003", got.Records[0].ResolvedCode)
}

func TestValidatorValidCodeWithoutLabelFallsThrough(t *testing.T) {
	store := newMemStore()
	store.closest["lésion"] = "445662006"
	got := NewValidator(store, nil).Validate(0, []extraction.Candidate{candidate("lésion", "999000")})
	require.Len(t, got.Records, 1)
	assert.Equal(t, ResolvedClosest, got.Records[0].Method)
	assert.Equal(t, "445662006", got.Records[0].ResolvedCode)
}

func TestValidatorIsIdempotent(t *testing.T) {
	v := NewValidator(newMemStore(), nil)
	in := []extraction.Candidate{candidate("varicelle", "1"), candidate("prurit", "418290006")}
	assert.Equal(t, v.Validate(0, in).Records, v.Validate(0, in).Records)
}

func TestValidatorRecordsAreAlwaysActive(t *testing.T) {
	store := newMemStore()
	got := NewValidator(store, nil).Validate(0, []extraction.Candidate{
		candidate("x", "not-a-code"),
		candidate("membres", ""),
		candidate("douleur", "21522001"),
	})
	for _, r := range got.Records {
		assert.True(t, store.IsValid(r.ResolvedCode), r.ResolvedCode)
	}
}
