package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joelkehle/snomed-consensus/internal/extraction"
)

func TestCategorizerPrefixRules(t *testing.T) {
	c := NewCategorizer(nil, nil)
	for code, want := range map[string]extraction.Category{
		"445662006": extraction.CategoryBodyStructure,
		"123037004": extraction.CategoryBodyStructure,
		"71388002":  extraction.CategoryProcedure,
		"225358003": extraction.CategoryProcedure,
		"432102000": extraction.CategoryProcedure,
		"363787002": extraction.CategoryObservableEntity,
		"387517004": extraction.CategorySubstance,
		"418290006": extraction.CategoryClinicalFinding,
		"38907003":  extraction.CategoryClinicalFinding,
		"":          extraction.CategoryClinicalFinding,
	} {
		assert.Equal(t, want, c.Categorize(code), code)
	}
}

func TestCategorizerRuleOrderResolvesOverlap(t *testing.T) {
	rules := []PrefixRule{
		{Category: extraction.CategoryProcedure, Prefixes: []string{"41"}},
		{Category: extraction.CategoryClinicalFinding, Prefixes: []string{"418"}},
	}
	assert.Equal(t, extraction.CategoryProcedure, NewCategorizer(nil, rules).Categorize("418290006"))
}

func TestCategorizerPrefersHierarchy(t *testing.T) {
	store := hierarchyStore{newMemStore()}
	store.parents = map[string][]string{
		"445662006": {"404684003"},
		"38907003":  {"404684003", "71388002"},
		"22943007":  {"999999"},
	}
	c := NewCategorizer(store, nil)

	assert.Equal(t, extraction.CategoryClinicalFinding, c.Categorize("445662006"), "hierarchy beats the 445 prefix")
	assert.Equal(t, extraction.CategoryProcedure, c.Categorize("38907003"), "several roots resolve by rank")
	assert.Equal(t, extraction.CategoryClinicalFinding, c.Categorize("22943007"), "unknown root falls back to prefixes")
	assert.Equal(t, extraction.CategoryProcedure, c.Categorize("225358003"), "no ancestors falls back to prefixes")
}

func TestCategorizerIgnoresEmptyHierarchy(t *testing.T) {
	c := NewCategorizer(hierarchyStore{newMemStore()}, nil)
	assert.Equal(t, extraction.CategoryBodyStructure, c.Categorize("445662006"))
}
