package consensus

import (
	"strings"

	"github.com/joelkehle/snomed-consensus/internal/extraction"
)

// PrefixRule assigns Category to codes starting with any of Prefixes.
type PrefixRule struct {
	Category extraction.Category
	Prefixes []string
}

// DefaultPrefixRules is ordered: the first matching rule wins. Prefixes are a
// heuristic and overlap (a "71" procedure prefix also covers some finding
// codes), so the order is the tie-break.
func DefaultPrefixRules() []PrefixRule {
	return []PrefixRule{
		{Category: extraction.CategoryBodyStructure, Prefixes: []string{"123", "302", "445"}},
		{Category: extraction.CategoryProcedure, Prefixes: []string{"71", "225", "410", "432"}},
		{Category: extraction.CategoryObservableEntity, Prefixes: []string{"363", "364"}},
		{Category: extraction.CategorySubstance, Prefixes: []string{"105", "372", "373", "387"}},
		{Category: extraction.CategoryClinicalFinding, Prefixes: []string{"404", "389", "271", "418"}},
	}
}

// top-level concepts directly under the SNOMED CT root
var topLevelCategories = map[string]extraction.Category{
	"404684003": extraction.CategoryClinicalFinding,
	"243796009": extraction.CategoryClinicalFinding, // situation with explicit context
	"272379006": extraction.CategoryClinicalFinding, // event
	"71388002":  extraction.CategoryProcedure,
	"123037004": extraction.CategoryBodyStructure,
	"363787002": extraction.CategoryObservableEntity,
	"105590001": extraction.CategorySubstance,
}

var categoryRank = map[extraction.Category]int{
	extraction.CategoryBodyStructure:    0,
	extraction.CategoryProcedure:        1,
	extraction.CategoryObservableEntity: 2,
	extraction.CategorySubstance:        3,
	extraction.CategoryClinicalFinding:  4,
}

type Categorizer struct {
	rules     []PrefixRule
	hierarchy Hierarchy
}

// NewCategorizer uses the hierarchy when it has IS-A data, and the prefix
// rules otherwise. h may be nil.
func NewCategorizer(h Hierarchy, rules []PrefixRule) *Categorizer {
	if rules == nil {
		rules = DefaultPrefixRules()
	}
	return &Categorizer{rules: rules, hierarchy: h}
}

func (c *Categorizer) Categorize(code string) extraction.Category {
	if cat, ok := c.fromHierarchy(code); ok {
		return cat
	}
	for _, r := range c.rules {
		for _, p := range r.Prefixes {
			if strings.HasPrefix(code, p) {
				return r.Category
			}
		}
	}
	return extraction.CategoryClinicalFinding
}

func (c *Categorizer) fromHierarchy(code string) (extraction.Category, bool) {
	if c.hierarchy == nil || !c.hierarchy.HasHierarchy() {
		return "", false
	}
	var best extraction.Category
	found := false
	for _, top := range c.hierarchy.TopLevelAncestors(code) {
		cat, ok := topLevelCategories[top]
		if !ok {
			continue
		}
		if !found || categoryRank[cat] < categoryRank[best] {
			best, found = cat, true
		}
	}
	return best, found
}
