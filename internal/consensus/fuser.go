package consensus

import "sort"

type FusionPolicy string

const (
	// FuseCompletionOrder lets the run that finished first win a shared code.
	FuseCompletionOrder FusionPolicy = "completion_order"
	// FuseRunIndex lets the lowest run index win, which makes output reproducible.
	FuseRunIndex FusionPolicy = "run_index"
)

func ParseFusionPolicy(s string) (FusionPolicy, bool) {
	switch FusionPolicy(s) {
	case "", FuseCompletionOrder:
		return FuseCompletionOrder, true
	case FuseRunIndex:
		return FuseRunIndex, true
	}
	return "", false
}

type FusionResult struct {
	Records           []ValidatedRecord
	DuplicatesRemoved int
}

// Fuse keeps the first record seen for each code. runs must be given in
// completion order; FuseRunIndex reorders them by RunID first.
func Fuse(runs []RunValidation, policy FusionPolicy) FusionResult {
	ordered := runs
	if policy == FuseRunIndex {
		ordered = append([]RunValidation(nil), runs...)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].RunID < ordered[j].RunID })
	}

	var res FusionResult
	seen := map[string]struct{}{}
	for _, run := range ordered {
		for _, rec := range run.Records {
			if _, dup := seen[rec.ResolvedCode]; dup {
				res.DuplicatesRemoved++
				continue
			}
			seen[rec.ResolvedCode] = struct{}{}
			res.Records = append(res.Records, rec)
		}
	}
	return res
}
