package privacy

import "sort"

type span struct {
	start, end int
}

// Resolve selects a non-overlapping subset of candidates. Candidates are
// considered in the order given (highest priority first when coming from
// Scan); a candidate is kept only if its whole range is still free, so a
// lower priority match overlapping an accepted one is dropped entirely.
func Resolve(candidates []Candidate) []Candidate {
	accepted := make([]Candidate, 0, len(candidates))
	// claimed is kept sorted by start; being disjoint, ends are sorted too
	claimed := make([]span, 0, len(candidates))

	for _, c := range candidates {
		if c.Start < 0 || c.End <= c.Start {
			continue
		}

		i := sort.Search(len(claimed), func(i int) bool { return claimed[i].end > c.Start })
		if i < len(claimed) && claimed[i].start < c.End {
			continue
		}

		claimed = append(claimed, span{})
		copy(claimed[i+1:], claimed[i:])
		claimed[i] = span{start: c.Start, end: c.End}
		accepted = append(accepted, c)
	}

	return accepted
}

// OrderByPriority sorts candidates for Resolve: descending priority,
// then ascending start, keeping input order for full ties.
func OrderByPriority(candidates []Candidate) []Candidate {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].Start < ordered[j].Start
	})
	return ordered
}
