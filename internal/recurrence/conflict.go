package recurrence

import (
	"bytes"
	"sort"

	"github.com/and161185/teamcal/internal/model"
)

// DetectConflicts returns every (candidate, existing) pair whose intervals overlap.
// Touching and zero-length intervals never conflict, nor do two occurrences of the
// same event. Inputs larger than threshold use a sorted sweep; smaller ones are
// compared pairwise. Both paths return the same pairs in the same order.
func DetectConflicts(candidates, existing []model.Occurrence, threshold int) []model.Conflict {
	var out []model.Conflict
	if len(candidates) > threshold || len(existing) > threshold {
		out = sweep(candidates, existing)
	} else {
		out = pairwise(candidates, existing)
	}
	sortConflicts(out)
	return out
}

func pairwise(candidates, existing []model.Occurrence) []model.Conflict {
	var out []model.Conflict
	for _, c := range candidates {
		for _, e := range existing {
			if c.EventID != e.EventID && c.Overlaps(e) {
				out = append(out, model.Conflict{Candidate: c, Existing: e})
			}
		}
	}
	return out
}

type sweepItem struct {
	occ       model.Occurrence
	candidate bool
}

// sweep walks all intervals by start keeping the still-open ones of each side.
// An interval is paired with every open interval of the other side when it starts.
func sweep(candidates, existing []model.Occurrence) []model.Conflict {
	items := make([]sweepItem, 0, len(candidates)+len(existing))
	for _, c := range candidates {
		if c.Start.Before(c.End) {
			items = append(items, sweepItem{occ: c, candidate: true})
		}
	}
	for _, e := range existing {
		if e.Start.Before(e.End) {
			items = append(items, sweepItem{occ: e})
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].occ.Start.Before(items[j].occ.Start) })

	var (
		out                []model.Conflict
		openCand, openExst []model.Occurrence
	)
	for _, it := range items {
		openCand = prune(openCand, it)
		openExst = prune(openExst, it)
		if it.candidate {
			for _, e := range openExst {
				if e.EventID != it.occ.EventID {
					out = append(out, model.Conflict{Candidate: it.occ, Existing: e})
				}
			}
			openCand = append(openCand, it.occ)
			continue
		}
		for _, c := range openCand {
			if c.EventID != it.occ.EventID {
				out = append(out, model.Conflict{Candidate: c, Existing: it.occ})
			}
		}
		openExst = append(openExst, it.occ)
	}
	return out
}

// prune drops open intervals that end at or before it starts.
func prune(open []model.Occurrence, it sweepItem) []model.Occurrence {
	kept := open[:0]
	for _, o := range open {
		if o.End.After(it.occ.Start) {
			kept = append(kept, o)
		}
	}
	return kept
}

func sortConflicts(cs []model.Conflict) {
	less := func(a, b model.Occurrence) int {
		if !a.Start.Equal(b.Start) {
			if a.Start.Before(b.Start) {
				return -1
			}
			return 1
		}
		if c := bytes.Compare(a.EventID[:], b.EventID[:]); c != 0 {
			return c
		}
		if a.End.Before(b.End) {
			return -1
		}
		if a.End.After(b.End) {
			return 1
		}
		return 0
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if c := less(cs[i].Candidate, cs[j].Candidate); c != 0 {
			return c < 0
		}
		return less(cs[i].Existing, cs[j].Existing) < 0
	})
}
