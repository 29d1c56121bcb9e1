package versioning

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/and161185/teamcal/internal/model"
)

// Field names used in FieldChange.Field.
const (
	FieldTitle          = "title"
	FieldDescription    = "description"
	FieldLocation       = "location"
	FieldStart          = "start"
	FieldEnd            = "end"
	FieldDeleted        = "deleted"
	FieldFrequency      = "recurrence.frequency"
	FieldInterval       = "recurrence.interval"
	FieldCount          = "recurrence.count"
	FieldUntil          = "recurrence.until"
	FieldRRule          = "recurrence.rrule"
	FieldExceptionDates = "recurrence.exception_dates"
)

// Diff compares two snapshots field by field. Exception dates are compared as sets.
// It never looks at storage and returns nil for equal snapshots.
func Diff(prev, next model.Snapshot) []model.FieldChange {
	var out []model.FieldChange
	str := func(field, a, b string) {
		if a != b {
			out = append(out, model.FieldChange{Field: field, Old: a, New: b})
		}
	}
	tm := func(field string, a, b time.Time) {
		if !a.Equal(b) {
			out = append(out, model.FieldChange{Field: field, Old: a, New: b})
		}
	}

	str(FieldTitle, prev.Title, next.Title)
	str(FieldDescription, prev.Description, next.Description)
	str(FieldLocation, prev.Location, next.Location)
	tm(FieldStart, prev.Start, next.Start)
	tm(FieldEnd, prev.End, next.End)
	if prev.Deleted != next.Deleted {
		out = append(out, model.FieldChange{Field: FieldDeleted, Old: prev.Deleted, New: next.Deleted})
	}

	pr, nr := ruleOrZero(prev.Recurrence), ruleOrZero(next.Recurrence)
	str(FieldFrequency, string(pr.Frequency), string(nr.Frequency))
	if pr.Interval != nr.Interval {
		out = append(out, model.FieldChange{Field: FieldInterval, Old: pr.Interval, New: nr.Interval})
	}
	if pr.Count != nr.Count {
		out = append(out, model.FieldChange{Field: FieldCount, Old: pr.Count, New: nr.Count})
	}
	if !equalTimePtr(pr.Until, nr.Until) {
		out = append(out, model.FieldChange{Field: FieldUntil, Old: timeOrNil(pr.Until), New: timeOrNil(nr.Until)})
	}
	str(FieldRRule, pr.RRule, nr.RRule)
	if added, removed := setDiff(pr.ExceptionDates, nr.ExceptionDates); len(added)+len(removed) > 0 {
		out = append(out, model.FieldChange{Field: FieldExceptionDates, Added: added, Removed: removed})
	}
	return out
}

// Baseline is the diff of a first version: every non-empty field with no old value.
func Baseline(s model.Snapshot) []model.FieldChange {
	out := Diff(model.Snapshot{}, s)
	for i := range out {
		out[i].Old = nil
	}
	return out
}

// Changelog renders a one-line human summary of a version.
func Changelog(v model.Version) string {
	switch v.Kind {
	case model.VersionCreated:
		return "created"
	case model.VersionDeleted:
		return "deleted"
	case model.VersionRollback:
		return fmt.Sprintf("rolled back to version %d", v.RolledBackTo)
	}
	if len(v.Diff) == 0 {
		return "no changes"
	}
	seen := make(map[string]bool, len(v.Diff))
	names := make([]string, 0, len(v.Diff))
	for _, c := range v.Diff {
		name := strings.TrimPrefix(c.Field, "recurrence.")
		if c.Field != name {
			name = "recurrence"
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ") + " changed"
}

func ruleOrZero(r *model.RecurrenceRule) model.RecurrenceRule {
	if r == nil {
		return model.RecurrenceRule{}
	}
	return *r
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// setDiff returns elements of next missing from prev and elements of prev missing from next,
// both sorted. Instants are compared, not wall clocks.
func setDiff(prev, next []time.Time) (added, removed []time.Time) {
	in := func(set []time.Time) map[int64]time.Time {
		m := make(map[int64]time.Time, len(set))
		for _, t := range set {
			m[t.UnixNano()] = t
		}
		return m
	}
	p, n := in(prev), in(next)
	for k, t := range n {
		if _, ok := p[k]; !ok {
			added = append(added, t)
		}
	}
	for k, t := range p {
		if _, ok := n[k]; !ok {
			removed = append(removed, t)
		}
	}
	byTime := func(s []time.Time) {
		sort.Slice(s, func(i, j int) bool { return s[i].Before(s[j]) })
	}
	byTime(added)
	byTime(removed)
	return added, removed
}
