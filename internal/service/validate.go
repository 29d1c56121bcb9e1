package service

import (
	"fmt"
	"iter"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/and161185/teamcal/internal/recurrence"
)

// Field limits of an event.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
	MaxLocationLen    = 200
)

// validateEvent checks the merged state of an event before it is committed.
// Times are converted to UTC and the recurrence rule is normalized in place.
func validateEvent(ev *model.Event) error {
	ev.Title = strings.TrimSpace(ev.Title)
	switch n := utf8.RuneCountInString(ev.Title); {
	case n == 0:
		return errs.Validation("title", "required")
	case n > MaxTitleLen:
		return errs.Validation("title", fmt.Sprintf("longer than %d characters", MaxTitleLen))
	}
	if utf8.RuneCountInString(ev.Description) > MaxDescriptionLen {
		return errs.Validation("description", fmt.Sprintf("longer than %d characters", MaxDescriptionLen))
	}
	if utf8.RuneCountInString(ev.Location) > MaxLocationLen {
		return errs.Validation("location", fmt.Sprintf("longer than %d characters", MaxLocationLen))
	}
	if ev.Start.IsZero() {
		return errs.Validation("start", "required")
	}
	if ev.End.IsZero() {
		return errs.Validation("end", "required")
	}
	ev.Start, ev.End = ev.Start.UTC(), ev.End.UTC()
	if !ev.Start.Before(ev.End) {
		return errs.Validation("end", "must be after start")
	}
	recurrence.Normalize(ev.Recurrence)
	return recurrence.Validate(ev.Recurrence, ev.Start)
}

// applyPatch merges p into ev.
func applyPatch(ev *model.Event, p model.EventPatch) {
	if p.Title != nil {
		ev.Title = *p.Title
	}
	if p.Description != nil {
		ev.Description = *p.Description
	}
	if p.Location != nil {
		ev.Location = *p.Location
	}
	if p.Start != nil {
		ev.Start = *p.Start
	}
	if p.End != nil {
		ev.End = *p.End
	}
	switch {
	case p.ClearRecurrence:
		ev.Recurrence = nil
	case p.Recurrence != nil:
		ev.Recurrence = p.Recurrence.Clone()
	}
}

// checkPastKept rejects a change to a recurring series that would move, add or
// drop any occurrence starting before now. One-off events are not restricted.
func checkPastKept(old, next model.Event, now time.Time) error {
	if old.Recurrence == nil && next.Recurrence == nil {
		return nil
	}
	from := old.Start
	if next.Start.Before(from) {
		from = next.Start
	}
	if !from.Before(now) || samePast(old, next, from, now) {
		return nil
	}
	return errs.InvalidOperation(old.ID.String(),
		"recurrence change would alter occurrences before now; end the series with until instead")
}

func samePast(a, b model.Event, from, now time.Time) bool {
	nextA, stopA := iter.Pull(recurrence.Expand(a, from, now, math.MaxInt))
	defer stopA()
	nextB, stopB := iter.Pull(recurrence.Expand(b, from, now, math.MaxInt))
	defer stopB()
	for {
		oa, okA := nextA()
		ob, okB := nextB()
		if okA != okB {
			return false
		}
		if !okA {
			return true
		}
		if !oa.Start.Equal(ob.Start) || !oa.End.Equal(ob.End) {
			return false
		}
	}
}

func validateRange(from, to time.Time, maxRange time.Duration) error {
	if from.IsZero() || to.IsZero() {
		return errs.Validation("range", "from and to are required")
	}
	if !from.Before(to) {
		return errs.Validation("range", "from must be before to")
	}
	if maxRange > 0 && to.Sub(from) > maxRange {
		return errs.Validation("range", fmt.Sprintf("longer than %d days", int(maxRange/(24*time.Hour))))
	}
	return nil
}
