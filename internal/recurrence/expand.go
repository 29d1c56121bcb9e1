package recurrence

import (
	"iter"
	"time"

	"github.com/and161185/teamcal/internal/model"
)

// Expand lazily yields the occurrences of ev that overlap [from, to), in start order.
// The sequence is restartable: ranging over it again recomputes the same occurrences.
// Count is counted from the series start with excluded dates included; at most limit
// occurrences are yielded.
func Expand(ev model.Event, from, to time.Time, limit int) iter.Seq[model.Occurrence] {
	return func(yield func(model.Occurrence) bool) {
		if !from.Before(to) || limit <= 0 {
			return
		}
		dur := ev.End.Sub(ev.Start)
		r := ev.Recurrence
		if r == nil {
			o := model.Occurrence{EventID: ev.ID, Start: ev.Start, End: ev.End, Original: true}
			if inWindow(o, from, to) {
				yield(o)
			}
			return
		}

		emitted := 0
		emit := func(start time.Time) bool {
			o := model.Occurrence{EventID: ev.ID, Start: start, End: start.Add(dur), Original: start.Equal(ev.Start)}
			if !inWindow(o, from, to) || excluded(start, r.ExceptionDates) {
				return true
			}
			emitted++
			return yield(o) && emitted < limit
		}

		if r.Frequency == model.FreqCustom {
			rr, err := parseRRule(r, ev.Start)
			if err != nil {
				return
			}
			for _, start := range rr.Between(from.Add(-dur), to, true) {
				if !start.Before(to) {
					return
				}
				if !emit(start) {
					return
				}
			}
			return
		}

		interval := r.Interval
		if interval < 1 {
			interval = 1
		}
		for n := firstIndex(ev.Start, r.Frequency, interval, from.Add(-dur)); ; n++ {
			if r.Count > 0 && n >= r.Count {
				return
			}
			start := nth(ev.Start, r.Frequency, interval, n)
			if r.Until != nil && start.After(*r.Until) {
				return
			}
			if !start.Before(to) {
				return
			}
			if !emit(start) {
				return
			}
		}
	}
}

// nth returns the start of occurrence n (0-based). Monthly rules keep the day of month
// and clamp to the last day of shorter months; each step is computed from the series
// start so a clamp never drifts later occurrences.
func nth(start time.Time, f model.Frequency, interval, n int) time.Time {
	switch f {
	case model.FreqDaily:
		return start.AddDate(0, 0, n*interval)
	case model.FreqWeekly:
		return start.AddDate(0, 0, 7*n*interval)
	}
	y, m, d := start.Date()
	first := time.Date(y, m+time.Month(n*interval), 1, start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), start.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// firstIndex returns an occurrence index at or before the first one starting after t.
// It only skips whole steps that are certainly before t.
func firstIndex(start time.Time, f model.Frequency, interval int, t time.Time) int {
	if !t.After(start) {
		return 0
	}
	var steps int
	switch f {
	case model.FreqDaily, model.FreqWeekly:
		days := int(t.Sub(start) / (24 * time.Hour))
		if f == model.FreqWeekly {
			days /= 7
		}
		steps = days / interval
	default:
		ys, ms, _ := start.Date()
		yt, mt, _ := t.Date()
		steps = ((yt-ys)*12 + int(mt-ms)) / interval
	}
	// DST shifts and month clamps move starts by less than one step.
	steps--
	if steps < 0 {
		return 0
	}
	return steps
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// inWindow reports whether o overlaps [from, to). A zero-length occurrence is in the
// window when its instant is.
func inWindow(o model.Occurrence, from, to time.Time) bool {
	if !o.Start.Before(to) {
		return false
	}
	if o.End.Equal(o.Start) {
		return !o.Start.Before(from)
	}
	return o.End.After(from)
}

// excluded matches an exception date exactly, or by calendar day when the exception
// is a UTC midnight.
func excluded(t time.Time, exdates []time.Time) bool {
	for _, ex := range exdates {
		if t.Equal(ex) {
			return true
		}
		if ex.Location() == time.UTC && ex.Hour() == 0 && ex.Minute() == 0 && ex.Second() == 0 && ex.Nanosecond() == 0 {
			u := t.UTC()
			if u.Year() == ex.Year() && u.Month() == ex.Month() && u.Day() == ex.Day() {
				return true
			}
		}
	}
	return false
}
