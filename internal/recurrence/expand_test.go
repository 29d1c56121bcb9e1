package recurrence

import (
	"slices"
	"testing"
	"time"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func at(y int, m time.Month, d, h int) time.Time { return time.Date(y, m, d, h, 0, 0, 0, time.UTC) }

func event(start time.Time, dur time.Duration, r *model.RecurrenceRule) model.Event {
	return model.Event{ID: uuid.Must(uuid.NewV4()), Start: start, End: start.Add(dur), Recurrence: r}
}

func starts(seq func(func(model.Occurrence) bool)) []time.Time {
	var out []time.Time
	for o := range seq {
		out = append(out, o.Start)
	}
	return out
}

func TestExpand_MonthlyClampsToLastDay(t *testing.T) {
	r := &model.RecurrenceRule{Frequency: model.FreqMonthly, Interval: 1}

	leap := event(at(2024, time.January, 31, 10), time.Hour, r)
	got := starts(Expand(leap, at(2024, time.January, 1, 0), at(2024, time.April, 1, 0), DefaultMaxOccurrences))
	require.Equal(t, []time.Time{at(2024, time.January, 31, 10), at(2024, time.February, 29, 10), at(2024, time.March, 31, 10)}, got)

	plain := event(at(2025, time.January, 31, 10), time.Hour, r)
	got = starts(Expand(plain, at(2025, time.January, 1, 0), at(2025, time.April, 1, 0), DefaultMaxOccurrences))
	require.Equal(t, []time.Time{at(2025, time.January, 31, 10), at(2025, time.February, 28, 10), at(2025, time.March, 31, 10)}, got)
}

func TestExpand_WeeklyKeepsWeekday(t *testing.T) {
	ev := event(at(2024, time.March, 20, 10), time.Hour, &model.RecurrenceRule{Frequency: model.FreqWeekly, Interval: 2, Count: 3})
	got := starts(Expand(ev, at(2024, time.January, 1, 0), at(2025, time.January, 1, 0), DefaultMaxOccurrences))
	require.Equal(t, []time.Time{at(2024, time.March, 20, 10), at(2024, time.April, 3, 10), at(2024, time.April, 17, 10)}, got)
	for _, s := range got {
		require.Equal(t, time.Wednesday, s.Weekday())
	}
}

func TestExpand_CountFromSeriesStartWithExceptions(t *testing.T) {
	ev := event(at(2025, time.January, 1, 9), time.Hour, &model.RecurrenceRule{
		Frequency:      model.FreqDaily,
		Interval:       1,
		Count:          5,
		ExceptionDates: []time.Time{time.Date(2025, time.January, 4, 0, 0, 0, 0, time.UTC)},
	})
	got := starts(Expand(ev, at(2025, time.January, 3, 0), at(2025, time.January, 10, 0), DefaultMaxOccurrences))
	require.Equal(t, []time.Time{at(2025, time.January, 3, 9), at(2025, time.January, 5, 9)}, got)
}

func TestExpand_ExactExceptionInstant(t *testing.T) {
	ev := event(at(2025, time.January, 1, 9), time.Hour, &model.RecurrenceRule{
		Frequency:      model.FreqDaily,
		Interval:       1,
		ExceptionDates: []time.Time{at(2025, time.January, 2, 9)},
	})
	got := starts(Expand(ev, at(2025, time.January, 1, 0), at(2025, time.January, 4, 0), DefaultMaxOccurrences))
	require.Equal(t, []time.Time{at(2025, time.January, 1, 9), at(2025, time.January, 3, 9)}, got)
}

func TestExpand_UntilInclusive(t *testing.T) {
	until := at(2025, time.January, 3, 9)
	ev := event(at(2025, time.January, 1, 9), time.Hour, &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1, Until: &until})
	got := starts(Expand(ev, at(2024, time.December, 1, 0), at(2025, time.February, 1, 0), DefaultMaxOccurrences))
	require.Len(t, got, 3)
	require.Equal(t, until, got[2])
}

func TestExpand_LongRunningSeriesSkipsToWindow(t *testing.T) {
	ev := event(at(2020, time.January, 1, 10), time.Hour, &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1})
	got := starts(Expand(ev, at(2024, time.March, 20, 0), at(2024, time.March, 22, 0), 2))
	require.Equal(t, []time.Time{at(2024, time.March, 20, 10), at(2024, time.March, 21, 10)}, got)
}

func TestExpand_OccurrenceStraddlingWindowStart(t *testing.T) {
	ev := event(at(2024, time.March, 1, 23), 2*time.Hour, &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1})
	var got []model.Occurrence
	for o := range Expand(ev, at(2024, time.March, 21, 0), at(2024, time.March, 22, 0), DefaultMaxOccurrences) {
		got = append(got, o)
	}
	require.Len(t, got, 2)
	require.Equal(t, at(2024, time.March, 20, 23), got[0].Start)
	require.Equal(t, at(2024, time.March, 21, 1), got[0].End)
	require.False(t, got[0].Original)
}

func TestExpand_CapAndRestart(t *testing.T) {
	ev := event(at(2025, time.January, 1, 9), time.Hour, &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1})
	seq := Expand(ev, at(2025, time.January, 1, 0), at(2025, time.February, 1, 0), 3)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	require.Len(t, first, 3)
	require.Equal(t, first, second)
	require.True(t, first[0].Original)

	// early break stops the iterator
	n := 0
	for range seq {
		n++
		break
	}
	require.Equal(t, 1, n)
}

func TestExpand_SingleEvent(t *testing.T) {
	ev := event(at(2024, time.March, 20, 10), time.Hour, nil)
	require.Len(t, slices.Collect(Expand(ev, at(2024, time.March, 20, 0), at(2024, time.March, 21, 0), 10)), 1)
	require.Empty(t, slices.Collect(Expand(ev, at(2024, time.March, 20, 11), at(2024, time.March, 21, 0), 10)))
	require.Empty(t, slices.Collect(Expand(ev, at(2024, time.March, 21, 0), at(2024, time.March, 20, 0), 10)))
}

func TestExpand_CustomRRule(t *testing.T) {
	ev := event(at(2024, time.March, 18, 9), time.Hour, &model.RecurrenceRule{
		Frequency: model.FreqCustom,
		RRule:     "RRULE:FREQ=WEEKLY;BYDAY=MO,WE;COUNT=4",
	})
	got := starts(Expand(ev, at(2024, time.March, 1, 0), at(2024, time.May, 1, 0), DefaultMaxOccurrences))
	require.Equal(t, []time.Time{
		at(2024, time.March, 18, 9), at(2024, time.March, 20, 9),
		at(2024, time.March, 25, 9), at(2024, time.March, 27, 9),
	}, got)
}

func TestValidate(t *testing.T) {
	start := at(2025, time.January, 1, 9)
	before := start.Add(-time.Hour)
	later := start.Add(time.Hour)
	cases := []struct {
		name  string
		rule  *model.RecurrenceRule
		field string
	}{
		{"nil", nil, ""},
		{"ok", &model.RecurrenceRule{Frequency: model.FreqWeekly, Interval: 1, Until: &later}, ""},
		{"bad frequency", &model.RecurrenceRule{Frequency: "yearly", Interval: 1}, "recurrence.frequency"},
		{"zero interval", &model.RecurrenceRule{Frequency: model.FreqDaily}, "recurrence.interval"},
		{"negative count", &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1, Count: -1}, "recurrence.count"},
		{"count and until", &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1, Count: 2, Until: &later}, "recurrence.until"},
		{"until before start", &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1, Until: &before}, "recurrence.until"},
		{"rrule on daily", &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1, RRule: "FREQ=DAILY"}, "recurrence.rrule"},
		{"custom without rrule", &model.RecurrenceRule{Frequency: model.FreqCustom}, "recurrence.rrule"},
		{"custom garbage", &model.RecurrenceRule{Frequency: model.FreqCustom, RRule: "FREQ=SOMETIMES"}, "recurrence.rrule"},
		{"custom minutely", &model.RecurrenceRule{Frequency: model.FreqCustom, RRule: "FREQ=MINUTELY"}, "recurrence.rrule"},
		{"custom ok", &model.RecurrenceRule{Frequency: model.FreqCustom, RRule: "FREQ=MONTHLY;BYMONTHDAY=-1"}, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := Validate(c.rule, start)
			if c.field == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, errs.ErrValidation)
			d, ok := errs.Details(err)
			require.True(t, ok)
			require.Equal(t, c.field, d.Field)
		})
	}
}

func TestNormalize(t *testing.T) {
	r := &model.RecurrenceRule{Frequency: model.FreqCustom, RRule: " RRULE:FREQ=DAILY "}
	Normalize(r)
	require.Equal(t, 1, r.Interval)
	require.Equal(t, "FREQ=DAILY", r.RRule)
	Normalize(nil)
}
