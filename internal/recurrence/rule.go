package recurrence

import (
	"strings"
	"time"

	"github.com/and161185/teamcal/internal/errs"
	"github.com/and161185/teamcal/internal/model"
	"github.com/teambition/rrule-go"
)

// Validate checks a rule against the series start. A nil rule is valid.
func Validate(r *model.RecurrenceRule, start time.Time) error {
	if r == nil {
		return nil
	}
	switch r.Frequency {
	case model.FreqDaily, model.FreqWeekly, model.FreqMonthly:
		if r.RRule != "" {
			return errs.Validation("recurrence.rrule", "only allowed with custom frequency")
		}
		if r.Interval < 1 {
			return errs.Validation("recurrence.interval", "must be at least 1")
		}
	case model.FreqCustom:
		if _, err := parseRRule(r, start); err != nil {
			return err
		}
	default:
		return errs.Validation("recurrence.frequency", "must be daily, weekly, monthly or custom")
	}
	if r.Count < 0 {
		return errs.Validation("recurrence.count", "must not be negative")
	}
	if r.Count > 0 && r.Until != nil {
		return errs.Validation("recurrence.until", "count and until are mutually exclusive")
	}
	if r.Until != nil && r.Until.Before(start) {
		return errs.Validation("recurrence.until", "before event start")
	}
	return nil
}

// Normalize fills defaults in place: interval 0 means 1, custom rules keep the RRULE body only.
func Normalize(r *model.RecurrenceRule) {
	if r == nil {
		return
	}
	if r.Interval == 0 {
		r.Interval = 1
	}
	r.RRule = strings.TrimPrefix(strings.TrimSpace(r.RRule), "RRULE:")
}

// parseRRule builds the rrule-go expansion of a custom rule anchored at start.
// Count and Until from the rule apply when the RRULE body does not set them.
func parseRRule(r *model.RecurrenceRule, start time.Time) (*rrule.RRule, error) {
	body := strings.TrimPrefix(strings.TrimSpace(r.RRule), "RRULE:")
	if body == "" {
		return nil, errs.Validation("recurrence.rrule", "required for custom frequency")
	}
	opt, err := rrule.StrToROption(body)
	if err != nil {
		return nil, errs.Validation("recurrence.rrule", err.Error())
	}
	if opt.Freq == rrule.SECONDLY || opt.Freq == rrule.MINUTELY {
		return nil, errs.Validation("recurrence.rrule", "frequency finer than hourly is not supported")
	}
	opt.Dtstart = start
	if opt.Count == 0 && r.Count > 0 {
		opt.Count = r.Count
	}
	if opt.Until.IsZero() && r.Until != nil {
		opt.Until = *r.Until
	}
	rr, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, errs.Validation("recurrence.rrule", err.Error())
	}
	return rr, nil
}
