package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Frequency selects how a recurrence rule advances.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqCustom  Frequency = "custom" // RFC 5545 RRULE in RecurrenceRule.RRule
)

// RecurrenceRule describes how an event repeats. Count and Until are mutually exclusive.
type RecurrenceRule struct {
	Frequency      Frequency   `json:"frequency"`
	Interval       int         `json:"interval"`
	Count          int         `json:"count,omitempty"`
	Until          *time.Time  `json:"until,omitempty"`
	ExceptionDates []time.Time `json:"exception_dates,omitempty"`
	RRule          string      `json:"rrule,omitempty"`
}

// Clone returns a deep copy.
func (r *RecurrenceRule) Clone() *RecurrenceRule {
	if r == nil {
		return nil
	}
	out := *r
	if r.Until != nil {
		u := *r.Until
		out.Until = &u
	}
	if r.ExceptionDates != nil {
		out.ExceptionDates = append([]time.Time(nil), r.ExceptionDates...)
	}
	return &out
}

// Event is a scheduled event. Start < End always holds for committed events.
type Event struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Recurrence  *RecurrenceRule // nil for one-off events
	Version     int64           // latest committed version sequence
	Deleted     bool            // soft delete; history stays queryable
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Snapshot captures the versioned state of an event. Ownership is not part of
// it: the OWNER permission row is the single source of truth for that.
type Snapshot struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Location    string          `json:"location,omitempty"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Recurrence  *RecurrenceRule `json:"recurrence,omitempty"`
	Deleted     bool            `json:"deleted,omitempty"`
}

// Snapshot returns the versioned state of e.
func (e *Event) Snapshot() Snapshot {
	return Snapshot{
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		Start:       e.Start,
		End:         e.End,
		Recurrence:  e.Recurrence.Clone(),
		Deleted:     e.Deleted,
	}
}

// Restore overwrites the versioned fields of e with s.
func (e *Event) Restore(s Snapshot) {
	e.Title = s.Title
	e.Description = s.Description
	e.Location = s.Location
	e.Start = s.Start
	e.End = s.End
	e.Recurrence = s.Recurrence.Clone()
	e.Deleted = s.Deleted
}

// EventDraft is a create request before it is committed.
type EventDraft struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Recurrence  *RecurrenceRule
}

// EventPatch is a partial update; nil fields are left unchanged.
type EventPatch struct {
	Title           *string
	Description     *string
	Location        *string
	Start           *time.Time
	End             *time.Time
	Recurrence      *RecurrenceRule
	ClearRecurrence bool
}

// Empty reports whether the patch changes nothing.
func (p EventPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Location == nil &&
		p.Start == nil && p.End == nil && p.Recurrence == nil && !p.ClearRecurrence
}

// Occurrence is one concrete instance of an event. Never persisted.
type Occurrence struct {
	EventID  uuid.UUID
	Start    time.Time
	End      time.Time
	Original bool // true for the series' first instance
}

// Overlaps reports interval overlap; touching intervals and zero-length ones never overlap.
func (o Occurrence) Overlaps(p Occurrence) bool {
	if !o.Start.Before(o.End) || !p.Start.Before(p.End) {
		return false
	}
	return o.Start.Before(p.End) && p.Start.Before(o.End)
}

// Conflict is a pair of overlapping occurrences: Candidate against Existing.
type Conflict struct {
	Candidate Occurrence
	Existing  Occurrence
}

// NewEventRecord is everything committed atomically when an event is created.
type NewEventRecord struct {
	Event   Event
	Owner   Permission
	Version Version
}
