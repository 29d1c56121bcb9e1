// Package convert maps domain types to and from the google.protobuf.Struct
// messages of the wire API. Timestamps use the protobuf JSON mapping of
// google.protobuf.Timestamp (RFC 3339, Z-normalized).
package convert

import (
	"fmt"
	"strconv"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/and161185/teamcal/internal/errs"
	model "github.com/and161185/teamcal/internal/model"
)

// --- helpers ---

// FormatTime renders t as a protobuf JSON timestamp.
func FormatTime(t time.Time) string {
	b, err := protojson.Marshal(timestamppb.New(t))
	if err != nil {
		return t.UTC().Format(time.RFC3339Nano)
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return s
}

// ParseTime accepts an RFC 3339 timestamp with any offset and returns it in UTC.
func ParseTime(s string) (time.Time, error) {
	var ts timestamppb.Timestamp
	if err := protojson.Unmarshal([]byte(strconv.Quote(s)), &ts); err != nil {
		return time.Time{}, err
	}
	return ts.AsTime(), nil
}

// ToStruct wraps a map built by the *Map functions.
func ToStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return s, nil
}

// List maps xs with f into a Struct list value.
func List[T any](xs []T, f func(T) map[string]any) []any {
	out := make([]any, 0, len(xs))
	for _, x := range xs {
		out = append(out, f(x))
	}
	return out
}

// wire converts values structpb cannot hold.
func wire(v any) any {
	switch x := v.(type) {
	case time.Time:
		return FormatTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return FormatTime(*x)
	case u.UUID:
		return x.String()
	case model.Role:
		return string(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = wire(e)
		}
		return out
	case []time.Time:
		out := make([]any, 0, len(x))
		for _, t := range x {
			out = append(out, FormatTime(t))
		}
		return out
	}
	return v
}

// --- domain -> wire ---

// RuleMap encodes a recurrence rule; nil gives nil.
func RuleMap(r *model.RecurrenceRule) map[string]any {
	if r == nil {
		return nil
	}
	m := map[string]any{
		"frequency": string(r.Frequency),
		"interval":  r.Interval,
	}
	if r.Count > 0 {
		m["count"] = r.Count
	}
	if r.Until != nil {
		m["until"] = FormatTime(*r.Until)
	}
	if len(r.ExceptionDates) > 0 {
		m["exception_dates"] = wire(r.ExceptionDates)
	}
	if r.RRule != "" {
		m["rrule"] = r.RRule
	}
	return m
}

// EventMap encodes an event.
func EventMap(ev model.Event) map[string]any {
	m := map[string]any{
		"id":          ev.ID.String(),
		"owner_id":    ev.OwnerID.String(),
		"title":       ev.Title,
		"description": ev.Description,
		"location":    ev.Location,
		"start":       FormatTime(ev.Start),
		"end":         FormatTime(ev.End),
		"version":     ev.Version,
		"deleted":     ev.Deleted,
		"created_at":  FormatTime(ev.CreatedAt),
		"updated_at":  FormatTime(ev.UpdatedAt),
	}
	if ev.Recurrence != nil {
		m["recurrence"] = RuleMap(ev.Recurrence)
	}
	return m
}

// FieldChangeMap encodes one diff entry.
func FieldChangeMap(c model.FieldChange) map[string]any {
	m := map[string]any{"field": c.Field}
	if c.Old != nil {
		m["old"] = wire(c.Old)
	}
	if c.New != nil {
		m["new"] = wire(c.New)
	}
	if len(c.Added) > 0 {
		m["added"] = wire(c.Added)
	}
	if len(c.Removed) > 0 {
		m["removed"] = wire(c.Removed)
	}
	return m
}

// SnapshotMap encodes a version snapshot.
func SnapshotMap(s model.Snapshot) map[string]any {
	m := map[string]any{
		"title":       s.Title,
		"description": s.Description,
		"location":    s.Location,
		"start":       FormatTime(s.Start),
		"end":         FormatTime(s.End),
		"deleted":     s.Deleted,
	}
	if s.Recurrence != nil {
		m["recurrence"] = RuleMap(s.Recurrence)
	}
	return m
}

// VersionMap encodes a version with its one-line changelog.
func VersionMap(v model.Version, changelog string) map[string]any {
	m := map[string]any{
		"event_id":   v.EventID.String(),
		"seq":        v.Seq,
		"kind":       string(v.Kind),
		"snapshot":   SnapshotMap(v.Snapshot),
		"diff":       List(v.Diff, FieldChangeMap),
		"author_id":  v.AuthorID.String(),
		"created_at": FormatTime(v.CreatedAt),
		"changelog":  changelog,
	}
	if v.RolledBackTo > 0 {
		m["rolled_back_to"] = v.RolledBackTo
	}
	return m
}

// PermissionMap encodes a permission.
func PermissionMap(p model.Permission) map[string]any {
	return map[string]any{
		"event_id":   p.EventID.String(),
		"user_id":    p.UserID.String(),
		"role":       string(p.Role),
		"created_at": FormatTime(p.CreatedAt),
	}
}

// OccurrenceMap encodes an occurrence.
func OccurrenceMap(o model.Occurrence) map[string]any {
	return map[string]any{
		"event_id": o.EventID.String(),
		"start":    FormatTime(o.Start),
		"end":      FormatTime(o.End),
		"original": o.Original,
	}
}

// ConflictMap encodes a conflict pair.
func ConflictMap(c model.Conflict) map[string]any {
	return map[string]any{
		"candidate": OccurrenceMap(c.Candidate),
		"existing":  OccurrenceMap(c.Existing),
	}
}

// NotificationMap encodes a notification. The payload keeps its keys.
func NotificationMap(n model.Notification) map[string]any {
	m := map[string]any{
		"id":         n.ID.String(),
		"type":       n.Type,
		"event_id":   n.EventID.String(),
		"message":    n.Message,
		"is_read":    n.IsRead,
		"created_at": FormatTime(n.CreatedAt),
	}
	if len(n.Payload) > 0 {
		m["data"] = wire(n.Payload)
	}
	return m
}

// --- wire -> domain ---

// Reader pulls typed fields out of a request Struct and keeps the first error.
type Reader struct {
	fields map[string]*structpb.Value
	prefix string
	err    error
}

// NewReader reads s; a nil s has no fields.
func NewReader(s *structpb.Struct) *Reader {
	return &Reader{fields: s.GetFields()}
}

func (r *Reader) sub(key string, s *structpb.Struct) *Reader {
	return &Reader{fields: s.GetFields(), prefix: r.name(key) + "."}
}

func (r *Reader) name(key string) string { return r.prefix + key }

func (r *Reader) fail(key, msg string) {
	if r.err == nil {
		r.err = errs.Validation(r.name(key), msg)
	}
}

// Err returns the first conversion error.
func (r *Reader) Err() error { return r.err }

// Has reports whether key is present, including explicit nulls.
func (r *Reader) Has(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// IsNull reports whether key is present with a null value.
func (r *Reader) IsNull(key string) bool {
	v, ok := r.fields[key]
	if !ok {
		return false
	}
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return null
}

// String returns a string field or "".
func (r *Reader) String(key string) string {
	v, ok := r.fields[key]
	if !ok || r.IsNull(key) {
		return ""
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		r.fail(key, "must be a string")
		return ""
	}
	return s.StringValue
}

// OptString returns nil when key is absent.
func (r *Reader) OptString(key string) *string {
	if !r.Has(key) || r.IsNull(key) {
		return nil
	}
	s := r.String(key)
	return &s
}

// UUID returns a required UUID field.
func (r *Reader) UUID(key string) u.UUID {
	s := r.String(key)
	if s == "" {
		r.fail(key, "required")
		return u.Nil
	}
	id, err := u.FromString(s)
	if err != nil {
		r.fail(key, "invalid id")
		return u.Nil
	}
	return id
}

// Time returns a required timestamp field.
func (r *Reader) Time(key string) time.Time {
	s := r.String(key)
	if s == "" {
		r.fail(key, "required")
		return time.Time{}
	}
	t, err := ParseTime(s)
	if err != nil {
		r.fail(key, "invalid timestamp")
		return time.Time{}
	}
	return t
}

// OptTime returns nil when key is absent.
func (r *Reader) OptTime(key string) *time.Time {
	if !r.Has(key) || r.IsNull(key) {
		return nil
	}
	t := r.Time(key)
	return &t
}

// Int returns an integral number field or 0.
func (r *Reader) Int(key string) int64 {
	v, ok := r.fields[key]
	if !ok || r.IsNull(key) {
		return 0
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		r.fail(key, "must be a number")
		return 0
	}
	if n.NumberValue != float64(int64(n.NumberValue)) {
		r.fail(key, "must be an integer")
		return 0
	}
	return int64(n.NumberValue)
}

// Bool returns a bool field or false.
func (r *Reader) Bool(key string) bool {
	v, ok := r.fields[key]
	if !ok || r.IsNull(key) {
		return false
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		r.fail(key, "must be a boolean")
		return false
	}
	return b.BoolValue
}

// Struct returns a nested object or nil.
func (r *Reader) Struct(key string) *structpb.Struct {
	v, ok := r.fields[key]
	if !ok || r.IsNull(key) {
		return nil
	}
	s, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		r.fail(key, "must be an object")
		return nil
	}
	return s.StructValue
}

// List returns a list field or nil.
func (r *Reader) List(key string) []*structpb.Value {
	v, ok := r.fields[key]
	if !ok || r.IsNull(key) {
		return nil
	}
	l, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		r.fail(key, "must be a list")
		return nil
	}
	return l.ListValue.GetValues()
}

// Page reads offset, limit and order ("asc" or "desc").
func (r *Reader) Page() model.Page {
	p := model.Page{Offset: int(r.Int("offset")), Limit: int(r.Int("limit"))}
	switch r.String("order") {
	case "", "asc":
	case "desc":
		p.Desc = true
	default:
		r.fail("order", "must be asc or desc")
	}
	return p
}

// Rule reads a nested recurrence rule; nil when absent.
func (r *Reader) Rule(key string) *model.RecurrenceRule {
	s := r.Struct(key)
	if s == nil {
		return nil
	}
	rr := r.sub(key, s)
	rule := &model.RecurrenceRule{
		Frequency: model.Frequency(rr.String("frequency")),
		Interval:  int(rr.Int("interval")),
		Count:     int(rr.Int("count")),
		Until:     rr.OptTime("until"),
		RRule:     rr.String("rrule"),
	}
	for i, v := range rr.List("exception_dates") {
		t, err := ParseTime(v.GetStringValue())
		if err != nil {
			rr.fail(fmt.Sprintf("exception_dates[%d]", i), "invalid timestamp")
			break
		}
		rule.ExceptionDates = append(rule.ExceptionDates, t)
	}
	if rr.err != nil && r.err == nil {
		r.err = rr.err
	}
	return rule
}

// DraftFromStruct reads an event create request.
func DraftFromStruct(s *structpb.Struct) (model.EventDraft, error) {
	r := NewReader(s)
	d := model.EventDraft{
		Title:       r.String("title"),
		Description: r.String("description"),
		Location:    r.String("location"),
		Start:       r.Time("start"),
		End:         r.Time("end"),
		Recurrence:  r.Rule("recurrence"),
	}
	return d, r.Err()
}

// DraftsFromStruct reads the "events" list of a batch create request.
func DraftsFromStruct(s *structpb.Struct) ([]model.EventDraft, error) {
	r := NewReader(s)
	items := r.List("events")
	if err := r.Err(); err != nil {
		return nil, err
	}
	out := make([]model.EventDraft, 0, len(items))
	for i, it := range items {
		d, err := DraftFromStruct(it.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("event[%d]: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// PatchFromStruct reads the "patch" object of an update request. Absent keys stay
// unchanged; "recurrence": null clears the rule.
func PatchFromStruct(s *structpb.Struct) (model.EventPatch, error) {
	r := NewReader(s)
	p := model.EventPatch{
		Title:       r.OptString("title"),
		Description: r.OptString("description"),
		Location:    r.OptString("location"),
		Start:       r.OptTime("start"),
		End:         r.OptTime("end"),
	}
	if r.IsNull("recurrence") {
		p.ClearRecurrence = true
	} else {
		p.Recurrence = r.Rule("recurrence")
	}
	return p, r.Err()
}
