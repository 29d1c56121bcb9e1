// cmd/cli/typed.go
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/teamcal/internal/convert"
	"github.com/and161185/teamcal/internal/model"
)

// ------- event builders -------

// eventFlags holds the event fields shared by create, check and update.
type eventFlags struct {
	title, description, location string
	start, end                   string
	freq                         string
	interval, count              int
	until, exdates, rrule        string
}

func (e *eventFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&e.title, "title", "", "title")
	fs.StringVar(&e.description, "desc", "", "description")
	fs.StringVar(&e.location, "location", "", "location")
	fs.StringVar(&e.start, "start", "", "start (RFC 3339)")
	fs.StringVar(&e.end, "end", "", "end (RFC 3339)")
	fs.StringVar(&e.freq, "freq", "", "daily, weekly, monthly or custom")
	fs.IntVar(&e.interval, "interval", 1, "recurrence interval")
	fs.IntVar(&e.count, "count", 0, "number of occurrences, 0 for unbounded")
	fs.StringVar(&e.until, "until", "", "last occurrence start (RFC 3339)")
	fs.StringVar(&e.exdates, "except", "", "comma separated skipped starts (RFC 3339)")
	fs.StringVar(&e.rrule, "rrule", "", "RFC 5545 rule body for -freq custom")
}

// draft builds a create/check request.
func (e *eventFlags) draft() (map[string]any, error) {
	if strings.TrimSpace(e.title) == "" {
		return nil, errors.New("need -title")
	}
	if err := checkTime("start", e.start); err != nil {
		return nil, err
	}
	if err := checkTime("end", e.end); err != nil {
		return nil, err
	}
	req := map[string]any{
		"title": e.title,
		"start": e.start,
		"end":   e.end,
	}
	if e.description != "" {
		req["description"] = e.description
	}
	if e.location != "" {
		req["location"] = e.location
	}
	if e.freq != "" {
		rule, err := e.rule()
		if err != nil {
			return nil, err
		}
		req["recurrence"] = rule
	}
	return req, nil
}

// patch builds the "patch" object of an update from the flags that were set.
func (e *eventFlags) patch(fs *flag.FlagSet, clearRule bool) (map[string]any, error) {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	p := map[string]any{}
	for name, key := range map[string]string{"title": "title", "desc": "description", "location": "location"} {
		if set[name] {
			p[key] = fs.Lookup(name).Value.String()
		}
	}
	for _, name := range []string{"start", "end"} {
		if !set[name] {
			continue
		}
		v := fs.Lookup(name).Value.String()
		if err := checkTime(name, v); err != nil {
			return nil, err
		}
		p[name] = v
	}
	switch {
	case clearRule && set["freq"]:
		return nil, errors.New("-no-recurrence conflicts with -freq")
	case clearRule:
		p["recurrence"] = nil
	case set["freq"]:
		rule, err := e.rule()
		if err != nil {
			return nil, err
		}
		p["recurrence"] = rule
	}
	if len(p) == 0 {
		return nil, errors.New("nothing to update")
	}
	return p, nil
}

func (e *eventFlags) rule() (map[string]any, error) {
	switch model.Frequency(e.freq) {
	case model.FreqDaily, model.FreqWeekly, model.FreqMonthly:
	case model.FreqCustom:
		if e.rrule == "" {
			return nil, errors.New("-freq custom needs -rrule")
		}
	default:
		return nil, fmt.Errorf("unknown -freq %q", e.freq)
	}
	r := map[string]any{"frequency": e.freq, "interval": e.interval}
	if e.count > 0 {
		r["count"] = e.count
	}
	if e.until != "" {
		if err := checkTime("until", e.until); err != nil {
			return nil, err
		}
		r["until"] = e.until
	}
	if e.rrule != "" {
		r["rrule"] = e.rrule
	}
	if e.exdates != "" {
		var ex []any
		for _, s := range strings.Split(e.exdates, ",") {
			s = strings.TrimSpace(s)
			if err := checkTime("except", s); err != nil {
				return nil, err
			}
			ex = append(ex, s)
		}
		r["exception_dates"] = ex
	}
	return r, nil
}

// batchRequest accepts either {"events": [...]} or a bare JSON array of events.
func batchRequest(b []byte) (map[string]any, error) {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse batch: %w", err)
	}
	var events []any
	switch v := raw.(type) {
	case []any:
		events = v
	case map[string]any:
		list, ok := v["events"].([]any)
		if !ok {
			return nil, errors.New(`batch object needs an "events" list`)
		}
		events = list
	default:
		return nil, errors.New("batch must be a JSON array or object")
	}
	if len(events) == 0 {
		return nil, errors.New("empty batch")
	}
	req := map[string]any{"events": events}
	// reject what the server would reject anyway, with the item index
	s, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	if _, err := convert.DraftsFromStruct(s); err != nil {
		return nil, err
	}
	return req, nil
}

// ------- other requests -------

func shareRequest(grant bool, eventID, userID, role string) (map[string]any, error) {
	if err := requireID("id", eventID); err != nil {
		return nil, err
	}
	if err := requireID("user", userID); err != nil {
		return nil, err
	}
	req := map[string]any{"event_id": eventID, "user_id": userID}
	if grant {
		r, err := model.ParseRole(role)
		if err != nil {
			return nil, err
		}
		req["role"] = string(r)
	}
	return req, nil
}

func windowRequest(from, to string) (map[string]any, error) {
	if err := checkTime("from", from); err != nil {
		return nil, err
	}
	if err := checkTime("to", to); err != nil {
		return nil, err
	}
	return map[string]any{"from": from, "to": to}, nil
}

type pageFlags struct {
	order         string
	offset, limit int
}

func (p *pageFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&p.order, "order", "", "asc or desc")
	fs.IntVar(&p.offset, "offset", 0, "skip N")
	fs.IntVar(&p.limit, "limit", 0, "at most N, 0 for server default")
}

// apply adds paging keys to req.
func (p pageFlags) apply(req map[string]any) (map[string]any, error) {
	switch p.order {
	case "", "asc", "desc":
	default:
		return nil, fmt.Errorf("-order must be asc or desc, got %q", p.order)
	}
	if p.offset < 0 || p.limit < 0 {
		return nil, errors.New("-offset and -limit must not be negative")
	}
	if p.order != "" {
		req["order"] = p.order
	}
	if p.offset > 0 {
		req["offset"] = p.offset
	}
	if p.limit > 0 {
		req["limit"] = p.limit
	}
	return req, nil
}

// printChangelog writes one line per version of a History reply.
func printChangelog(w io.Writer, resp *structpb.Struct) {
	for _, v := range resp.GetFields()["versions"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		line := fmt.Sprintf("v%d %-8s %s", int64(f["seq"].GetNumberValue()),
			f["kind"].GetStringValue(), f["created_at"].GetStringValue())
		if cl := f["changelog"].GetStringValue(); cl != "" {
			line += "  " + cl
		}
		fmt.Fprintln(w, line)
	}
}

// ------- validators -------

func requireID(name, v string) error {
	if v == "" {
		return fmt.Errorf("need -%s", name)
	}
	if _, err := u.FromString(v); err != nil {
		return fmt.Errorf("-%s: not a uuid", name)
	}
	return nil
}

func checkTime(name, v string) error {
	if v == "" {
		return fmt.Errorf("need -%s", name)
	}
	if _, err := convert.ParseTime(v); err != nil {
		return fmt.Errorf("-%s: want RFC 3339, got %q", name, v)
	}
	return nil
}
