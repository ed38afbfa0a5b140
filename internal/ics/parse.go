package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "eventlane/internal/log"
)

// Entry is one VEVENT reduced to what expansion needs.
type Entry struct {
	FeedID string

	UID      string
	Sequence int

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time
	// RecurrenceID is set when the entry overrides one instance of a
	// recurring event.
	RecurrenceID *time.Time
	Cancelled    bool
}

// Parse decodes an ICS payload. A VEVENT that cannot be read is logged and
// skipped; only an unreadable calendar fails the call.
func Parse(feedID string, body []byte) ([]Entry, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedID, err)
	}

	entries := make([]Entry, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		e, err := parseEvent(feedID, ve)
		if err != nil {
			appLog.Error("ics: skipping vevent", err, "feed", feedID)
			continue
		}
		entries = append(entries, e)
	}
	appLog.Debug("ics parsed", "feed", feedID, "entries", len(entries))
	return entries, nil
}

func parseEvent(feedID string, ve *ical.VEvent) (Entry, error) {
	e := Entry{FeedID: feedID}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return e, errors.New("missing UID")
	}
	e.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			e.Sequence = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		e.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		e.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		e.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		e.Cancelled = strings.EqualFold(p.Value, "CANCELLED")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return e, fmt.Errorf("event %s: DTSTART: %w", e.UID, err)
	}
	e.Start = start
	if end, err := ve.GetEndAt(); err == nil {
		e.End = end
	} else {
		e.End = start
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	e.AllDay = isDateValue(dtStart)
	if e.AllDay && !e.End.After(e.Start) {
		e.End = e.Start.AddDate(0, 0, 1)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		e.RRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := propLocation(p, e.Start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseTime(part, loc); err == nil {
				e.ExDates = append(e.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		t, err := parseTime(p.Value, propLocation(p, e.Start.Location()))
		if err != nil {
			return e, fmt.Errorf("event %s: RECURRENCE-ID: %w", e.UID, err)
		}
		e.RecurrenceID = &t
	}
	return e, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if p == nil {
		return false
	}
	if vs := p.ICalParameters[string(ical.ParameterValue)]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// propLocation resolves the property's TZID, falling back to def.
func propLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	if tz := p.ICalParameters[string(ical.ParameterTzid)]; len(tz) > 0 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	if def == nil {
		return time.UTC
	}
	return def
}

// parseTime reads DATE, floating DATE-TIME and UTC DATE-TIME values.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
