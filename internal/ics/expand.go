package ics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "eventlane/internal/log"
)

const defaultMaxPerEntry = 500

// Window bounds expansion. Occurrences starting before Start or after End
// are dropped.
type Window struct {
	Start time.Time
	End   time.Time
	// MaxPerEntry caps occurrences of a single recurring entry. Zero means
	// defaultMaxPerEntry.
	MaxPerEntry int
}

// Occurrence is one concrete instance of an entry.
type Occurrence struct {
	FeedID      string
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool

	// Slot is the instance start generated by the recurrence rule. It
	// differs from Start when an override moved the instance. Zero for
	// single events.
	Slot time.Time
}

// ItemID is the stable identity of the occurrence: the UID for a single
// event, UID@<slot in UTC> for an instance of a recurring one.
func (o Occurrence) ItemID() string {
	if o.Slot.IsZero() {
		return o.UID
	}
	return fmt.Sprintf("%s@%s", o.UID, o.Slot.UTC().Format("20060102T150405Z"))
}

// Expand turns entries into occurrences inside w, applying RRULE, EXDATE and
// RECURRENCE-ID overrides. Cancelled instances are dropped. The result is
// ordered by start time.
func Expand(entries []Entry, w Window) ([]Occurrence, error) {
	if w.End.Before(w.Start) {
		return nil, errors.New("expand: window ends before it starts")
	}
	if w.MaxPerEntry <= 0 {
		w.MaxPerEntry = defaultMaxPerEntry
	}

	bases := make(map[string][]Entry)
	overrides := make(map[string][]Entry)
	var uids []string
	for _, e := range entries {
		if e.RecurrenceID != nil {
			overrides[e.UID] = append(overrides[e.UID], e)
			continue
		}
		if _, seen := bases[e.UID]; !seen {
			uids = append(uids, e.UID)
		}
		bases[e.UID] = append(bases[e.UID], e)
	}

	var out []Occurrence
	for _, uid := range uids {
		for _, e := range latest(bases[uid]) {
			out = append(out, expandEntry(e, overrides[uid], w)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// latest keeps only the highest SEQUENCE when a feed repeats a UID.
func latest(es []Entry) []Entry {
	if len(es) < 2 {
		return es
	}
	best := es[0]
	for _, e := range es[1:] {
		if e.Sequence > best.Sequence {
			best = e
		}
	}
	return []Entry{best}
}

func expandEntry(e Entry, overrides []Entry, w Window) []Occurrence {
	if e.RRule == "" {
		if e.Cancelled || !inWindow(e.Start, w) {
			return nil
		}
		return []Occurrence{occurrence(e, e.Start, e.End, time.Time{})}
	}
	if e.Cancelled {
		return nil
	}

	r, err := rrule.StrToRRule(e.RRule)
	if err != nil {
		appLog.Error("expand: bad RRULE", err, "uid", e.UID, "rrule", e.RRule)
		return nil
	}
	r.DTStart(e.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range e.ExDates {
		set.ExDate(ex.In(e.Start.Location()))
	}

	loc := e.Start.Location()
	starts := set.Between(w.Start.In(loc), w.End.In(loc), true)
	if len(starts) > w.MaxPerEntry {
		appLog.Error("expand: occurrence cap reached", errors.New("too many occurrences"), "uid", e.UID, "cap", w.MaxPerEntry)
		starts = starts[:w.MaxPerEntry]
	}

	dur := e.End.Sub(e.Start)
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		if o, ok := overrideFor(overrides, s); ok {
			if o.Cancelled || !inWindow(o.Start, w) {
				continue
			}
			out = append(out, occurrence(o, o.Start, o.End, s))
			continue
		}
		out = append(out, occurrence(e, s, s.Add(dur), s))
	}
	return out
}

func overrideFor(overrides []Entry, slot time.Time) (Entry, bool) {
	for _, o := range overrides {
		if o.RecurrenceID.Equal(slot) {
			return o, true
		}
	}
	return Entry{}, false
}

func occurrence(e Entry, start, end, slot time.Time) Occurrence {
	return Occurrence{
		FeedID:      e.FeedID,
		UID:         e.UID,
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Start:       start,
		End:         end,
		AllDay:      e.AllDay,
		Slot:        slot,
	}
}

func inWindow(t time.Time, w Window) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}
