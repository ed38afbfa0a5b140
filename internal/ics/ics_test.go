package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedBody = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//eventlane//test//EN
BEGIN:VEVENT
UID:single-1
DTSTAMP:20260501T000000Z
DTSTART:20260602T180000Z
DTEND:20260602T200000Z
SUMMARY:Spring Race
DESCRIPTION:Round 3
LOCATION:Track
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20260501T000000Z
DTSTART:20260601T190000Z
DTEND:20260601T210000Z
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20260608T190000Z
SUMMARY:Club Night
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20260501T000000Z
RECURRENCE-ID:20260615T190000Z
DTSTART:20260615T200000Z
DTEND:20260615T220000Z
SUMMARY:Club Night (late)
END:VEVENT
BEGIN:VEVENT
UID:cancelled-1
DTSTAMP:20260501T000000Z
STATUS:CANCELLED
DTSTART:20260603T180000Z
DTEND:20260603T190000Z
SUMMARY:Called off
END:VEVENT
BEGIN:VEVENT
UID:past-1
DTSTAMP:20260501T000000Z
DTSTART:20260520T180000Z
DTEND:20260520T190000Z
SUMMARY:Already over
END:VEVENT
END:VCALENDAR
`

var windowStart = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func crlf(s string) []byte { return []byte(strings.ReplaceAll(s, "\n", "\r\n")) }

func TestParse(t *testing.T) {
	entries, err := Parse("races", crlf(feedBody))
	require.NoError(t, err)
	require.Len(t, entries, 5)

	single := entries[0]
	assert.Equal(t, "single-1", single.UID)
	assert.Equal(t, "races", single.FeedID)
	assert.Equal(t, "Spring Race", single.Summary)
	assert.Equal(t, "Round 3", single.Description)
	assert.Equal(t, "Track", single.Location)
	assert.True(t, single.Start.Equal(time.Date(2026, 6, 2, 18, 0, 0, 0, time.UTC)))
	assert.False(t, single.AllDay)

	weekly := entries[1]
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", weekly.RRule)
	require.Len(t, weekly.ExDates, 1)
	assert.True(t, weekly.ExDates[0].Equal(time.Date(2026, 6, 8, 19, 0, 0, 0, time.UTC)))

	override := entries[2]
	require.NotNil(t, override.RecurrenceID)
	assert.True(t, override.RecurrenceID.Equal(time.Date(2026, 6, 15, 19, 0, 0, 0, time.UTC)))

	assert.True(t, entries[3].Cancelled)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse("x", nil)
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	entries, err := Parse("races", crlf(feedBody))
	require.NoError(t, err)

	occs, err := Expand(entries, Window{Start: windowStart, End: windowStart.Add(30 * 24 * time.Hour)})
	require.NoError(t, err)

	var ids []string
	for _, o := range occs {
		ids = append(ids, o.ItemID())
	}
	assert.Equal(t, []string{
		"weekly-1@20260601T190000Z",
		"single-1",
		"weekly-1@20260615T190000Z",
		"weekly-1@20260622T190000Z",
	}, ids)

	moved := occs[2]
	assert.Equal(t, "Club Night (late)", moved.Summary)
	assert.True(t, moved.Start.Equal(time.Date(2026, 6, 15, 20, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2*time.Hour, occs[3].End.Sub(occs[3].Start))
}

func TestExpandRejectsInvertedWindow(t *testing.T) {
	_, err := Expand(nil, Window{Start: windowStart, End: windowStart.Add(-time.Hour)})
	assert.Error(t, err)
}

func TestExpandKeepsLatestSequence(t *testing.T) {
	at := windowStart.Add(time.Hour)
	occs, err := Expand([]Entry{
		{UID: "u", Sequence: 1, Summary: "old", Start: at, End: at},
		{UID: "u", Sequence: 2, Summary: "new", Start: at, End: at},
	}, Window{Start: windowStart, End: windowStart.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Equal(t, "new", occs[0].Summary)
}

func TestFetchUsesValidatorsAndCache(t *testing.T) {
	var hits atomic.Int32
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if down.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(crlf(feedBody))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	feed := Feed{ID: "races", URL: srv.URL + "/cal.ics?token=secret"}

	res, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	res, err = f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, crlf(feedBody), res.Body)

	down.Store(true)
	res, err = f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchFailsWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewFetcher(t.TempDir()).Fetch(context.Background(), Feed{ID: "x", URL: srv.URL})
	assert.ErrorContains(t, err, "404")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://cal.example.com/...(redacted)", redactURL("https://cal.example.com/private/abc.ics?token=1"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}

func TestCalendarFetchUpcoming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(crlf(feedBody))
	}))
	defer srv.Close()

	cal := NewCalendar(NewFetcher(t.TempDir()), []Feed{{ID: "races", URL: srv.URL}}, 7*24*time.Hour,
		WithClock(func() time.Time { return windowStart }))

	items, err := cal.FetchUpcoming(context.Background(), "races")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "weekly-1@20260601T190000Z", items[0].ID)
	assert.Equal(t, "Club Night", items[0].Title)
	assert.Equal(t, "single-1", items[1].ID)
	assert.Equal(t, "Track", items[1].Location)

	_, err = cal.FetchUpcoming(context.Background(), "unknown")
	assert.Error(t, err)
}
