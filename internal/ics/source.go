package ics

import (
	"context"
	"fmt"
	"time"

	appLog "eventlane/internal/log"
	"eventlane/internal/model"
)

// Calendar serves upcoming items of configured ICS feeds.
type Calendar struct {
	fetcher   *Fetcher
	feeds     map[string]Feed
	lookahead time.Duration
	now       func() time.Time
}

type CalendarOption func(*Calendar)

func WithClock(now func() time.Time) CalendarOption {
	return func(c *Calendar) { c.now = now }
}

// NewCalendar serves feeds through fetcher. Items are limited to those
// starting within lookahead from now.
func NewCalendar(fetcher *Fetcher, feeds []Feed, lookahead time.Duration, opts ...CalendarOption) *Calendar {
	c := &Calendar{
		fetcher:   fetcher,
		feeds:     make(map[string]Feed, len(feeds)),
		lookahead: lookahead,
		now:       time.Now,
	}
	for _, f := range feeds {
		c.feeds[f.ID] = f
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchUpcoming downloads, parses and expands the feed with calendarID.
func (c *Calendar) FetchUpcoming(ctx context.Context, calendarID string) ([]model.CalendarItem, error) {
	feed, ok := c.feeds[calendarID]
	if !ok {
		return nil, fmt.Errorf("calendar %q: %w", calendarID, model.ErrNotFound)
	}
	res, err := c.fetcher.Fetch(ctx, feed)
	if err != nil {
		return nil, err
	}
	entries, err := Parse(feed.ID, res.Body)
	if err != nil {
		return nil, err
	}
	now := c.now()
	occs, err := Expand(entries, Window{Start: now, End: now.Add(c.lookahead)})
	if err != nil {
		return nil, err
	}

	items := make([]model.CalendarItem, 0, len(occs))
	for _, o := range occs {
		items = append(items, model.CalendarItem{
			ID:          o.ItemID(),
			Title:       o.Summary,
			Description: o.Description,
			StartTime:   o.Start,
			Location:    o.Location,
		})
	}
	appLog.Info("calendar fetched", "calendar", calendarID, "items", len(items), "from_cache", res.FromCache)
	return items, nil
}
