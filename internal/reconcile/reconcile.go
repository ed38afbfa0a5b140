// Package reconcile folds calendar snapshots into the registry and purges
// records that have aged past the retention window.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventlane/internal/events"
	appLog "eventlane/internal/log"
	"eventlane/internal/model"
)

// Registry is the subset of the registry the reconciler needs.
type Registry interface {
	Upsert(rec model.EventRecord) (created bool, err error)
	Get(id string) (model.EventRecord, error)
	ListAll() []model.EventRecord
	Remove(id string) error
	Lock(id string) (unlock func())
}

// Source delivers the upcoming items of one calendar.
type Source interface {
	FetchUpcoming(ctx context.Context, calendarID string) ([]model.CalendarItem, error)
}

// Calendar binds a calendar id to the platform scope its events go to.
type Calendar struct {
	ID    string
	Name  string
	Scope model.Scope
}

// MergeStats counts what one Merge did.
type MergeStats struct {
	New     int
	Updated int
	Failed  int
}

type Reconciler struct {
	reg       Registry
	source    Source
	calendars []Calendar
	retention int
	pub       events.Publisher
	now       func() time.Time
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithPublisher(p events.Publisher) Option {
	return func(r *Reconciler) { r.pub = p }
}

// WithCalendars sets the calendars Refresh polls.
func WithCalendars(source Source, calendars ...Calendar) Option {
	return func(r *Reconciler) {
		r.source = source
		r.calendars = calendars
	}
}

// New returns a Reconciler that keeps records for retentionDays past their
// start time.
func New(reg Registry, retentionDays int, opts ...Option) *Reconciler {
	r := &Reconciler{
		reg:       reg,
		retention: retentionDays,
		pub:       events.NoopPublisher{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Merge upserts every item of snapshot into scope. Records missing from the
// snapshot are left alone; a calendar item vanishing upstream is not a
// reason to stop tracking it. Items that fail validation are counted and
// skipped; store failures are reported but the merged state is kept.
func (r *Reconciler) Merge(snapshot []model.CalendarItem, scope model.Scope) (MergeStats, error) {
	var (
		stats MergeStats
		errs  []error
	)
	for _, item := range snapshot {
		created, err := r.upsert(item, scope)
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			stats.Failed++
			errs = append(errs, fmt.Errorf("calendar item %q: %w", item.ID, err))
			appLog.Error("reconcile: skipping calendar item", err, "id", item.ID, "title", item.Title)
			continue
		}
		if err != nil {
			errs = append(errs, err)
			appLog.Error("reconcile: calendar item not persisted", err, "id", item.ID)
		}
		if created {
			stats.New++
		} else {
			stats.Updated++
		}
	}
	appLog.Info("calendar snapshot merged",
		"server_id", scope.ServerID,
		"channel_id", scope.ChannelID,
		"new", stats.New,
		"updated", stats.Updated,
		"failed", stats.Failed,
	)
	return stats, errors.Join(errs...)
}

func (r *Reconciler) upsert(item model.CalendarItem, scope model.Scope) (bool, error) {
	if item.ID == "" {
		return false, &model.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	unlock := r.reg.Lock(item.ID)
	defer unlock()
	return r.reg.Upsert(model.NewRecord(item, scope))
}

// SweepExpired removes every record that started more than retentionDays
// ago. It is the only path that deletes records.
func (r *Reconciler) SweepExpired(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, &model.ValidationError{Field: "retentionDays", Reason: "must not be negative"}
	}
	cutoff := r.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	var (
		removed int
		errs    []error
	)
	for _, rec := range r.reg.ListAll() {
		if !rec.StartTime.Before(cutoff) {
			// ListAll is ordered by start time.
			break
		}
		ok, err := r.expire(ctx, rec.ID, cutoff)
		if err != nil {
			errs = append(errs, err)
			appLog.Error("reconcile: failed to remove expired record", err, "id", rec.ID)
			continue
		}
		if ok {
			removed++
		}
	}
	if removed > 0 {
		appLog.Info("expired records removed", "removed", removed, "retention_days", retentionDays)
	}
	return removed, errors.Join(errs...)
}

func (r *Reconciler) expire(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	unlock := r.reg.Lock(id)
	defer unlock()

	rec, err := r.reg.Get(id)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !rec.StartTime.Before(cutoff) {
		return false, nil
	}
	if err := r.reg.Remove(id); err != nil && !errors.Is(err, model.ErrNotFound) {
		return false, err
	}

	err = r.pub.Publish(ctx, events.TopicRecordExpired, events.Transition{
		RecordID:         rec.ID,
		Title:            rec.Title,
		StartTime:        rec.StartTime,
		PlatformEventID:  rec.PlatformEventID,
		PlatformThreadID: rec.PlatformThreadID,
		At:               r.now(),
	})
	if err != nil {
		appLog.Error("reconcile: publish failed", err, "topic", events.TopicRecordExpired, "id", id)
	}
	return true, nil
}

// Refresh polls every configured calendar, merges what it returns and then
// sweeps expired records. A failing calendar does not stop the others.
func (r *Reconciler) Refresh(ctx context.Context) error {
	var errs []error
	for _, cal := range r.calendars {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		items, err := r.source.FetchUpcoming(ctx, cal.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("calendar %s: %w", cal.ID, err))
			appLog.Error("reconcile: calendar fetch failed", err, "calendar", cal.ID, "name", cal.Name)
			continue
		}
		if _, err := r.Merge(items, cal.Scope); err != nil {
			errs = append(errs, fmt.Errorf("calendar %s: %w", cal.ID, err))
		}
	}
	if _, err := r.SweepExpired(ctx, r.retention); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
