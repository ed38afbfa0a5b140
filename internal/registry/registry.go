// Package registry holds the authoritative in-memory set of event records,
// mirrored to a Store after every mutation.
package registry

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	appLog "eventlane/internal/log"
	"eventlane/internal/model"
)

// Store is the durable mirror the registry writes through to.
type Store interface {
	Put(rec model.EventRecord) error
	Delete(id string, scope model.Scope) error
	LoadAll() ([]model.EventRecord, error)
}

// Registry is safe for concurrent use. Every method returns copies; callers
// mutate records only through Upsert, ApplyFieldUpdates and Remove.
//
// Persistence is best effort: when the store write fails the in-memory
// change is kept and the store error is returned to the caller.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*model.EventRecord
	store   Store
	now     func() time.Time

	recordLocks keyedLocks
}

type Option func(*Registry)

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		records: make(map[string]*model.EventRecord),
		store:   store,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the in-memory set with everything the store holds.
func (r *Registry) Load() (int, error) {
	recs, err := r.store.LoadAll()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*model.EventRecord, len(recs))
	for _, rec := range recs {
		if prev, ok := r.records[rec.ID]; ok {
			// Same id under two scopes; keep the most recently updated copy.
			appLog.Error("registry: duplicate record id on disk", fmt.Errorf("id %q", rec.ID),
				"kept_server", prev.ServerID, "kept_channel", prev.ChannelID)
			if !rec.LastUpdated.After(prev.LastUpdated) {
				continue
			}
		}
		c := rec.Clone()
		r.records[rec.ID] = &c
	}
	appLog.Info("registry loaded", "records", len(r.records))
	return len(r.records), nil
}

// Upsert inserts rec, or merges its calendar-origin fields into the existing
// record with the same id. Platform state, scope and lifecycle markers of an
// existing record are never overwritten here.
func (r *Registry) Upsert(rec model.EventRecord) (created bool, err error) {
	if rec.ID == "" {
		return false, &model.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if rec.StartTime.IsZero() {
		return false, &model.ValidationError{Field: "startTime", Reason: "must be set"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[rec.ID]
	if ok {
		existing.MergeCalendar(model.CalendarItem{
			ID:          rec.ID,
			Title:       rec.Title,
			Description: rec.Description,
			StartTime:   rec.StartTime,
			Location:    rec.Location,
		})
	} else {
		if err := rec.Validate(); err != nil {
			return false, err
		}
		c := rec.Clone()
		existing = &c
		r.records[rec.ID] = existing
	}
	existing.Touch(r.now())

	if err := r.store.Put(*existing); err != nil {
		return !ok, fmt.Errorf("upsert %q: %w", rec.ID, err)
	}
	return !ok, nil
}

// Get returns a copy of the record with the given id.
func (r *Registry) Get(id string) (model.EventRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return model.EventRecord{}, fmt.Errorf("record %q: %w", id, model.ErrNotFound)
	}
	return rec.Clone(), nil
}

// FindByPlatformEventID returns the record whose platform event id matches.
func (r *Registry) FindByPlatformEventID(platformEventID string) (model.EventRecord, error) {
	return r.find("platform event", platformEventID, func(rec *model.EventRecord) bool {
		return rec.PlatformEventID == platformEventID
	})
}

// FindByPlatformThreadID returns the record whose platform thread id matches.
func (r *Registry) FindByPlatformThreadID(platformThreadID string) (model.EventRecord, error) {
	return r.find("platform thread", platformThreadID, func(rec *model.EventRecord) bool {
		return rec.PlatformThreadID == platformThreadID
	})
}

func (r *Registry) find(kind, key string, match func(*model.EventRecord) bool) (model.EventRecord, error) {
	if key == "" {
		return model.EventRecord{}, fmt.Errorf("%s %q: %w", kind, key, model.ErrNotFound)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.sortedLocked() {
		if match(rec) {
			return rec.Clone(), nil
		}
	}
	return model.EventRecord{}, fmt.Errorf("%s %q: %w", kind, key, model.ErrNotFound)
}

// ListAll returns copies of every record ordered by start time, then id.
func (r *Registry) ListAll() []model.EventRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sorted := r.sortedLocked()
	out := make([]model.EventRecord, 0, len(sorted))
	for _, rec := range sorted {
		out = append(out, rec.Clone())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *Registry) sortedLocked() []*model.EventRecord {
	out := make([]*model.EventRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b *model.EventRecord) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// ApplyFieldUpdates applies delta to the record as one step. Unknown field
// names and mistyped values are logged and skipped. If the result would
// violate a record invariant nothing is applied and a ValidationError is
// returned.
func (r *Registry) ApplyFieldUpdates(id string, delta model.Delta) (model.EventRecord, error) {
	if id == "" {
		return model.EventRecord{}, &model.ValidationError{Field: "id", Reason: "must not be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.records[id]
	if !ok {
		return model.EventRecord{}, fmt.Errorf("record %q: %w", id, model.ErrNotFound)
	}

	next := cur.Clone()
	applied, skipped := next.Apply(delta)
	for _, e := range skipped {
		appLog.Error("registry: ignoring field update", e, "id", id)
	}
	if len(applied) == 0 {
		return cur.Clone(), nil
	}
	if err := next.Validate(); err != nil {
		return cur.Clone(), err
	}

	oldScope := cur.Scope()
	next.Touch(r.now())
	*cur = next

	if err := r.store.Put(next); err != nil {
		return next.Clone(), fmt.Errorf("update %q: %w", id, err)
	}
	if next.Scope() != oldScope {
		if err := r.store.Delete(id, oldScope); err != nil {
			appLog.Error("registry: failed to remove record from previous scope", err, "id", id)
		}
	}
	appLog.Debug("registry: fields updated", "id", id, "fields", applied)
	return next.Clone(), nil
}

// Remove drops the record from memory and from the store.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("record %q: %w", id, model.ErrNotFound)
	}
	delete(r.records, id)
	if err := r.store.Delete(id, rec.Scope()); err != nil {
		return fmt.Errorf("remove %q: %w", id, err)
	}
	return nil
}
