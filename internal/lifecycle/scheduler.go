// Package lifecycle drives every tracked event through
// discovered -> event created -> thread created -> archived, firing each
// platform action once and recording the outcome in the registry.
//
// Each transition holds the record's lock from the registry, re-reads the
// record, and asks the platform whether the object already exists before
// creating it. That pre-check covers a crash between a platform-side create
// and the local write that records it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"eventlane/internal/events"
	appLog "eventlane/internal/log"
	"eventlane/internal/model"
	"eventlane/internal/platform"
)

const (
	DefaultArchiveDelayMinutes = 1440
	threadTimeLayout           = "2006-01-02 15:04"
	kickoffText                = "The event is starting soon!"
)

// Registry is the subset of the registry the scheduler needs.
type Registry interface {
	Get(id string) (model.EventRecord, error)
	ListAll() []model.EventRecord
	FindByPlatformEventID(platformEventID string) (model.EventRecord, error)
	ApplyFieldUpdates(id string, delta model.Delta) (model.EventRecord, error)
	Lock(id string) (unlock func())
}

// Config holds the time thresholds of the state machine.
type Config struct {
	EventCreateLead  time.Duration
	ThreadCreateLead time.Duration
	// Lookahead bounds the active lane; records further out are ignored.
	Lookahead time.Duration
	// EventDuration sets the end time of created platform events.
	EventDuration time.Duration
	// ArchiveDelayMinutes is assigned when a thread opens.
	ArchiveDelayMinutes int
	// AutoArchive archives a completed event's thread once its archive
	// delay has passed.
	AutoArchive bool
	// Location renders thread names; nil means time.Local.
	Location *time.Location
}

// TickReport summarises one pass over the registry.
type TickReport struct {
	InLane         int
	EventsCreated  int
	ThreadsCreated int
	Archived       int
	Failed         int
}

type Scheduler struct {
	reg    Registry
	client platform.Client
	pub    events.Publisher
	cfg    Config
	now    func() time.Time

	ticking atomic.Bool
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Scheduler) { s.pub = p }
}

func New(reg Registry, client platform.Client, cfg Config, opts ...Option) *Scheduler {
	if cfg.ArchiveDelayMinutes <= 0 {
		cfg.ArchiveDelayMinutes = DefaultArchiveDelayMinutes
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s := &Scheduler{
		reg:    reg,
		client: client,
		pub:    events.NoopPublisher{},
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunTick evaluates every tracked record once. A tick that starts while
// another is still running returns ErrTickInProgress without doing any
// work. Per-record failures are logged, counted and joined into the
// returned error; they never stop the pass.
func (s *Scheduler) RunTick(ctx context.Context) (TickReport, error) {
	var report TickReport
	if !s.ticking.CompareAndSwap(false, true) {
		return report, model.ErrTickInProgress
	}
	defer s.ticking.Store(false)

	now := s.now()
	var errs []error

	for _, rec := range s.reg.ListAll() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		if s.cfg.AutoArchive && archiveDue(rec, now) {
			archived, err := s.archiveThread(ctx, rec.ID, "auto")
			if err != nil {
				report.Failed++
				errs = append(errs, err)
				appLog.Error("lifecycle: auto-archive failed", err, "id", rec.ID)
			} else if archived {
				report.Archived++
			}
			continue
		}

		if rec.Cancelled || rec.ThreadArchived || rec.CompletedAt != nil {
			continue
		}
		timeToEvent := rec.StartTime.Sub(now)
		if timeToEvent <= 0 || timeToEvent > s.cfg.Lookahead {
			continue
		}
		report.InLane++

		if err := s.advance(ctx, rec, timeToEvent, &report); err != nil {
			report.Failed++
			errs = append(errs, err)
			appLog.Error("lifecycle: transition failed", err, "id", rec.ID, "title", rec.Title)
		}
	}

	appLog.Info("event lanes processed",
		"in_lane", report.InLane,
		"events_created", report.EventsCreated,
		"threads_created", report.ThreadsCreated,
		"archived", report.Archived,
		"failed", report.Failed,
	)
	return report, errors.Join(errs...)
}

func (s *Scheduler) advance(ctx context.Context, rec model.EventRecord, timeToEvent time.Duration, report *TickReport) error {
	if !rec.PlatformEventCreated && timeToEvent <= s.cfg.EventCreateLead {
		updated, created, err := s.ensureEvent(ctx, rec.ID)
		if err != nil {
			return err
		}
		if created {
			report.EventsCreated++
			appLog.Info("platform event created", "id", rec.ID, "title", rec.Title, "starts_in", timeToEvent.Round(time.Minute))
		}
		rec = updated
	}

	if rec.PlatformEventCreated && !rec.ThreadCreated && timeToEvent <= s.cfg.ThreadCreateLead {
		created, err := s.ensureThread(ctx, rec.ID)
		if err != nil {
			return err
		}
		if created {
			report.ThreadsCreated++
			appLog.Info("platform thread created", "id", rec.ID, "title", rec.Title, "starts_in", timeToEvent.Round(time.Minute))
		}
	}
	return nil
}

// ensureEvent makes sure a platform event exists for id and is recorded.
// created reports whether this call created it (as opposed to finding it
// already recorded or already present on the platform).
func (s *Scheduler) ensureEvent(ctx context.Context, id string) (rec model.EventRecord, created bool, err error) {
	unlock := s.reg.Lock(id)
	defer unlock()

	rec, err = s.reg.Get(id)
	if err != nil {
		return rec, false, err
	}
	if rec.PlatformEventCreated || rec.Cancelled {
		return rec, false, nil
	}

	scope := rec.Scope()
	platformID, found, err := s.existingEvent(ctx, rec)
	if err != nil {
		return rec, false, err
	}
	if found {
		appLog.Info("lifecycle: adopting existing platform event", "id", id, "platform_event_id", platformID)
	} else {
		platformID, err = s.client.CreateScheduledEvent(ctx, scope, platform.EventSpec{
			Key:         rec.ID,
			Title:       rec.Title,
			Start:       rec.StartTime,
			End:         rec.StartTime.Add(s.cfg.EventDuration),
			Description: rec.Description,
			Location:    rec.Location,
		})
		if err != nil {
			return rec, false, &model.PlatformActionError{Action: "create scheduled event", RecordID: id, Err: err}
		}
		created = true
	}

	rec, err = s.update(id, model.Delta{
		model.Set(model.FieldPlatformEventID, platformID),
		model.Set(model.FieldPlatformEventCreated, true),
	})
	if err != nil {
		return rec, created, err
	}

	if created {
		s.post(ctx, scope.ChannelID, platform.Message{
			Text: fmt.Sprintf("%s is scheduled for %s. Mark yourself as interested to be notified when the discussion thread opens.",
				rec.Title, rec.StartTime.In(s.cfg.Location).Format(threadTimeLayout)),
		}, id)
	}
	s.publish(ctx, events.TopicEventCreated, rec)
	return rec, created, nil
}

func (s *Scheduler) existingEvent(ctx context.Context, rec model.EventRecord) (string, bool, error) {
	scope := rec.Scope()
	if rec.PlatformEventID != "" {
		ok, err := s.client.FindEvent(ctx, scope, rec.PlatformEventID)
		if err != nil {
			return "", false, &model.PlatformActionError{Action: "find event", RecordID: rec.ID, Err: err}
		}
		if ok {
			return rec.PlatformEventID, true, nil
		}
	}
	platformID, ok, err := s.client.FindEventByKey(ctx, scope, rec.ID)
	if err != nil {
		return "", false, &model.PlatformActionError{Action: "find event by key", RecordID: rec.ID, Err: err}
	}
	return platformID, ok, nil
}

// ensureThread opens the discussion thread for id once its platform event
// exists. It ignores lead times; callers decide when a thread is due.
func (s *Scheduler) ensureThread(ctx context.Context, id string) (created bool, err error) {
	unlock := s.reg.Lock(id)
	defer unlock()

	rec, err := s.reg.Get(id)
	if err != nil {
		return false, err
	}
	if rec.ThreadCreated || rec.Cancelled {
		return false, nil
	}
	if !rec.PlatformEventCreated {
		return false, &model.ValidationError{Field: "platformEventCreated", Reason: "thread requires a platform event"}
	}

	scope := rec.Scope()
	threadID, found, err := s.existingThread(ctx, rec)
	if err != nil {
		return false, err
	}
	if found {
		appLog.Info("lifecycle: adopting existing platform thread", "id", id, "platform_thread_id", threadID)
	} else {
		threadID, err = s.client.CreateThread(ctx, scope, platform.ThreadSpec{
			Key:             rec.ID,
			Name:            fmt.Sprintf("%s - %s", rec.Title, rec.StartTime.In(s.cfg.Location).Format(threadTimeLayout)),
			PlatformEventID: rec.PlatformEventID,
		})
		if err != nil {
			return false, &model.PlatformActionError{Action: "create thread", RecordID: id, Err: err}
		}
		created = true
	}

	participants, err := s.client.InterestedParticipants(ctx, scope, rec.PlatformEventID)
	if err != nil {
		appLog.Error("lifecycle: could not read interested participants", err, "id", id)
		participants = []string{}
	}

	rec, err = s.update(id, model.Delta{
		model.Set(model.FieldPlatformThreadID, threadID),
		model.Set(model.FieldThreadCreated, true),
		model.Set(model.FieldInterestedParticipants, participants),
		model.Set(model.FieldArchiveDelayMinutes, s.cfg.ArchiveDelayMinutes),
	})
	if err != nil {
		return created, err
	}

	// An adopted thread may already carry the kickoff message.
	if created && len(rec.InterestedParticipants) > 0 {
		s.post(ctx, threadID, platform.Message{Text: kickoffText, Mentions: rec.InterestedParticipants}, id)
	}
	s.publish(ctx, events.TopicThreadCreated, rec)
	return created, nil
}

func (s *Scheduler) existingThread(ctx context.Context, rec model.EventRecord) (string, bool, error) {
	scope := rec.Scope()
	if rec.PlatformThreadID != "" {
		ok, err := s.client.FindThread(ctx, scope, rec.PlatformThreadID)
		if err != nil {
			return "", false, &model.PlatformActionError{Action: "find thread", RecordID: rec.ID, Err: err}
		}
		if ok {
			return rec.PlatformThreadID, true, nil
		}
	}
	threadID, ok, err := s.client.FindThreadByKey(ctx, scope, rec.ID)
	if err != nil {
		return "", false, &model.PlatformActionError{Action: "find thread by key", RecordID: rec.ID, Err: err}
	}
	return threadID, ok, nil
}

func archiveDue(rec model.EventRecord, now time.Time) bool {
	if !rec.ThreadCreated || rec.ThreadArchived || rec.CompletedAt == nil {
		return false
	}
	due := rec.CompletedAt.Add(time.Duration(rec.ArchiveDelayMinutes) * time.Minute)
	return !now.Before(due)
}

// update applies delta through the registry. A persistence failure leaves
// memory ahead of disk; it is logged and the in-memory result is returned
// so the transition counts as done.
func (s *Scheduler) update(id string, delta model.Delta) (model.EventRecord, error) {
	rec, err := s.reg.ApplyFieldUpdates(id, delta)
	if err != nil {
		var perr *model.PersistenceError
		if errors.As(err, &perr) {
			appLog.Error("lifecycle: record not persisted, memory ahead of disk", err, "id", id, "fields", delta.Fields())
			return rec, nil
		}
		return rec, err
	}
	return rec, nil
}

func (s *Scheduler) post(ctx context.Context, target string, msg platform.Message, id string) {
	if target == "" {
		return
	}
	if err := s.client.PostMessage(ctx, target, msg); err != nil {
		appLog.Error("lifecycle: post message failed", err, "id", id, "target", target)
	}
}

func (s *Scheduler) publish(ctx context.Context, topic string, rec model.EventRecord) {
	err := s.pub.Publish(ctx, topic, events.Transition{
		RecordID:         rec.ID,
		Title:            rec.Title,
		StartTime:        rec.StartTime,
		PlatformEventID:  rec.PlatformEventID,
		PlatformThreadID: rec.PlatformThreadID,
		At:               s.now(),
	})
	if err != nil {
		appLog.Error("lifecycle: publish failed", err, "topic", topic, "id", rec.ID)
	}
}
