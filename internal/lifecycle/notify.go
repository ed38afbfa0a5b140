package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"eventlane/internal/events"
	appLog "eventlane/internal/log"
	"eventlane/internal/model"
	"eventlane/internal/platform"
)

// Dispatch routes a platform notification to its handler. Handler errors
// are logged; a notification never fails the caller's delivery loop.
func (s *Scheduler) Dispatch(ctx context.Context, n platform.Notification) {
	var err error
	switch n.Kind {
	case platform.EventStarted:
		err = s.OnEventStarted(ctx, n.PlatformEventID)
	case platform.EventCompleted:
		err = s.OnEventCompleted(ctx, n.PlatformEventID)
	case platform.EventCancelled:
		err = s.OnEventCancelled(ctx, n.PlatformEventID)
	default:
		err = fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	if err != nil {
		appLog.Error("lifecycle: notification handling failed", err, "kind", n.Kind, "platform_event_id", n.PlatformEventID)
	}
}

// OnEventStarted opens the thread right away for an event that started
// before its thread lead time.
func (s *Scheduler) OnEventStarted(ctx context.Context, platformEventID string) error {
	rec, ok := s.lookup(platformEventID, "started")
	if !ok {
		return nil
	}
	s.publish(ctx, events.TopicEventStarted, rec)
	if rec.ThreadCreated {
		return nil
	}
	created, err := s.ensureThread(ctx, rec.ID)
	if err != nil {
		return err
	}
	if created {
		appLog.Info("thread created for early-started event", "id", rec.ID, "title", rec.Title)
	}
	return nil
}

// OnEventCompleted marks the record for archival. The thread stays open.
func (s *Scheduler) OnEventCompleted(ctx context.Context, platformEventID string) error {
	rec, ok := s.lookup(platformEventID, "completed")
	if !ok {
		return nil
	}
	unlock := s.reg.Lock(rec.ID)
	defer unlock()

	rec, err := s.reg.Get(rec.ID)
	if err != nil {
		return err
	}
	if rec.CompletedAt == nil {
		rec, err = s.update(rec.ID, model.Delta{model.Set(model.FieldCompletedAt, s.now())})
		if err != nil {
			return err
		}
	}
	appLog.Info("event completed", "id", rec.ID, "title", rec.Title)
	s.publish(ctx, events.TopicEventCompleted, rec)
	return nil
}

// OnEventCancelled marks the record cancelled. The record is kept until the
// retention sweep removes it.
func (s *Scheduler) OnEventCancelled(ctx context.Context, platformEventID string) error {
	rec, ok := s.lookup(platformEventID, "cancelled")
	if !ok {
		return nil
	}
	unlock := s.reg.Lock(rec.ID)
	defer unlock()

	rec, err := s.reg.Get(rec.ID)
	if err != nil {
		return err
	}
	if !rec.Cancelled {
		rec, err = s.update(rec.ID, model.Delta{model.Set(model.FieldCancelled, true)})
		if err != nil {
			return err
		}
	}
	appLog.Info("event cancelled", "id", rec.ID, "title", rec.Title)
	s.publish(ctx, events.TopicEventCancelled, rec)
	return nil
}

func (s *Scheduler) lookup(platformEventID, kind string) (model.EventRecord, bool) {
	rec, err := s.reg.FindByPlatformEventID(platformEventID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			appLog.Info("lifecycle: notification for untracked event", "kind", kind, "platform_event_id", platformEventID)
		} else {
			appLog.Error("lifecycle: notification lookup failed", err, "kind", kind, "platform_event_id", platformEventID)
		}
		return rec, false
	}
	return rec, true
}
