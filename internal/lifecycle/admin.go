package lifecycle

import (
	"context"

	"eventlane/internal/events"
	appLog "eventlane/internal/log"
	"eventlane/internal/model"
)

// EndEvent ends the record's platform event.
func (s *Scheduler) EndEvent(ctx context.Context, id string) error {
	unlock := s.reg.Lock(id)
	defer unlock()

	rec, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	if !rec.PlatformEventCreated {
		return &model.ValidationError{Field: "platformEventId", Reason: "event has no platform event"}
	}
	if err := s.client.EndEvent(ctx, rec.Scope(), rec.PlatformEventID); err != nil {
		return &model.PlatformActionError{Action: "end event", RecordID: id, Err: err}
	}
	appLog.Info("platform event ended", "id", id, "title", rec.Title)
	s.publish(ctx, events.TopicEventEnded, rec)
	return nil
}

// CloseThread archives and locks the record's thread.
func (s *Scheduler) CloseThread(ctx context.Context, id string) error {
	_, err := s.archiveThread(ctx, id, "admin")
	return err
}

func (s *Scheduler) archiveThread(ctx context.Context, id, reason string) (bool, error) {
	unlock := s.reg.Lock(id)
	defer unlock()

	rec, err := s.reg.Get(id)
	if err != nil {
		return false, err
	}
	if !rec.ThreadCreated {
		return false, &model.ValidationError{Field: "platformThreadId", Reason: "event has no thread"}
	}
	if rec.ThreadArchived {
		return false, nil
	}
	if err := s.client.ArchiveAndLockThread(ctx, rec.Scope(), rec.PlatformThreadID); err != nil {
		return false, &model.PlatformActionError{Action: "archive thread", RecordID: id, Err: err}
	}
	rec, err = s.update(id, model.Delta{model.Set(model.FieldThreadArchived, true)})
	if err != nil {
		return true, err
	}
	appLog.Info("thread archived", "id", id, "title", rec.Title, "reason", reason)
	s.publish(ctx, events.TopicThreadArchived, rec)
	return true, nil
}

// ExtendArchiveDelay adds minutes to the record's archive delay. Zero
// minutes means one day. It returns the new total.
func (s *Scheduler) ExtendArchiveDelay(_ context.Context, id string, minutes int) (int, error) {
	if minutes < 0 {
		return 0, &model.ValidationError{Field: "minutes", Reason: "must not be negative"}
	}
	if minutes == 0 {
		minutes = DefaultArchiveDelayMinutes
	}

	unlock := s.reg.Lock(id)
	defer unlock()

	rec, err := s.reg.Get(id)
	if err != nil {
		return 0, err
	}
	total := rec.ArchiveDelayMinutes + minutes
	if _, err := s.reg.ApplyFieldUpdates(id, model.Delta{model.Set(model.FieldArchiveDelayMinutes, total)}); err != nil {
		return total, err
	}
	appLog.Info("archive delay extended", "id", id, "added_minutes", minutes, "archive_delay_minutes", total)
	return total, nil
}
