package model

import "time"

// Stage is the derived lifecycle position of a record.
type Stage string

const (
	StageDiscovered        Stage = "discovered"
	StageEventCreationDue  Stage = "event_creation_due"
	StageEventCreated      Stage = "event_created"
	StageThreadCreationDue Stage = "thread_creation_due"
	StageThreadCreated     Stage = "thread_created"
	StageArchived          Stage = "archived"
	StageCancelled         Stage = "cancelled"
	StageExpired           Stage = "expired"
)

// LeadTimes are the offsets before start at which platform actions fall due.
type LeadTimes struct {
	EventCreate  time.Duration
	ThreadCreate time.Duration
}

// StageAt derives the stage of r at now. Records starting before
// retentionCutoff are Expired regardless of any other state.
func StageAt(r EventRecord, now, retentionCutoff time.Time, lead LeadTimes) Stage {
	switch {
	case !retentionCutoff.IsZero() && r.StartTime.Before(retentionCutoff):
		return StageExpired
	case r.Cancelled:
		return StageCancelled
	case r.ThreadArchived:
		return StageArchived
	case r.ThreadCreated:
		return StageThreadCreated
	}

	timeToEvent := r.StartTime.Sub(now)
	if r.PlatformEventCreated {
		if timeToEvent <= lead.ThreadCreate {
			return StageThreadCreationDue
		}
		return StageEventCreated
	}
	if timeToEvent <= lead.EventCreate {
		return StageEventCreationDue
	}
	return StageDiscovered
}
