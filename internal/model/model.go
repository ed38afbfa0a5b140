package model

import (
	"slices"
	"time"
)

// Scope identifies a destination on the chat platform.
type Scope struct {
	ServerID  string
	ChannelID string
}

// CalendarItem is one upcoming entry as delivered by a calendar source,
// before any platform state is attached.
type CalendarItem struct {
	ID          string
	Title       string
	Description string
	StartTime   time.Time
	Location    string
}

// EventRecord is the unit of tracking. Calendar-origin fields (title,
// description, location, start time) are owned by reconciliation; the
// platform-state fields are owned by the lifecycle scheduler.
//
// JSON field names are the on-disk format and must stay stable.
type EventRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartTime   time.Time `json:"startTime"`
	ServerID    string    `json:"serverId"`
	ChannelID   string    `json:"channelId"`

	PlatformEventCreated   bool     `json:"platformEventCreated"`
	PlatformEventID        string   `json:"platformEventId,omitempty"`
	ThreadCreated          bool     `json:"threadCreated"`
	PlatformThreadID       string   `json:"platformThreadId,omitempty"`
	InterestedParticipants []string `json:"interestedParticipants"`
	ArchiveDelayMinutes    int      `json:"archiveDelayMinutes"`

	Cancelled      bool       `json:"cancelled"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	ThreadArchived bool       `json:"threadArchived"`

	LastUpdated time.Time `json:"lastUpdated"`
}

// NewRecord builds a fresh record for a calendar item in the given scope.
func NewRecord(item CalendarItem, scope Scope) EventRecord {
	return EventRecord{
		ID:                     item.ID,
		Title:                  item.Title,
		Description:            item.Description,
		Location:               item.Location,
		StartTime:              item.StartTime,
		ServerID:               scope.ServerID,
		ChannelID:              scope.ChannelID,
		InterestedParticipants: []string{},
	}
}

func (r *EventRecord) Scope() Scope {
	return Scope{ServerID: r.ServerID, ChannelID: r.ChannelID}
}

// Clone returns a deep copy so callers never share slices or pointers with
// the registry's copy.
func (r EventRecord) Clone() EventRecord {
	out := r
	out.InterestedParticipants = slices.Clone(r.InterestedParticipants)
	if out.InterestedParticipants == nil {
		out.InterestedParticipants = []string{}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Touch advances LastUpdated to now, never moving it backwards.
func (r *EventRecord) Touch(now time.Time) {
	if now.After(r.LastUpdated) {
		r.LastUpdated = now
	}
}

// Validate checks the fields every persisted record must carry.
func (r *EventRecord) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if r.StartTime.IsZero() {
		return &ValidationError{Field: "startTime", Reason: "must be set"}
	}
	if r.ThreadCreated && (r.PlatformThreadID == "" || !r.PlatformEventCreated) {
		return &ValidationError{Field: "threadCreated", Reason: "requires platformThreadId and a created platform event"}
	}
	if r.PlatformEventCreated && r.PlatformEventID == "" {
		return &ValidationError{Field: "platformEventCreated", Reason: "requires platformEventId"}
	}
	return nil
}

// MergeCalendar overwrites the calendar-origin fields from item, leaving
// every platform-state field untouched.
func (r *EventRecord) MergeCalendar(item CalendarItem) {
	r.Title = item.Title
	r.Description = item.Description
	r.StartTime = item.StartTime
	r.Location = item.Location
}
