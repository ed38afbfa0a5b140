// Package platform defines the chat-platform operations the lifecycle
// scheduler depends on. Adapters for a concrete platform live outside this
// module; internal/platform/memory provides an in-process implementation.
package platform

import (
	"context"
	"time"

	"eventlane/internal/model"
)

// EventSpec describes a scheduled event to create. Key is the tracking
// record's id; adapters store it with the created event so FindEventByKey
// can recover an event whose id was never persisted locally.
type EventSpec struct {
	Key         string
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
}

// ThreadSpec describes a discussion thread to open in the scope channel.
type ThreadSpec struct {
	Key             string
	Name            string
	PlatformEventID string
}

// Message is a chat message. Mentions are user ids the adapter renders as
// platform mentions ahead of Text.
type Message struct {
	Text     string
	Mentions []string
}

// Client is the platform surface used by the scheduler. Every method may
// block on the network and honours ctx.
type Client interface {
	CreateScheduledEvent(ctx context.Context, scope model.Scope, spec EventSpec) (string, error)
	FindEvent(ctx context.Context, scope model.Scope, platformEventID string) (bool, error)
	FindEventByKey(ctx context.Context, scope model.Scope, key string) (string, bool, error)
	EndEvent(ctx context.Context, scope model.Scope, platformEventID string) error

	CreateThread(ctx context.Context, scope model.Scope, spec ThreadSpec) (string, error)
	FindThread(ctx context.Context, scope model.Scope, platformThreadID string) (bool, error)
	FindThreadByKey(ctx context.Context, scope model.Scope, key string) (string, bool, error)
	ArchiveAndLockThread(ctx context.Context, scope model.Scope, platformThreadID string) error

	InterestedParticipants(ctx context.Context, scope model.Scope, platformEventID string) ([]string, error)

	// PostMessage sends msg to a channel or thread id.
	PostMessage(ctx context.Context, target string, msg Message) error
}

// Notification kinds emitted by the platform for scheduled events.
type NotificationKind string

const (
	EventStarted   NotificationKind = "started"
	EventCompleted NotificationKind = "completed"
	EventCancelled NotificationKind = "cancelled"
)

// Notification is a lifecycle callback for a platform event.
type Notification struct {
	Kind            NotificationKind `json:"kind"`
	PlatformEventID string           `json:"platform_event_id"`
}
