package events

import (
	"context"
	"time"
)

// Lifecycle topics, relative to the configured subject prefix.
const (
	TopicEventCreated   = "event.created"
	TopicThreadCreated  = "thread.created"
	TopicEventStarted   = "event.started"
	TopicEventCompleted = "event.completed"
	TopicEventCancelled = "event.cancelled"
	TopicEventEnded     = "event.ended"
	TopicThreadArchived = "thread.archived"
	TopicRecordExpired  = "record.expired"

	// TopicPlatform is the parent of inbound platform notifications:
	// platform.started, platform.completed, platform.cancelled.
	TopicPlatform = "platform"
)

// Transition is the payload published for every lifecycle change.
type Transition struct {
	RecordID         string    `json:"record_id"`
	Title            string    `json:"title,omitempty"`
	StartTime        time.Time `json:"start_time"`
	PlatformEventID  string    `json:"platform_event_id,omitempty"`
	PlatformThreadID string    `json:"platform_thread_id,omitempty"`
	At               time.Time `json:"at"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw payloads for topic (wildcards allowed) on the
	// returned channel. Call the returned cancel function to unsubscribe
	// and close the channel.
	Subscribe(topic string) (<-chan Message, func(), error)
	Close() error
}

// Message is one delivery from a Subscriber.
type Message struct {
	Topic string
	Data  []byte
}
