package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	appLog "eventlane/internal/log"
	"eventlane/internal/platform"
)

// NotificationHandler receives decoded platform notifications.
type NotificationHandler func(ctx context.Context, n platform.Notification)

// ListenNotifications subscribes to platform.* and dispatches every
// well-formed notification to handle until ctx is done. The kind comes
// from the subject suffix when the payload does not carry one.
func ListenNotifications(ctx context.Context, sub Subscriber, handle NotificationHandler) error {
	ch, cancel, err := sub.Subscribe(TopicPlatform + ".*")
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n, err := DecodeNotification(msg)
			if err != nil {
				appLog.Error("events: dropping platform notification", err, "topic", msg.Topic)
				continue
			}
			handle(ctx, n)
		}
	}
}

// DecodeNotification parses a platform notification delivered on
// platform.<kind>.
func DecodeNotification(msg Message) (platform.Notification, error) {
	var n platform.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		return n, fmt.Errorf("decoding notification: %w", err)
	}
	if n.Kind == "" {
		n.Kind = platform.NotificationKind(strings.TrimPrefix(msg.Topic, TopicPlatform+"."))
	}
	switch n.Kind {
	case platform.EventStarted, platform.EventCompleted, platform.EventCancelled:
	default:
		return n, fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	if n.PlatformEventID == "" {
		return n, fmt.Errorf("notification %q without platform_event_id", n.Kind)
	}
	return n, nil
}
