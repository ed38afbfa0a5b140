package model

import (
	"fmt"
	"slices"
	"time"
)

// Field names an updatable EventRecord field. The set is closed; the values
// match the JSON names used on disk.
type Field string

const (
	FieldTitle                  Field = "title"
	FieldDescription            Field = "description"
	FieldLocation               Field = "location"
	FieldStartTime              Field = "startTime"
	FieldServerID               Field = "serverId"
	FieldChannelID              Field = "channelId"
	FieldPlatformEventCreated   Field = "platformEventCreated"
	FieldPlatformEventID        Field = "platformEventId"
	FieldThreadCreated          Field = "threadCreated"
	FieldPlatformThreadID       Field = "platformThreadId"
	FieldInterestedParticipants Field = "interestedParticipants"
	FieldArchiveDelayMinutes    Field = "archiveDelayMinutes"
	FieldCancelled              Field = "cancelled"
	FieldCompletedAt            Field = "completedAt"
	FieldThreadArchived         Field = "threadArchived"
)

// Update assigns Value to one Field. Value must have the field's Go type
// (string, bool, int, time.Time or []string).
type Update struct {
	Field Field
	Value any
}

// Delta is an ordered set of field updates applied together.
type Delta []Update

func Set(f Field, v any) Update { return Update{Field: f, Value: v} }

// Fields lists the fields named in the delta, in order.
func (d Delta) Fields() []Field {
	out := make([]Field, 0, len(d))
	for _, u := range d {
		out = append(out, u.Field)
	}
	return out
}

// Apply writes every recognised update into r. Updates naming an unknown
// field or carrying a value of the wrong type are returned in skipped and
// leave r untouched for that field.
func (r *EventRecord) Apply(d Delta) (applied []Field, skipped []error) {
	for _, u := range d {
		if err := r.applyOne(u); err != nil {
			skipped = append(skipped, err)
			continue
		}
		applied = append(applied, u.Field)
	}
	return applied, skipped
}

func (r *EventRecord) applyOne(u Update) error {
	switch u.Field {
	case FieldTitle:
		return assign(&r.Title, u)
	case FieldDescription:
		return assign(&r.Description, u)
	case FieldLocation:
		return assign(&r.Location, u)
	case FieldStartTime:
		return assign(&r.StartTime, u)
	case FieldServerID:
		return assign(&r.ServerID, u)
	case FieldChannelID:
		return assign(&r.ChannelID, u)
	case FieldPlatformEventCreated:
		return assign(&r.PlatformEventCreated, u)
	case FieldPlatformEventID:
		return assign(&r.PlatformEventID, u)
	case FieldThreadCreated:
		return assign(&r.ThreadCreated, u)
	case FieldPlatformThreadID:
		return assign(&r.PlatformThreadID, u)
	case FieldInterestedParticipants:
		var v []string
		if err := assign(&v, u); err != nil {
			return err
		}
		r.InterestedParticipants = normalizeParticipants(v)
		return nil
	case FieldArchiveDelayMinutes:
		return assign(&r.ArchiveDelayMinutes, u)
	case FieldCancelled:
		return assign(&r.Cancelled, u)
	case FieldCompletedAt:
		if u.Value == nil {
			r.CompletedAt = nil
			return nil
		}
		var t time.Time
		if err := assign(&t, u); err != nil {
			return err
		}
		r.CompletedAt = &t
		return nil
	case FieldThreadArchived:
		return assign(&r.ThreadArchived, u)
	default:
		return fmt.Errorf("unknown field %q", u.Field)
	}
}

func assign[T any](dst *T, u Update) error {
	v, ok := u.Value.(T)
	if !ok {
		return fmt.Errorf("field %q: want %T, got %T", u.Field, *dst, u.Value)
	}
	*dst = v
	return nil
}

// normalizeParticipants returns a sorted, de-duplicated copy.
func normalizeParticipants(in []string) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
