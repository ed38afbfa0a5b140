// Package memory is an in-process platform.Client. The CLI uses it for dry
// runs; tests use it to count platform calls and inject failures.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	appLog "eventlane/internal/log"
	"eventlane/internal/model"
	"eventlane/internal/platform"
)

// Call names used by Calls and FailNext.
const (
	CallCreateEvent  = "create_event"
	CallCreateThread = "create_thread"
	CallEndEvent     = "end_event"
	CallArchive      = "archive_thread"
	CallInterested   = "interested"
	CallPost         = "post_message"
)

type Event struct {
	ID    string
	Scope model.Scope
	Spec  platform.EventSpec
	Ended bool
	RSVPs []string
}

type Thread struct {
	ID       string
	Scope    model.Scope
	Spec     platform.ThreadSpec
	Archived bool
	Locked   bool
}

type Post struct {
	Target  string
	Message platform.Message
}

type Client struct {
	mu       sync.Mutex
	events   map[string]*Event
	threads  map[string]*Thread
	posts    []Post
	calls    map[string]int
	failures map[string][]error
}

var _ platform.Client = (*Client)(nil)

func New() *Client {
	return &Client{
		events:   make(map[string]*Event),
		threads:  make(map[string]*Thread),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

// FailNext queues err to be returned by the next call named call.
func (c *Client) FailNext(call string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[call] = append(c.failures[call], err)
}

// Calls reports how many times call was invoked, failed attempts included.
func (c *Client) Calls(call string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[call]
}

// SetRSVPs replaces the interested users of an event.
func (c *Client) SetRSVPs(platformEventID string, users ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev, ok := c.events[platformEventID]; ok {
		ev.RSVPs = append([]string(nil), users...)
	}
}

func (c *Client) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, *ev)
	}
	return out
}

func (c *Client) Event(id string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[id]
	if !ok {
		return Event{}, false
	}
	return *ev, true
}

func (c *Client) Thread(id string) (Thread, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[id]
	if !ok {
		return Thread{}, false
	}
	return *th, true
}

func (c *Client) Posts() []Post {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Post(nil), c.posts...)
}

// begin counts the call and pops a queued failure, if any. Caller holds mu.
func (c *Client) begin(call string) error {
	c.calls[call]++
	q := c.failures[call]
	if len(q) == 0 {
		return nil
	}
	c.failures[call] = q[1:]
	return q[0]
}

func (c *Client) CreateScheduledEvent(ctx context.Context, scope model.Scope, spec platform.EventSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(CallCreateEvent); err != nil {
		return "", err
	}
	id := uuid.NewString()
	c.events[id] = &Event{ID: id, Scope: scope, Spec: spec}
	appLog.Debug("memory platform: event created", "id", id, "title", spec.Title)
	return id, nil
}

func (c *Client) FindEvent(_ context.Context, scope model.Scope, platformEventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[platformEventID]
	return ok && ev.Scope == scope, nil
}

func (c *Client) FindEventByKey(_ context.Context, scope model.Scope, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ev := range c.events {
		if ev.Scope == scope && ev.Spec.Key == key {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (c *Client) EndEvent(_ context.Context, _ model.Scope, platformEventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(CallEndEvent); err != nil {
		return err
	}
	ev, ok := c.events[platformEventID]
	if !ok {
		return fmt.Errorf("event %s: %w", platformEventID, model.ErrNotFound)
	}
	ev.Ended = true
	return nil
}

func (c *Client) CreateThread(ctx context.Context, scope model.Scope, spec platform.ThreadSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(CallCreateThread); err != nil {
		return "", err
	}
	id := uuid.NewString()
	c.threads[id] = &Thread{ID: id, Scope: scope, Spec: spec}
	appLog.Debug("memory platform: thread created", "id", id, "name", spec.Name)
	return id, nil
}

func (c *Client) FindThread(_ context.Context, scope model.Scope, platformThreadID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[platformThreadID]
	return ok && th.Scope == scope, nil
}

func (c *Client) FindThreadByKey(_ context.Context, scope model.Scope, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, th := range c.threads {
		if th.Scope == scope && th.Spec.Key == key {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (c *Client) ArchiveAndLockThread(_ context.Context, _ model.Scope, platformThreadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(CallArchive); err != nil {
		return err
	}
	th, ok := c.threads[platformThreadID]
	if !ok {
		return fmt.Errorf("thread %s: %w", platformThreadID, model.ErrNotFound)
	}
	th.Archived = true
	th.Locked = true
	return nil
}

func (c *Client) InterestedParticipants(_ context.Context, _ model.Scope, platformEventID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(CallInterested); err != nil {
		return nil, err
	}
	ev, ok := c.events[platformEventID]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", platformEventID, model.ErrNotFound)
	}
	return append([]string(nil), ev.RSVPs...), nil
}

func (c *Client) PostMessage(_ context.Context, target string, msg platform.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(CallPost); err != nil {
		return err
	}
	c.posts = append(c.posts, Post{Target: target, Message: msg})
	return nil
}
