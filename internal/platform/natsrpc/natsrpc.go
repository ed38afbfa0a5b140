// Package natsrpc carries platform.Client calls over NATS request/reply.
// The chat-platform bot runs as a separate process that answers on
// <prefix>.rpc.<method>; Serve is the answering side for any
// platform.Client.
package natsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"eventlane/internal/model"
	"eventlane/internal/platform"
)

const (
	methodCreateEvent     = "create_event"
	methodFindEvent       = "find_event"
	methodFindEventByKey  = "find_event_by_key"
	methodEndEvent        = "end_event"
	methodCreateThread    = "create_thread"
	methodFindThread      = "find_thread"
	methodFindThreadByKey = "find_thread_by_key"
	methodArchiveThread   = "archive_thread"
	methodInterested      = "interested"
	methodPostMessage     = "post_message"
)

const defaultTimeout = 10 * time.Second

// RemoteError is an error reported by the answering side.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Method, e.Message)
}

type scopeWire struct {
	ServerID  string `json:"server_id"`
	ChannelID string `json:"channel_id"`
}

type eventWire struct {
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
}

type threadWire struct {
	Key             string `json:"key"`
	Name            string `json:"name"`
	PlatformEventID string `json:"platform_event_id"`
}

type messageWire struct {
	Text     string   `json:"text"`
	Mentions []string `json:"mentions,omitempty"`
}

type request struct {
	Scope   scopeWire    `json:"scope"`
	ID      string       `json:"id,omitempty"`
	Key     string       `json:"key,omitempty"`
	Target  string       `json:"target,omitempty"`
	Event   *eventWire   `json:"event,omitempty"`
	Thread  *threadWire  `json:"thread,omitempty"`
	Message *messageWire `json:"message,omitempty"`
}

type reply struct {
	ID    string   `json:"id,omitempty"`
	Found bool     `json:"found,omitempty"`
	Users []string `json:"users,omitempty"`
	Error string   `json:"error,omitempty"`
}

func wireScope(s model.Scope) scopeWire {
	return scopeWire{ServerID: s.ServerID, ChannelID: s.ChannelID}
}

func (s scopeWire) scope() model.Scope {
	return model.Scope{ServerID: s.ServerID, ChannelID: s.ChannelID}
}

// Client is a platform.Client whose calls are NATS requests.
type Client struct {
	conn    *nats.Conn
	prefix  string
	timeout time.Duration
}

var _ platform.Client = (*Client)(nil)

type Option func(*Client)

// WithTimeout bounds calls whose context carries no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New uses an existing connection; the caller owns it.
func New(conn *nats.Conn, prefix string, opts ...Option) *Client {
	c := &Client{conn: conn, prefix: prefix, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to url with unlimited reconnects.
func Dial(url, prefix string, opts ...Option) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("eventlane-platform"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return New(nc, prefix, opts...), nil
}

func (c *Client) Close() error {
	c.conn.Close()
	return nil
}

func (c *Client) call(ctx context.Context, method string, req request) (reply, error) {
	var rep reply
	data, err := json.Marshal(req)
	if err != nil {
		return rep, fmt.Errorf("marshaling %s request: %w", method, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	msg, err := c.conn.RequestWithContext(ctx, subject(c.prefix, method), data)
	if err != nil {
		return rep, fmt.Errorf("%s: %w", method, err)
	}
	if err := json.Unmarshal(msg.Data, &rep); err != nil {
		return rep, fmt.Errorf("decoding %s reply: %w", method, err)
	}
	if rep.Error != "" {
		return rep, &RemoteError{Method: method, Message: rep.Error}
	}
	return rep, nil
}

func (c *Client) CreateScheduledEvent(ctx context.Context, scope model.Scope, spec platform.EventSpec) (string, error) {
	rep, err := c.call(ctx, methodCreateEvent, request{Scope: wireScope(scope), Event: &eventWire{
		Key:         spec.Key,
		Title:       spec.Title,
		Start:       spec.Start,
		End:         spec.End,
		Description: spec.Description,
		Location:    spec.Location,
	}})
	if err != nil {
		return "", err
	}
	if rep.ID == "" {
		return "", &RemoteError{Method: methodCreateEvent, Message: "reply without id"}
	}
	return rep.ID, nil
}

func (c *Client) FindEvent(ctx context.Context, scope model.Scope, platformEventID string) (bool, error) {
	rep, err := c.call(ctx, methodFindEvent, request{Scope: wireScope(scope), ID: platformEventID})
	return rep.Found, err
}

func (c *Client) FindEventByKey(ctx context.Context, scope model.Scope, key string) (string, bool, error) {
	rep, err := c.call(ctx, methodFindEventByKey, request{Scope: wireScope(scope), Key: key})
	return rep.ID, rep.Found, err
}

func (c *Client) EndEvent(ctx context.Context, scope model.Scope, platformEventID string) error {
	_, err := c.call(ctx, methodEndEvent, request{Scope: wireScope(scope), ID: platformEventID})
	return err
}

func (c *Client) CreateThread(ctx context.Context, scope model.Scope, spec platform.ThreadSpec) (string, error) {
	rep, err := c.call(ctx, methodCreateThread, request{Scope: wireScope(scope), Thread: &threadWire{
		Key:             spec.Key,
		Name:            spec.Name,
		PlatformEventID: spec.PlatformEventID,
	}})
	if err != nil {
		return "", err
	}
	if rep.ID == "" {
		return "", &RemoteError{Method: methodCreateThread, Message: "reply without id"}
	}
	return rep.ID, nil
}

func (c *Client) FindThread(ctx context.Context, scope model.Scope, platformThreadID string) (bool, error) {
	rep, err := c.call(ctx, methodFindThread, request{Scope: wireScope(scope), ID: platformThreadID})
	return rep.Found, err
}

func (c *Client) FindThreadByKey(ctx context.Context, scope model.Scope, key string) (string, bool, error) {
	rep, err := c.call(ctx, methodFindThreadByKey, request{Scope: wireScope(scope), Key: key})
	return rep.ID, rep.Found, err
}

func (c *Client) ArchiveAndLockThread(ctx context.Context, scope model.Scope, platformThreadID string) error {
	_, err := c.call(ctx, methodArchiveThread, request{Scope: wireScope(scope), ID: platformThreadID})
	return err
}

func (c *Client) InterestedParticipants(ctx context.Context, scope model.Scope, platformEventID string) ([]string, error) {
	rep, err := c.call(ctx, methodInterested, request{Scope: wireScope(scope), ID: platformEventID})
	if err != nil {
		return nil, err
	}
	if rep.Users == nil {
		return []string{}, nil
	}
	return rep.Users, nil
}

func (c *Client) PostMessage(ctx context.Context, target string, msg platform.Message) error {
	_, err := c.call(ctx, methodPostMessage, request{Target: target, Message: &messageWire{Text: msg.Text, Mentions: msg.Mentions}})
	return err
}

// Serve answers requests on <prefix>.rpc.* by calling impl. Unsubscribe the
// returned subscription to stop.
func Serve(conn *nats.Conn, prefix string, impl platform.Client) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(subject(prefix, "*"), func(msg *nats.Msg) {
		rep := handle(impl, msg)
		data, err := json.Marshal(rep)
		if err != nil {
			data = []byte(`{"error":"encoding reply failed"}`)
		}
		_ = msg.Respond(data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject(prefix, "*"), err)
	}
	if err := conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	return sub, nil
}

func handle(impl platform.Client, msg *nats.Msg) reply {
	var req request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return reply{Error: "bad request: " + err.Error()}
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	scope := req.Scope.scope()
	var (
		rep reply
		err error
	)
	switch method := lastToken(msg.Subject); method {
	case methodCreateEvent:
		if req.Event == nil {
			err = errors.New("missing event")
			break
		}
		rep.ID, err = impl.CreateScheduledEvent(ctx, scope, platform.EventSpec{
			Key:         req.Event.Key,
			Title:       req.Event.Title,
			Start:       req.Event.Start,
			End:         req.Event.End,
			Description: req.Event.Description,
			Location:    req.Event.Location,
		})
	case methodFindEvent:
		rep.Found, err = impl.FindEvent(ctx, scope, req.ID)
	case methodFindEventByKey:
		rep.ID, rep.Found, err = impl.FindEventByKey(ctx, scope, req.Key)
	case methodEndEvent:
		err = impl.EndEvent(ctx, scope, req.ID)
	case methodCreateThread:
		if req.Thread == nil {
			err = errors.New("missing thread")
			break
		}
		rep.ID, err = impl.CreateThread(ctx, scope, platform.ThreadSpec{
			Key:             req.Thread.Key,
			Name:            req.Thread.Name,
			PlatformEventID: req.Thread.PlatformEventID,
		})
	case methodFindThread:
		rep.Found, err = impl.FindThread(ctx, scope, req.ID)
	case methodFindThreadByKey:
		rep.ID, rep.Found, err = impl.FindThreadByKey(ctx, scope, req.Key)
	case methodArchiveThread:
		err = impl.ArchiveAndLockThread(ctx, scope, req.ID)
	case methodInterested:
		rep.Users, err = impl.InterestedParticipants(ctx, scope, req.ID)
	case methodPostMessage:
		if req.Message == nil {
			err = errors.New("missing message")
			break
		}
		err = impl.PostMessage(ctx, req.Target, platform.Message{Text: req.Message.Text, Mentions: req.Message.Mentions})
	default:
		err = fmt.Errorf("unknown method %q", method)
	}
	if err != nil {
		return reply{Error: err.Error()}
	}
	return rep
}

func subject(prefix, method string) string {
	if prefix == "" {
		return "rpc." + method
	}
	return prefix + ".rpc." + method
}

func lastToken(subj string) string {
	for i := len(subj) - 1; i >= 0; i-- {
		if subj[i] == '.' {
			return subj[i+1:]
		}
	}
	return subj
}
