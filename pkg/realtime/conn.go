// Package realtime is the client side of the project channel transport: one
// shared WebSocket connection, per-channel subscriptions and the private
// channel authorization handshake.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Authorizer obtains a subscribe token for a private channel. It is called
// with the socket id of the live connection; the returned token is only valid
// for that socket and channel.
type Authorizer func(ctx context.Context, socketID, channelName string) (string, error)

// PrivatePrefix marks channels that go through the authorization handshake.
const PrivatePrefix = "private-"

// ProjectChannel returns the private channel name for a project.
func ProjectChannel(projectID string) string {
	return PrivatePrefix + "project." + projectID
}

type frameType string

const (
	frameSubscribe             frameType = "subscribe"
	frameUnsubscribe           frameType = "unsubscribe"
	frameConnectionEstablished frameType = "connection_established"
	frameSubscriptionSucceeded frameType = "subscription_succeeded"
	frameEvent                 frameType = "event"
	frameError                 frameType = "error"
)

type outFrame struct {
	Type    frameType `json:"type"`
	Channel string    `json:"channel,omitempty"`
	Auth    string    `json:"auth,omitempty"`
}

type inFrame struct {
	Type    frameType       `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var (
	ErrClosed               = errors.New("realtime: connection closed")
	ErrAuthorizerRequired   = errors.New("realtime: private channel requires an authorizer")
	ErrSubscriptionRejected = errors.New("realtime: subscription rejected")
)

// Conn multiplexes all channel subscriptions over one WebSocket. The zero
// value is not usable; create it with New. Connect is lazy: the first
// Subscribe dials.
type Conn struct {
	url        string
	authorizer Authorizer
	dialer     *websocket.Dialer

	mu       sync.Mutex
	ws       *websocket.Conn
	socketID string
	subs     map[string]*Subscription
	acks     map[string]chan error
	closed   bool
	readDone chan struct{}

	writeMu sync.Mutex
}

func New(url string, authorizer Authorizer) *Conn {
	return &Conn{
		url:        url,
		authorizer: authorizer,
		dialer:     websocket.DefaultDialer,
		subs:       make(map[string]*Subscription),
		acks:       make(map[string]chan error),
	}
}

// Connect dials the server and waits for the connection_established frame
// carrying the socket id. Calling it on a live connection is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Conn) connectLocked(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.ws != nil {
		return nil
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("realtime: dial %s: %w", c.url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	// The first frame must announce the socket id.
	var frame inFrame
	if err := ws.ReadJSON(&frame); err != nil {
		ws.Close()
		return fmt.Errorf("realtime: read handshake: %w", err)
	}
	if frame.Type != frameConnectionEstablished {
		ws.Close()
		return fmt.Errorf("realtime: unexpected handshake frame %q", frame.Type)
	}
	var payload struct {
		SocketID string `json:"socket_id"`
	}
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.SocketID == "" {
		ws.Close()
		return errors.New("realtime: handshake missing socket id")
	}

	c.ws = ws
	c.socketID = payload.SocketID
	c.readDone = make(chan struct{})
	go c.readLoop(ws, c.readDone)
	return nil
}

// SocketID returns the id assigned by the server, or "" before Connect.
func (c *Conn) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Subscribe joins a channel and returns its subscription. Subscribing to an
// already-joined channel returns the existing subscription; handlers bound to
// it keep working and no second network handshake happens.
func (c *Conn) Subscribe(ctx context.Context, channelName string) (*Subscription, error) {
	c.mu.Lock()
	if err := c.connectLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if sub, ok := c.subs[channelName]; ok {
		c.mu.Unlock()
		return sub, nil
	}
	if _, waiting := c.acks[channelName]; waiting {
		c.mu.Unlock()
		return nil, fmt.Errorf("realtime: subscribe to %s already in flight", channelName)
	}
	socketID := c.socketID
	ack := make(chan error, 1)
	c.acks[channelName] = ack
	c.mu.Unlock()

	var token string
	if strings.HasPrefix(channelName, PrivatePrefix) {
		if c.authorizer == nil {
			c.dropAck(channelName)
			return nil, ErrAuthorizerRequired
		}
		var err error
		token, err = c.authorizer(ctx, socketID, channelName)
		if err != nil {
			c.dropAck(channelName)
			return nil, fmt.Errorf("realtime: authorize %s: %w", channelName, err)
		}
	}

	if err := c.write(outFrame{Type: frameSubscribe, Channel: channelName, Auth: token}); err != nil {
		c.dropAck(channelName)
		return nil, err
	}

	select {
	case err := <-ack:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		c.dropAck(channelName)
		return nil, ctx.Err()
	}

	sub := &Subscription{conn: c, name: channelName, handlers: make(map[string][]*binding)}
	c.mu.Lock()
	c.subs[channelName] = sub
	c.mu.Unlock()
	return sub, nil
}

func (c *Conn) dropAck(channelName string) {
	c.mu.Lock()
	delete(c.acks, channelName)
	c.mu.Unlock()
}

// Close tears the connection down. All subscriptions become inert; a closed
// connection is never reused.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	done := c.readDone
	c.ws = nil
	for name, ack := range c.acks {
		ack <- ErrClosed
		delete(c.acks, name)
	}
	c.mu.Unlock()

	if ws != nil {
		ws.WriteMessage(websocket.CloseMessage, nil)
		err := ws.Close()
		if done != nil {
			<-done
		}
		return err
	}
	return nil
}

func (c *Conn) write(frame outFrame) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteJSON(frame)
}

func (c *Conn) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var frame inFrame
		if err := ws.ReadJSON(&frame); err != nil {
			c.failPending(ErrClosed)
			return
		}
		switch frame.Type {
		case frameSubscriptionSucceeded:
			c.resolveAck(frame.Channel, nil)
		case frameError:
			if frame.Channel != "" {
				c.resolveAck(frame.Channel, ErrSubscriptionRejected)
			}
		case frameEvent:
			c.dispatch(frame.Channel, frame.Event, frame.Payload)
		}
	}
}

func (c *Conn) resolveAck(channelName string, err error) {
	c.mu.Lock()
	ack, ok := c.acks[channelName]
	if ok {
		delete(c.acks, channelName)
	}
	c.mu.Unlock()
	if ok {
		ack <- err
	}
}

func (c *Conn) failPending(err error) {
	c.mu.Lock()
	for name, ack := range c.acks {
		ack <- err
		delete(c.acks, name)
	}
	c.mu.Unlock()
}

func (c *Conn) dispatch(channelName, event string, payload json.RawMessage) {
	c.mu.Lock()
	sub := c.subs[channelName]
	c.mu.Unlock()
	if sub != nil {
		sub.dispatch(event, payload)
	}
}

type binding struct {
	fn func(json.RawMessage)
}

// Subscription is a live membership in one channel. Bind handlers to react to
// named events.
type Subscription struct {
	conn *Conn
	name string

	mu       sync.Mutex
	handlers map[string][]*binding
}

// Channel returns the channel name.
func (s *Subscription) Channel() string { return s.name }

// Bind registers a handler for an event and returns a function that removes
// exactly that handler. Multiple handlers per event are allowed.
func (s *Subscription) Bind(event string, fn func(payload json.RawMessage)) (unbind func()) {
	b := &binding{fn: fn}
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], b)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.handlers[event]
		for i, cur := range list {
			if cur == b {
				s.handlers[event] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Unsubscribe leaves the channel. The subscription becomes inert: bound
// handlers are dropped and no further events are delivered. A later Subscribe
// on the same connection starts fresh.
func (s *Subscription) Unsubscribe() error {
	s.conn.mu.Lock()
	if s.conn.subs[s.name] == s {
		delete(s.conn.subs, s.name)
	}
	closed := s.conn.closed
	s.conn.mu.Unlock()

	s.mu.Lock()
	s.handlers = make(map[string][]*binding)
	s.mu.Unlock()

	if closed {
		return nil
	}
	return s.conn.write(outFrame{Type: frameUnsubscribe, Channel: s.name})
}

func (s *Subscription) dispatch(event string, payload json.RawMessage) {
	s.mu.Lock()
	list := append([]*binding(nil), s.handlers[event]...)
	s.mu.Unlock()
	for _, b := range list {
		b.fn(payload)
	}
}
