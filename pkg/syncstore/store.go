// Package syncstore keeps a local, optimistically updated view of one
// project's message channel. Sends appear immediately as pending entries;
// server confirmations, broadcast echoes and refetched history all merge by
// the server-assigned id, so every message renders exactly once no matter how
// many paths deliver it.
package syncstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/projectdesk/internal/model"
	"github.com/projectdesk/pkg/apiclient"
	"github.com/projectdesk/pkg/realtime"
)

// Sender is the HTTP side of the store. *apiclient.Client satisfies it.
type Sender interface {
	Messages(ctx context.Context, projectID string, limit, offset int) ([]model.Message, error)
	SendMessage(ctx context.Context, projectID, body string) (*model.Message, error)
	SendMessageFiles(ctx context.Context, projectID, body string, files []apiclient.Upload) (*model.Message, error)
}

// Subscription is a live channel membership the store binds its listener to.
type Subscription interface {
	Bind(event string, fn func(payload json.RawMessage)) (unbind func())
	Unsubscribe() error
}

// Subscriber joins channels. Use ConnSubscriber to adapt *realtime.Conn.
type Subscriber interface {
	Subscribe(ctx context.Context, channelName string) (Subscription, error)
}

// ConnSubscriber adapts a realtime connection to the Subscriber interface.
type ConnSubscriber struct {
	Conn *realtime.Conn
}

func (s ConnSubscriber) Subscribe(ctx context.Context, channelName string) (Subscription, error) {
	return s.Conn.Subscribe(ctx, channelName)
}

// Entry is one message in the local view. Pending entries are local sends the
// server has not confirmed yet; their ids are negative placeholders and must
// never be treated as server ids.
type Entry struct {
	model.Message
	Pending bool `json:"pending"`
}

var ErrClosed = errors.New("syncstore: store closed")

const defaultPageSize = 50

// Store holds the merged view. All exported methods are safe for concurrent
// use.
type Store struct {
	api       Sender
	rt        Subscriber
	projectID string
	onChange  func([]Entry)

	mu         sync.Mutex
	entries    []Entry
	confirmed  map[int64]struct{}
	nextTempID int64
	sub        Subscription
	unbind     func()
	started    bool
	closed     bool
}

// New creates a store for one project. onChange, if non-nil, is invoked with a
// snapshot after every visible change; it must not call back into the store.
func New(api Sender, rt Subscriber, projectID string, onChange func([]Entry)) *Store {
	return &Store{
		api:        api,
		rt:         rt,
		projectID:  projectID,
		onChange:   onChange,
		confirmed:  make(map[int64]struct{}),
		nextTempID: -1,
	}
}

// Load fetches the latest page of history and merges it in. Pending sends and
// messages that arrived over the channel in the meantime survive the merge.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	messages, err := s.api.Messages(ctx, s.projectID, defaultPageSize, 0)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for i := range messages {
		s.mergeLocked(&messages[i])
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// Start subscribes to the project channel and begins merging live events.
// Calling Start again is a no-op: there is never more than one listener, so a
// re-rendered caller cannot double-handle events.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	sub, err := s.rt.Subscribe(ctx, realtime.ProjectChannel(s.projectID))
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}
	unbind := sub.Bind("message.created", s.handleMessageCreated)

	s.mu.Lock()
	if s.closed {
		// Closed while subscribing; undo.
		s.mu.Unlock()
		unbind()
		sub.Unsubscribe()
		return ErrClosed
	}
	s.sub = sub
	s.unbind = unbind
	s.mu.Unlock()
	return nil
}

func (s *Store) handleMessageCreated(payload json.RawMessage) {
	var event struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(payload, &event); err != nil || len(event.Message) == 0 {
		return
	}
	// A message without a numeric server id has no dedup identity. Dropping it
	// here keeps a bad broadcast from planting an id-0 entry in the view.
	var probe struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(event.Message, &probe); err != nil || probe.ID == nil {
		return
	}
	var msg model.Message
	if err := json.Unmarshal(event.Message, &msg); err != nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := s.mergeLocked(&msg)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Send posts a message. The entry shows up immediately as pending with a
// negative placeholder id; once the server answers, the placeholder is
// replaced by the confirmed copy. If the broadcast echo of this very message
// lands first, the id-based merge keeps a single entry either way.
func (s *Store) Send(ctx context.Context, body string) (*model.Message, error) {
	return s.send(ctx, body, nil)
}

// SendFiles posts a message with attachments, with the same optimistic flow.
func (s *Store) SendFiles(ctx context.Context, body string, files []apiclient.Upload) (*model.Message, error) {
	return s.send(ctx, body, files)
}

func (s *Store) send(ctx context.Context, body string, files []apiclient.Upload) (*model.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	tempID := s.nextTempID
	s.nextTempID--
	s.entries = append(s.entries, Entry{
		Message: model.Message{
			ID:        tempID,
			ProjectID: s.projectID,
			Body:      body,
			CreatedAt: time.Now(),
		},
		Pending: true,
	})
	s.sortLocked()
	s.mu.Unlock()
	s.notify()

	var msg *model.Message
	var err error
	if files == nil {
		msg, err = s.api.SendMessage(ctx, s.projectID, body)
	} else {
		msg, err = s.api.SendMessageFiles(ctx, s.projectID, body, files)
	}

	s.mu.Lock()
	s.removeLocked(tempID)
	if err == nil {
		s.mergeLocked(msg)
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Messages returns an oldest-first snapshot of the current view.
func (s *Store) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Pending reports how many local sends await confirmation.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Pending {
			n++
		}
	}
	return n
}

// Close detaches from the channel and makes the store inert. Every later call
// (including another Close) is a harmless no-op or ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	unbind := s.unbind
	s.sub = nil
	s.unbind = nil
	s.mu.Unlock()

	if unbind != nil {
		unbind()
	}
	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

// mergeLocked inserts a confirmed message, deduplicating by server id. An id
// already in the view means this copy arrived via another path (echo versus
// response versus refetch) and is dropped. Reports whether the view changed.
func (s *Store) mergeLocked(msg *model.Message) bool {
	if _, ok := s.confirmed[msg.ID]; ok {
		return false
	}
	s.confirmed[msg.ID] = struct{}{}
	s.entries = append(s.entries, Entry{Message: *msg})
	s.sortLocked()
	return true
}

func (s *Store) removeLocked(id int64) {
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// sortLocked keeps the view oldest-first. Creation time orders entries;
// server ids break ties, which also puts same-timestamp messages in server
// order. Sorting after every merge means out-of-order arrival (refetch racing
// a broadcast) cannot leave the view scrambled.
func (s *Store) sortLocked() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		a, b := &s.entries[i], &s.entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		// Pending placeholders (negative ids) sort after confirmed entries
		// with the same timestamp.
		if (a.ID < 0) != (b.ID < 0) {
			return b.ID < 0
		}
		return a.ID < b.ID
	})
}

func (s *Store) notify() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.Messages())
}
