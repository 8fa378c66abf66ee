package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/projectdesk/internal/model"
)

// callLog records the order of side effects so tests can assert
// persist-before-broadcast.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeMessageStore struct {
	log       *callLog
	createErr error
	nextID    int64
	created   []*model.Message
	history   []model.Message
}

func (s *fakeMessageStore) Create(_ context.Context, m *model.Message) error {
	if s.log != nil {
		s.log.add("create")
	}
	if s.createErr != nil {
		return s.createErr
	}
	s.nextID++
	m.ID = s.nextID
	s.created = append(s.created, m)
	return nil
}

func (s *fakeMessageStore) GetProjectMessages(context.Context, string, int, int) ([]model.Message, error) {
	return s.history, nil
}

type fakeProjectStore struct {
	member    bool
	memberErr error
	memberIDs []string
}

func (s *fakeProjectStore) IsMember(context.Context, string, string) (bool, error) {
	return s.member, s.memberErr
}

func (s *fakeProjectStore) GetMemberIDs(context.Context, string) ([]string, error) {
	return s.memberIDs, nil
}

type fakeProgressStore struct {
	log      *callLog
	setErr   error
	project  *model.Project
	nextID   int64
	recorded []model.ProgressUpdate
}

func (s *fakeProgressStore) SetProgress(_ context.Context, projectID, authorID string, value int, note string, at time.Time) (*model.Project, *model.ProgressUpdate, error) {
	if s.log != nil {
		s.log.add("persist")
	}
	if s.setErr != nil {
		return nil, nil, s.setErr
	}
	s.nextID++
	u := model.ProgressUpdate{
		ID:        s.nextID,
		ProjectID: projectID,
		AuthorID:  authorID,
		Value:     value,
		Note:      note,
		CreatedAt: at,
	}
	s.recorded = append(s.recorded, u)
	p := s.project
	if p == nil {
		p = &model.Project{ID: projectID}
	}
	p.Progress = value
	return p, &u, nil
}

func (s *fakeProgressStore) History(context.Context, string, int, int) ([]model.ProgressUpdate, error) {
	out := make([]model.ProgressUpdate, 0, len(s.recorded))
	for i := len(s.recorded) - 1; i >= 0; i-- {
		out = append(out, s.recorded[i])
	}
	return out, nil
}

type publishedEvent struct {
	Channel string
	Event   string
	Payload any
}

type fakePublisher struct {
	log    *callLog
	err    error
	events []publishedEvent
}

func (p *fakePublisher) Publish(_ context.Context, channelName, event string, payload any) error {
	if p.log != nil {
		p.log.add("publish")
	}
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{Channel: channelName, Event: event, Payload: payload})
	return nil
}

type fakeUserStore struct {
	users map[string]*model.User
}

func (s *fakeUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}
