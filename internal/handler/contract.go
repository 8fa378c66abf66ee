package handler

import (
	"context"
	"time"

	"github.com/projectdesk/internal/model"
)

// Narrow per-handler interfaces over the pgx repositories so tests can swap
// in fakes without a database.

type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetProjectMessages(ctx context.Context, projectID string, limit, offset int) ([]model.Message, error)
}

type ProjectStore interface {
	IsMember(ctx context.Context, projectID, userID string) (bool, error)
	GetMemberIDs(ctx context.Context, projectID string) ([]string, error)
}

type ProgressStore interface {
	SetProgress(ctx context.Context, projectID, authorID string, value int, note string, at time.Time) (*model.Project, *model.ProgressUpdate, error)
	History(ctx context.Context, projectID string, limit, offset int) ([]model.ProgressUpdate, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// Publisher delivers an event to channel subscribers after persistence.
type Publisher interface {
	Publish(ctx context.Context, channelName, event string, payload any) error
}

// Notifier sends best-effort push notifications.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// TokenIssuer signs private-channel subscribe tokens.
type TokenIssuer interface {
	SignSubscribeToken(userID, socketID, channelName string) (string, error)
}
