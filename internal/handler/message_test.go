package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectdesk/internal/middleware"
	"github.com/projectdesk/internal/model"
)

func messageRouter(h *MessageHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/api/projects/{projectId}/messages", h.GetMessages)
	r.Post("/api/projects/{projectId}/messages", h.SendMessage)
	return r
}

func doSendMessage(t *testing.T, router http.Handler, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func newMessageHandler(store *fakeMessageStore, pub *fakePublisher) *MessageHandler {
	users := &fakeUserStore{users: map[string]*model.User{
		"u1": {ID: "u1", Name: "Alice"},
	}}
	return NewMessageHandler(store, &fakeProjectStore{member: true}, users, pub, nil, nil, 0)
}

func TestSendMessageEmptyBodyRejected(t *testing.T) {
	for _, body := range []string{`{"body":""}`, `{"body":"   "}`, `{"body":"\n\t "}`} {
		store := &fakeMessageStore{}
		pub := &fakePublisher{}
		h := newMessageHandler(store, pub)

		rec := doSendMessage(t, messageRouter(h), body, "u1")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, store.created, "blank message must not be persisted")
		assert.Empty(t, pub.events)
	}
}

func TestSendMessagePersistsThenBroadcasts(t *testing.T) {
	log := &callLog{}
	store := &fakeMessageStore{log: log}
	pub := &fakePublisher{log: log}
	h := newMessageHandler(store, pub)

	rec := doSendMessage(t, messageRouter(h), `{"body":"hello"}`, "u1")

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"create", "publish"}, log.list(), "the id must exist before fan-out")

	var msg model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, int64(1), msg.ID)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, "u1", msg.SenderID)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "Alice", msg.Sender.Name)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "private-project.p1", pub.events[0].Channel)
	assert.Equal(t, "message.created", pub.events[0].Event)
}

func TestSendMessageBroadcastFailureStillSucceeds(t *testing.T) {
	store := &fakeMessageStore{}
	pub := &fakePublisher{err: errors.New("bridge down")}
	h := newMessageHandler(store, pub)

	rec := doSendMessage(t, messageRouter(h), `{"body":"hello"}`, "u1")

	assert.Equal(t, http.StatusCreated, rec.Code, "persistence already happened, the message is not lost")
	require.Len(t, store.created, 1)
}

func TestSendMessagePersistFailureSkipsBroadcast(t *testing.T) {
	store := &fakeMessageStore{createErr: errors.New("db down")}
	pub := &fakePublisher{}
	h := newMessageHandler(store, pub)

	rec := doSendMessage(t, messageRouter(h), `{"body":"hello"}`, "u1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, pub.events, "nothing may be published without a server-assigned id")
}

func TestSendMessageForbiddenForNonMember(t *testing.T) {
	store := &fakeMessageStore{}
	h := NewMessageHandler(store, &fakeProjectStore{member: false}, &fakeUserStore{}, &fakePublisher{}, nil, nil, 0)

	rec := doSendMessage(t, messageRouter(h), `{"body":"hello"}`, "intruder")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, store.created)
}

func TestGetMessagesForbiddenForNonMember(t *testing.T) {
	h := NewMessageHandler(&fakeMessageStore{}, &fakeProjectStore{member: false}, &fakeUserStore{}, &fakePublisher{}, nil, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/messages", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, "intruder"))
	rec := httptest.NewRecorder()
	messageRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetMessagesReturnsHistory(t *testing.T) {
	store := &fakeMessageStore{history: []model.Message{
		{ID: 2, ProjectID: "p1", Body: "second"},
		{ID: 1, ProjectID: "p1", Body: "first"},
	}}
	h := newMessageHandler(store, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/messages", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, "u1"))
	rec := httptest.NewRecorder()
	messageRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID, "newest first")
}
