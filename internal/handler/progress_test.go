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
)

func progressRouter(h *ProgressHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/api/projects/{projectId}/progress", h.UpdateProgress)
	r.Get("/api/projects/{projectId}/progress", h.GetHistory)
	return r
}

func doProgress(t *testing.T, router http.Handler, body string, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/progress", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestUpdateProgressValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing value", `{"author_id":"u1"}`},
		{"null value", `{"value":null,"author_id":"u1"}`},
		{"string value", `{"value":"45","author_id":"u1"}`},
		{"boolean value", `{"value":true,"author_id":"u1"}`},
		{"fractional value", `{"value":45.5,"author_id":"u1"}`},
		{"negative value", `{"value":-1,"author_id":"u1"}`},
		{"above range", `{"value":101,"author_id":"u1"}`},
		{"nan literal", `{"value":NaN,"author_id":"u1"}`},
		{"not json", `value=45`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeProgressStore{}
			pub := &fakePublisher{}
			h := NewProgressHandler(store, &fakeProjectStore{member: true}, pub)

			rec := doProgress(t, progressRouter(h), tc.body, "u1")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, store.recorded, "invalid input must not be persisted")
			assert.Empty(t, pub.events, "invalid input must not be broadcast")
		})
	}
}

func TestUpdateProgressRequiresExplicitAuthor(t *testing.T) {
	store := &fakeProgressStore{}
	pub := &fakePublisher{}
	h := NewProgressHandler(store, &fakeProjectStore{member: true}, pub)

	// Even an authenticated caller must name the author; the bearer identity
	// is not substituted in.
	rec := doProgress(t, progressRouter(h), `{"value":45}`, "u1")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.recorded)
	assert.Empty(t, pub.events)
}

func TestUpdateProgressBoundaryValues(t *testing.T) {
	for _, v := range []int{0, 100} {
		store := &fakeProgressStore{}
		h := NewProgressHandler(store, &fakeProjectStore{member: true}, &fakePublisher{})

		rec := doProgress(t, progressRouter(h), `{"value":`+jsonInt(v)+`,"author_id":"u1"}`, "u1")

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, store.recorded, 1)
		assert.Equal(t, v, store.recorded[0].Value)
	}
}

func TestUpdateProgressPersistsThenBroadcasts(t *testing.T) {
	log := &callLog{}
	store := &fakeProgressStore{log: log}
	pub := &fakePublisher{log: log}
	h := NewProgressHandler(store, &fakeProjectStore{member: true}, pub)

	rec := doProgress(t, progressRouter(h), `{"value":45,"note":"halfway","author_id":"u1"}`, "u1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"persist", "publish"}, log.list())

	require.Len(t, pub.events, 1)
	assert.Equal(t, "private-project.p1", pub.events[0].Channel)
	assert.Equal(t, "progress.update", pub.events[0].Event)

	var resp struct {
		OK      bool `json:"ok"`
		Project struct {
			ID       string `json:"id"`
			Progress int    `json:"progress"`
		} `json:"project"`
		Update struct {
			ID    int64 `json:"id"`
			Value int   `json:"value"`
		} `json:"update"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "p1", resp.Project.ID)
	assert.Equal(t, 45, resp.Project.Progress)
	assert.Equal(t, 45, resp.Update.Value)
	assert.NotZero(t, resp.Update.ID)
}

func TestUpdateProgressPersistFailureSkipsBroadcast(t *testing.T) {
	store := &fakeProgressStore{setErr: errors.New("db down")}
	pub := &fakePublisher{}
	h := NewProgressHandler(store, &fakeProjectStore{member: true}, pub)

	rec := doProgress(t, progressRouter(h), `{"value":45,"author_id":"u1"}`, "u1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, pub.events)
}

func TestUpdateProgressBroadcastFailureStillSucceeds(t *testing.T) {
	store := &fakeProgressStore{}
	pub := &fakePublisher{err: errors.New("redis down")}
	h := NewProgressHandler(store, &fakeProjectStore{member: true}, pub)

	rec := doProgress(t, progressRouter(h), `{"value":45,"author_id":"u1"}`, "u1")

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.recorded, 1, "the update is durable even when fan-out fails")
}

func TestUpdateProgressForbiddenForNonMember(t *testing.T) {
	store := &fakeProgressStore{}
	h := NewProgressHandler(store, &fakeProjectStore{member: false}, &fakePublisher{})

	rec := doProgress(t, progressRouter(h), `{"value":45,"author_id":"u1"}`, "u1")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, store.recorded)
}

func TestUpdateProgressTwiceKeepsFullHistory(t *testing.T) {
	store := &fakeProgressStore{}
	h := NewProgressHandler(store, &fakeProjectStore{member: true}, &fakePublisher{})
	router := progressRouter(h)

	rec := doProgress(t, router, `{"value":30,"author_id":"u1"}`, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doProgress(t, router, `{"value":45,"author_id":"u2"}`, "u2")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, store.recorded, 2, "every update appends a history row")
	assert.Equal(t, 45, store.recorded[1].Value)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/progress", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, "u1"))
	histRec := httptest.NewRecorder()
	router.ServeHTTP(histRec, req)
	require.Equal(t, http.StatusOK, histRec.Code)

	var updates []struct {
		Value int `json:"value"`
	}
	require.NoError(t, json.Unmarshal(histRec.Body.Bytes(), &updates))
	require.Len(t, updates, 2)
	assert.Equal(t, 45, updates[0].Value, "history is newest-first")
}

func jsonInt(v int) string {
	b, _ := json.Marshal(v)
	return string(b)
}
