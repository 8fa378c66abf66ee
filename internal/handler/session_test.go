package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeRevoker struct {
	deleted []string
	err     error
}

func (f *fakeRevoker) DeleteAPIToken(_ context.Context, token string) error {
	f.deleted = append(f.deleted, token)
	return f.err
}

func TestLogoutRevokesPresentedToken(t *testing.T) {
	revoker := &fakeRevoker{}
	h := NewSessionHandler(revoker)

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"tok-123"}, revoker.deleted)
}

func TestLogoutWithoutTokenUnauthorized(t *testing.T) {
	revoker := &fakeRevoker{}
	h := NewSessionHandler(revoker)

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, revoker.deleted)
}

func TestLogoutStoreFailure(t *testing.T) {
	revoker := &fakeRevoker{err: errors.New("redis down")}
	h := NewSessionHandler(revoker)

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
