package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectdesk/internal/auth"
	"github.com/projectdesk/internal/middleware"
)

func doAuthorize(t *testing.T, h *BroadcastAuthHandler, contentType, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/internal/broadcasting/auth", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	if userID != "" {
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	}
	rec := httptest.NewRecorder()
	h.Authorize(rec, req)
	return rec
}

func TestAuthorizeSignsTokenForMember(t *testing.T) {
	signer := auth.NewTokenSigner("secret")
	h := NewBroadcastAuthHandler(&fakeProjectStore{member: true}, signer)

	form := url.Values{"socket_id": {"sock-1"}, "channel_name": {"private-project.42"}}
	rec := doAuthorize(t, h, "application/x-www-form-urlencoded", form.Encode(), "u1")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Auth    string `json:"auth"`
		Channel string `json:"channel"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "private-project.42", resp.Channel)

	claims, err := signer.VerifySubscribeToken(resp.Auth)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "sock-1", claims.SocketID)
	assert.Equal(t, "private-project.42", claims.Channel)
}

func TestAuthorizeAcceptsJSONBody(t *testing.T) {
	signer := auth.NewTokenSigner("secret")
	h := NewBroadcastAuthHandler(&fakeProjectStore{member: true}, signer)

	rec := doAuthorize(t, h, "application/json",
		`{"socket_id":"sock-1","channel_name":"private-project.42"}`, "u1")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthorizeRejectsNonMember(t *testing.T) {
	h := NewBroadcastAuthHandler(&fakeProjectStore{member: false}, auth.NewTokenSigner("secret"))

	rec := doAuthorize(t, h, "application/json",
		`{"socket_id":"sock-1","channel_name":"private-project.42"}`, "intruder")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"auth"`)
}

func TestAuthorizeRejectsUnknownChannelShape(t *testing.T) {
	h := NewBroadcastAuthHandler(&fakeProjectStore{member: true}, auth.NewTokenSigner("secret"))

	for _, ch := range []string{"project.42", "private-other.42", "private-project."} {
		rec := doAuthorize(t, h, "application/json",
			`{"socket_id":"sock-1","channel_name":"`+ch+`"}`, "u1")
		assert.Equal(t, http.StatusForbidden, rec.Code, "channel %q", ch)
	}
}

func TestAuthorizeRequiresFields(t *testing.T) {
	h := NewBroadcastAuthHandler(&fakeProjectStore{member: true}, auth.NewTokenSigner("secret"))

	rec := doAuthorize(t, h, "application/json", `{"socket_id":"sock-1"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doAuthorize(t, h, "application/json", `{"channel_name":"private-project.42"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorizeRequiresAuthentication(t *testing.T) {
	h := NewBroadcastAuthHandler(&fakeProjectStore{member: true}, auth.NewTokenSigner("secret"))

	rec := doAuthorize(t, h, "application/json",
		`{"socket_id":"sock-1","channel_name":"private-project.42"}`, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
