package handler

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/projectdesk/internal/channel"
	"github.com/projectdesk/internal/logger"
	"github.com/projectdesk/internal/middleware"
)

// BroadcastAuthHandler signs private-channel subscribe tokens. This is the
// server half of the authorization handshake: the client presents its socket
// id and the channel it wants, and gets back a token bound to exactly that
// pair, but only if it is a member of the project behind the channel.
type BroadcastAuthHandler struct {
	projectRepo ProjectStore
	issuer      TokenIssuer
}

func NewBroadcastAuthHandler(projectRepo ProjectStore, issuer TokenIssuer) *BroadcastAuthHandler {
	return &BroadcastAuthHandler{projectRepo: projectRepo, issuer: issuer}
}

type broadcastAuthRequest struct {
	SocketID    string `json:"socket_id"`
	ChannelName string `json:"channel_name"`
}

type broadcastAuthResponse struct {
	Auth    string `json:"auth"`
	Channel string `json:"channel"`
}

func (h *BroadcastAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, ok := parseBroadcastAuthRequest(r)
	if !ok || req.SocketID == "" || req.ChannelName == "" {
		writeError(w, http.StatusBadRequest, "socket_id and channel_name required")
		return
	}

	projectID, ok := projectFromChannel(req.ChannelName)
	if !ok {
		writeError(w, http.StatusForbidden, "unknown channel")
		return
	}

	isMember, err := h.projectRepo.IsMember(r.Context(), projectID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a project member")
		return
	}

	token, err := h.issuer.SignSubscribeToken(userID, req.SocketID, req.ChannelName)
	if err != nil {
		logger.Errorf("broadcast auth sign user=%s channel=%s: %v", userID, req.ChannelName, err)
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}

	writeJSON(w, http.StatusOK, broadcastAuthResponse{Auth: token, Channel: req.ChannelName})
}

// parseBroadcastAuthRequest accepts both form-encoded and JSON bodies; realtime
// client libraries disagree on which one to send.
func parseBroadcastAuthRequest(r *http.Request) (broadcastAuthRequest, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req broadcastAuthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return broadcastAuthRequest{}, false
		}
		return req, true
	}
	if err := r.ParseForm(); err != nil {
		return broadcastAuthRequest{}, false
	}
	return broadcastAuthRequest{
		SocketID:    r.PostFormValue("socket_id"),
		ChannelName: r.PostFormValue("channel_name"),
	}, true
}

// projectFromChannel extracts the project id from "private-project.<id>".
// Any other channel shape is not authorizable here.
func projectFromChannel(name string) (string, bool) {
	const prefix = channel.PrivatePrefix + "project."
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	id := name[len(prefix):]
	if id == "" {
		return "", false
	}
	return id, true
}
