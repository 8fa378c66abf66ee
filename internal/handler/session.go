package handler

import (
	"context"
	"net/http"

	"github.com/projectdesk/internal/logger"
	"github.com/projectdesk/internal/middleware"
)

// TokenRevoker invalidates a bearer token.
type TokenRevoker interface {
	DeleteAPIToken(ctx context.Context, token string) error
}

type SessionHandler struct {
	tokens TokenRevoker
}

func NewSessionHandler(tokens TokenRevoker) *SessionHandler {
	return &SessionHandler{tokens: tokens}
}

// Logout revokes the token the request authenticated with. The route sits
// behind BearerAuth, so the token is present and valid here.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.tokens.DeleteAPIToken(r.Context(), token); err != nil {
		logger.Errorf("logout token=%s: %v", middleware.MaskToken(token), err)
		writeError(w, http.StatusInternalServerError, "failed to log out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
