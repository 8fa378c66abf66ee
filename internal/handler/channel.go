package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/projectdesk/internal/channel"
	"github.com/projectdesk/internal/logger"
)

type ChannelHandler struct {
	hub            *channel.Hub
	allowedOrigins string
}

// NewChannelHandler creates the WebSocket entry point. allowedOrigins follows
// the CORS config format (comma-separated or "*").
func NewChannelHandler(hub *channel.Hub, allowedOrigins string) *ChannelHandler {
	return &ChannelHandler{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *ChannelHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the connection and registers it with the hub. The socket id
// assigned here is what the client later presents during the private-channel
// authorization handshake.
func (h *ChannelHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("channel upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := channel.NewClient(h.hub, conn, uuid.New().String())
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
