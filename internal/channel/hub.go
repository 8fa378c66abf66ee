package channel

import (
	"context"
	"sync"

	"github.com/projectdesk/internal/auth"
	"github.com/projectdesk/internal/logger"
)

// TokenVerifier checks private-channel subscribe tokens. Implemented by
// auth.TokenSigner; an interface so tests can stub it.
type TokenVerifier interface {
	VerifySubscribeToken(token string) (*auth.SubscribeClaims, error)
}

// Hub owns all live channel subscriptions for this process. Clients register
// on connect, then subscribe to individual channels; events published to a
// channel are fanned out to every subscribed client.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	channels   map[string]map[*Client]struct{}
	total      int
	maxConns   int
	sendBuf    int
	verifier   TokenVerifier
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a hub. sendBufSize caps each client's outgoing queue; a slow
// client that overflows it is closed rather than blocking fan-out.
func NewHub(verifier TokenVerifier, maxConns, sendBufSize int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	if sendBufSize <= 0 {
		sendBufSize = defaultSendBufSize
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		channels:   make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		sendBuf:    sendBufSize,
		verifier:   verifier,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for c := range h.clients {
		allClients = append(allClients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.channels = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("channel connection limit reached (%d), rejecting socket=%s", h.maxConns, c.socketID)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.total++
	h.mu.Unlock()

	// The socket id is the client's half of the authorization handshake.
	h.sendToClient(c, OutgoingFrame{
		Type:    FrameConnectionEstablished,
		Payload: ConnectionEstablishedPayload{SocketID: c.socketID},
	})
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.total--
	for name := range c.channels {
		if subs, ok := h.channels[name]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.channels, name)
			}
		}
	}
	c.channels = make(map[string]struct{})
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// HandleFrame dispatches an incoming frame from a connected client.
func (h *Hub) HandleFrame(c *Client, frame IncomingFrame) {
	switch frame.Type {
	case FrameSubscribe:
		h.handleSubscribe(c, frame)
	case FrameUnsubscribe:
		h.handleUnsubscribe(c, frame)
	default:
		h.sendToClient(c, OutgoingFrame{Type: FrameError, Payload: "unknown frame type"})
	}
}

func (h *Hub) handleSubscribe(c *Client, frame IncomingFrame) {
	if frame.Channel == "" {
		h.sendToClient(c, OutgoingFrame{Type: FrameError, Payload: "channel required"})
		return
	}

	if IsPrivate(frame.Channel) {
		claims, err := h.verifier.VerifySubscribeToken(frame.Auth)
		if err != nil {
			logger.Errorf("channel subscribe rejected socket=%s channel=%s: %v", c.socketID, frame.Channel, err)
			h.sendToClient(c, OutgoingFrame{Type: FrameError, Channel: frame.Channel, Payload: "subscription rejected"})
			return
		}
		// The token is bound to one socket and one channel; anything else is a replay.
		if claims.Channel != frame.Channel || claims.SocketID != c.socketID {
			logger.Errorf("channel subscribe token mismatch socket=%s channel=%s", c.socketID, frame.Channel)
			h.sendToClient(c, OutgoingFrame{Type: FrameError, Channel: frame.Channel, Payload: "subscription rejected"})
			return
		}
	}

	h.mu.Lock()
	if _, registered := h.clients[c]; !registered {
		h.mu.Unlock()
		return
	}
	if _, ok := h.channels[frame.Channel]; !ok {
		h.channels[frame.Channel] = make(map[*Client]struct{})
	}
	// Re-subscribing while subscribed is a no-op; the client is in the set once.
	h.channels[frame.Channel][c] = struct{}{}
	c.channels[frame.Channel] = struct{}{}
	h.mu.Unlock()

	h.sendToClient(c, OutgoingFrame{Type: FrameSubscriptionSucceeded, Channel: frame.Channel})
}

func (h *Hub) handleUnsubscribe(c *Client, frame IncomingFrame) {
	if frame.Channel == "" {
		return
	}
	h.mu.Lock()
	if subs, ok := h.channels[frame.Channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, frame.Channel)
		}
	}
	delete(c.channels, frame.Channel)
	h.mu.Unlock()
}

// Publish fans an event out to every client subscribed to the channel and
// returns how many clients it was queued for. It never blocks on a slow
// client: their send buffer overflowing closes them instead.
func (h *Hub) Publish(channelName, event string, payload any) int {
	h.mu.RLock()
	subs, ok := h.channels[channelName]
	if !ok {
		h.mu.RUnlock()
		return 0
	}
	targets := make([]*Client, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	frame := OutgoingFrame{Type: FrameEvent, Channel: channelName, Event: event, Payload: payload}
	for _, c := range targets {
		h.sendToClient(c, frame)
	}
	return len(targets)
}

// Subscribers returns the number of clients currently subscribed to a channel.
func (h *Hub) Subscribers(channelName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channelName])
}

func (h *Hub) sendToClient(c *Client, frame OutgoingFrame) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("channel send buffer full, closing slow client socket=%s", c.socketID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
