package channel

import (
	"time"

	"github.com/projectdesk/internal/model"
)

// PrivatePrefix marks channels that require the authorization handshake
// before the hub will accept a subscribe.
const PrivatePrefix = "private-"

// ForProject returns the full channel name for a project's private channel.
// The web proxy, the token signer and the hub must agree on this exact format.
func ForProject(projectID string) string {
	return PrivatePrefix + "project." + projectID
}

// IsPrivate reports whether a channel name requires authorization.
func IsPrivate(name string) bool {
	return len(name) > len(PrivatePrefix) && name[:len(PrivatePrefix)] == PrivatePrefix
}

type FrameType string

const (
	// client -> server
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"

	// server -> client
	FrameConnectionEstablished FrameType = "connection_established"
	FrameSubscriptionSucceeded FrameType = "subscription_succeeded"
	FrameEvent                 FrameType = "event"
	FrameError                 FrameType = "error"
)

// Broadcast event names carried inside FrameEvent frames.
const (
	EventMessageCreated = "message.created"
	EventProgressUpdate = "progress.update"
)

// IncomingFrame is what a connected client sends to the hub.
type IncomingFrame struct {
	Type    FrameType `json:"type"`
	Channel string    `json:"channel,omitempty"`
	// Auth is the signed subscribe token for private channels.
	Auth string `json:"auth,omitempty"`
}

// OutgoingFrame is what the hub sends to a client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingFrame struct {
	Type    FrameType `json:"type"`
	Channel string    `json:"channel,omitempty"`
	Event   string    `json:"event,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// ConnectionEstablishedPayload carries the socket id the client must present
// during the private-channel authorization handshake.
type ConnectionEstablishedPayload struct {
	SocketID string `json:"socket_id"`
}

// MessageCreatedPayload is broadcast after a message is persisted.
type MessageCreatedPayload struct {
	Message *model.Message `json:"message"`
}

// ProgressUpdatePayload is deliberately thinner than the history record:
// listeners only need the current value to move a progress indicator.
type ProgressUpdatePayload struct {
	Value    int       `json:"value"`
	AuthorID string    `json:"author_id"`
	At       time.Time `json:"at"`
}
