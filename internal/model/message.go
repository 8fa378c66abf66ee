package model

import "time"

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
	AttachmentVideo AttachmentType = "video"
	AttachmentOther AttachmentType = "other"
)

// Attachment belongs to exactly one message and is immutable after creation.
type Attachment struct {
	ID           int64          `json:"id"`
	MessageID    int64          `json:"message_id,omitempty"`
	Type         AttachmentType `json:"type"`
	URL          string         `json:"url"`
	OriginalName string         `json:"original_name"`
	Width        *int           `json:"width,omitempty"`
	Height       *int           `json:"height,omitempty"`
}

// Message is a project chat message. The ID is assigned by the database
// (BIGSERIAL, monotonic per project creation order) and is the sole identity
// clients use to deduplicate optimistic, echoed and refetched copies.
// Messages are never edited or deleted by this subsystem.
type Message struct {
	ID          int64        `json:"id"`
	ProjectID   string       `json:"project_id"`
	SenderID    string       `json:"sender_id"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
	Sender      *UserPublic  `json:"sender,omitempty"`
}

// HasContent reports whether the message carries anything worth persisting:
// non-blank body or at least one attachment.
func (m *Message) HasContent() bool {
	if len(m.Attachments) > 0 {
		return true
	}
	for _, r := range m.Body {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}
