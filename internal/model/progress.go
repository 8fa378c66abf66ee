package model

import "time"

// ProgressUpdate is one row of the append-only progress audit trail.
// The project's denormalized current value and this history record are
// written in the same transaction; last accepted write wins.
type ProgressUpdate struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	AuthorID  string    `json:"author_id"`
	Value     int       `json:"value"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
