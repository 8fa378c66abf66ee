package model

import "time"

// Project carries the denormalized current progress value (0..100).
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Progress  int       `json:"progress"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
