package model

import "time"

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

// UserPublic is the sender summary embedded in messages and broadcast events.
type UserPublic struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}
