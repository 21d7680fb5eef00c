package models

import (
	"time"
)

// User is an account on the board. Authentication lives with the external
// identity provider; only the stable mapping from its subject to our id is
// kept here.
type User struct {
	ID         string    `json:"id" db:"id"`
	ExternalID string    `json:"-" db:"external_id"`
	Email      string    `json:"-" db:"email"`
	Handle     *string   `json:"handle,omitempty" db:"handle"`
	Name       string    `json:"name" db:"name"`
	AvatarURL  *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	AvatarType string    `json:"avatar_type" db:"avatar_type"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// PublicProfile is the subset of a user safe to show to other users.
type PublicProfile struct {
	Name      string  `json:"name"`
	Handle    *string `json:"handle,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Public returns the user's public view.
func (u *User) Public() PublicProfile {
	return PublicProfile{
		Name:      u.Name,
		Handle:    u.Handle,
		AvatarURL: u.AvatarURL,
	}
}
