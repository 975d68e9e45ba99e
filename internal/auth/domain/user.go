package domain

import "time"

// User is the identity-backend account record as the core sees it.
type User struct {
	ID           string
	Email        string
	PasswordHash string // only populated by the local backend
	Metadata     map[string]any
	CreatedAt    time.Time
	LastSignInAt *time.Time
}

// Projection is the only user shape ever written to a response body.
// Internal tokens and secrets never appear here.
type Projection struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastSignInAt *time.Time     `json:"lastSignInAt,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Project sanitizes a user for client consumption.
func (u User) Project() Projection {
	return Projection{
		ID:           u.ID,
		Email:        u.Email,
		CreatedAt:    u.CreatedAt,
		LastSignInAt: u.LastSignInAt,
		Metadata:     u.Metadata,
	}
}
