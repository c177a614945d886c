package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user in the system
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // Never expose
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// UserContext represents the authenticated caller attached to a request
type UserContext struct {
	UserID   uuid.UUID
	Username string
	Email    string
}

// Context returns the request-scoped view of the user
func (u *User) Context() *UserContext {
	return &UserContext{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
	}
}
