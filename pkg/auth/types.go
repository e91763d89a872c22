package auth

import "time"

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is what a verified token resolves to. It is produced by the
// gatekeeper and handed to handlers read-only.
type Identity struct {
	UserID    string    `json:"id"`
	Email     string    `json:"email"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Session is the result of a session check
type Session struct {
	Authenticated bool      `json:"authenticated"`
	User          *Identity `json:"user,omitempty"`
}
