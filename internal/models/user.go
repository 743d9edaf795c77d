package models

import "time"

// User is the dashboard account profile as returned by the backend.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Session holds the authenticated state for one user: the bearer token
// issued by the backend plus its expiry as read from the token claims.
// The zero value is an unauthenticated session.
type Session struct {
	User        *User
	Token       string
	TokenExpiry time.Time
}

// Authenticated reports whether the session carries a token.
func (s *Session) Authenticated() bool {
	return s != nil && s.Token != ""
}

// Expired reports whether the token expiry is known and in the past.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.TokenExpiry.IsZero() {
		return false
	}
	return now.After(s.TokenExpiry)
}

// RegisterRequest is the payload for account creation.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// ProfileUpdate is the payload for profile updates.
type ProfileUpdate struct {
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}
