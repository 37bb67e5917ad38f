package models

import "time"

// AuthToken is handed to a client after a successful login.
type AuthToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      int32     `json:"user_id"`
	Name        string    `json:"name"`
}

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID  int32
	IsAdmin bool
}

// CanActFor reports whether the caller may act on resources owned by userID.
func (i Identity) CanActFor(userID int32) bool {
	return i.IsAdmin || i.UserID == userID
}
