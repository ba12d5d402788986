package models

import "time"

// User is the slice of a platform user record the messaging gateway reads.
// Registration and profile editing live elsewhere.
type User struct {
	ID             int64     `json:"user_id"`
	Username       string    `json:"username"`
	ProfilePicture *string   `json:"profile_picture"`
	CreatedAt      time.Time `json:"created_at"`
}

// Identity is the authenticated principal bound to a connection.
// It is built once at handshake and never re-derived from payloads.
type Identity struct {
	ID             int64
	Username       string
	ProfilePicture *string
}

// IdentityFromUser converts a stored user into an Identity.
func IdentityFromUser(u *User) Identity {
	return Identity{
		ID:             u.ID,
		Username:       u.Username,
		ProfilePicture: u.ProfilePicture,
	}
}

// Summary returns the display block attached to outgoing messages.
func (i Identity) Summary() UserSummary {
	return UserSummary{Username: i.Username, ProfilePicture: i.ProfilePicture}
}

// UserSummary is the sender display block carried by messages.
type UserSummary struct {
	Username       string  `json:"username"`
	ProfilePicture *string `json:"profile_picture"`
}

// Contact is a conversation partner with the time of the last exchanged message.
type Contact struct {
	UserID          int64      `json:"user_id"`
	Username        string     `json:"username"`
	ProfilePicture  *string    `json:"profile_picture"`
	LastMessageTime *time.Time `json:"last_message_time"`
}
