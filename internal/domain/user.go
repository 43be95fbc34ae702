package domain

import "time"

// User represents a registered account. PasswordHash only ever holds a
// one-way digest.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProfileFields is the partial field set accepted by a profile update.
// Nil fields are left untouched.
type ProfileFields struct {
	Email    *string
	Username *string
}

// Empty reports whether no field is set.
func (f ProfileFields) Empty() bool {
	return f.Email == nil && f.Username == nil
}

// Identity is what a validated bearer token proves about its holder.
type Identity struct {
	Username string `json:"username"`
	UserID   string `json:"user_id"`
}
