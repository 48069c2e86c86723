package types

import "time"

// UserStatus is the activation state of an account.
type UserStatus string

const (
	// UserStatusPending marks an account that has not been verified yet.
	UserStatusPending UserStatus = "pending"
	// UserStatusActive marks a verified account that may log in.
	UserStatusActive UserStatus = "active"
)

// User represents an account in the system.
// It contains identity, activation state, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the unique, lower-cased login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Email is the user's email address. Unique ignoring case.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level within the system.
	Role string `json:"role" db:"role"`

	// Status is pending until the account is verified.
	Status UserStatus `json:"status" db:"status"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the account has been verified.
func (u User) IsActive() bool {
	return u.Status == UserStatusActive
}

// VerificationToken is a single-use right to activate one user.
// Only the SHA-256 digest of the token is persisted.
type VerificationToken struct {
	ID         int        `json:"id" db:"id"`
	UserID     int        `json:"user_id" db:"user_id"`
	TokenHash  string     `json:"-" db:"token_hash"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty" db:"consumed_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Consumed reports whether the token was used or superseded.
func (t VerificationToken) Consumed() bool {
	return t.ConsumedAt != nil
}

// Expired reports whether the token is past its expiry at now.
func (t VerificationToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
