package services

import "errors"

var (
	// ErrConflict is returned when the username or email is already taken.
	ErrConflict = errors.New("username or email already registered")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized is returned for unknown users and wrong passwords
	// alike.
	ErrUnauthorized = errors.New("invalid username or password")
	// ErrForbidden is returned when a pending account tries to log in.
	ErrForbidden = errors.New("account is not verified")
	// ErrVerificationFailed is the only verification failure callers see.
	ErrVerificationFailed = errors.New("verification failed")

	// Verification token failures. These are logged but never returned
	// outside the package's verify flow.
	ErrTokenNotFound = errors.New("verification token not found")
	ErrTokenExpired  = errors.New("verification token expired")
	ErrTokenMismatch = errors.New("verification token belongs to another user")

	// ErrAttachmentsDisabled is returned for uploads when no object storage
	// is configured.
	ErrAttachmentsDisabled = errors.New("attachments are not enabled")
)
