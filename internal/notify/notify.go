package notify

import (
	"context"
	"time"
)

const (
	// VerificationChannel carries verification requests to the mailer.
	VerificationChannel = "auth.verification.requested"
	// VerificationMessageType is set as the "type" attribute of every
	// verification message.
	VerificationMessageType = "verification.requested"
)

// VerificationMessage is handed to the delivery channel after a token has
// been issued. Token is the plaintext and must never be logged.
type VerificationMessage struct {
	UserID    int       `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Notifier delivers verification tokens out of band.
type Notifier interface {
	NotifyVerification(ctx context.Context, msg VerificationMessage) error
}
