package notify

import (
	"context"

	"github.com/istudybucket/apiserver/internal/logging"
	"github.com/istudybucket/apiserver/internal/mq"
)

// Sender delivers a decoded verification message.
type Sender interface {
	SendVerification(ctx context.Context, msg VerificationMessage) error
}

// VerificationHandler returns the queue handler run by the mailer worker.
// Undecodable messages are acknowledged and dropped; send failures are
// returned so the broker redelivers.
func VerificationHandler(sender Sender, logger logging.Logger) mq.Handler {
	return func(ctx context.Context, msg mq.Message) error {
		verification, err := DecodeVerification(msg)
		if err != nil {
			logger.Warn(ctx, "dropping verification message", "message_id", msg.ID, "error", err)
			return nil
		}
		if err := sender.SendVerification(ctx, verification); err != nil {
			logger.Error(ctx, "verification email failed", "message_id", msg.ID, "user_id", verification.UserID, "error", err)
			return err
		}
		logger.Info(ctx, "verification email sent", "message_id", msg.ID, "user_id", verification.UserID)
		return nil
	}
}
