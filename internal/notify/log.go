package notify

import (
	"context"

	"github.com/istudybucket/apiserver/internal/logging"
)

// LogNotifier records verification requests without delivering them. It is
// used when no queue is configured.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyVerification(ctx context.Context, msg VerificationMessage) error {
	n.logger.Info(ctx, "verification delivery skipped, no queue configured",
		"user_id", msg.UserID,
		"username", msg.Username,
		"expires_at", msg.ExpiresAt,
	)
	return nil
}
