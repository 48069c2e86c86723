package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/istudybucket/apiserver/internal/mq"
)

// Publisher is the subset of mq.MQ the queue notifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// QueueNotifier publishes verification messages to the message queue.
type QueueNotifier struct {
	publisher Publisher
	channel   string
}

func NewQueueNotifier(publisher Publisher) *QueueNotifier {
	return &QueueNotifier{publisher: publisher, channel: VerificationChannel}
}

func (n *QueueNotifier) NotifyVerification(ctx context.Context, msg VerificationMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode verification message: %w", err)
	}
	if _, err := n.publisher.Publish(ctx, n.channel, data, map[string]string{
		"type":         VerificationMessageType,
		"content-type": "application/json",
	}); err != nil {
		return fmt.Errorf("publish verification message: %w", err)
	}
	return nil
}

// DecodeVerification parses a queue message produced by QueueNotifier.
func DecodeVerification(msg mq.Message) (VerificationMessage, error) {
	if t := msg.Attributes["type"]; t != "" && t != VerificationMessageType {
		return VerificationMessage{}, fmt.Errorf("unexpected message type %q", t)
	}
	var out VerificationMessage
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		return VerificationMessage{}, fmt.Errorf("decode verification message: %w", err)
	}
	if out.Email == "" || out.Token == "" || out.Username == "" {
		return VerificationMessage{}, errors.New("verification message is incomplete")
	}
	return out, nil
}
