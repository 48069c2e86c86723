package mq

import (
	"context"
	"errors"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/istudybucket/apiserver/config"
	"google.golang.org/api/option"
)

// PubSubClient publishes to and receives from Google Cloud Pub/Sub topics.
// Each channel maps to a topic of the same name and one subscription named
// channel+suffix, shared by every mailer replica.
type PubSubClient struct {
	client             *pubsub.Client
	subscriptionSuffix string
	attempts           *attemptCounter
}

func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	suffix := cfg.SubscriptionSuffix
	if suffix == "" {
		suffix = "-sub"
	}

	return &PubSubClient{
		client:             client,
		subscriptionSuffix: suffix,
		attempts:           newAttemptCounter(),
	}, nil
}

func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: withContentType(attrs, "")})
	return result.Get(ctx)
}

// Subscribe receives from the channel's subscription. A failed message is
// nacked for redelivery until MaxDeliveryAttempts, then acked and dropped.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return err
	}

	sub, err := p.ensureSubscription(ctx, channel+p.subscriptionSuffix, topic)
	if err != nil {
		return err
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		message := Message{
			ID:         msg.ID,
			Data:       msg.Data,
			Attributes: withContentType(msg.Attributes, ""),
			Attempt:    p.attempts.next(msg.ID, msg.DeliveryAttempt),
		}
		if err := handler(ctx, message); err != nil && shouldRedeliver(message.Attempt) {
			msg.Nack()
			return
		}
		p.attempts.forget(msg.ID)
		msg.Ack()
	})
}

func (p *PubSubClient) Close() error {
	return p.client.Close()
}

func (p *PubSubClient) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateTopic(ctx, name)
	}
	return topic, nil
}

func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{Topic: topic})
	}
	return sub, nil
}

// attemptCounter numbers deliveries per message id. Pub/Sub only reports
// DeliveryAttempt on subscriptions with a dead-letter policy; otherwise the
// count is kept in process and a redelivery to another replica starts over.
type attemptCounter struct {
	mu   sync.Mutex
	seen map[string]int
}

func newAttemptCounter() *attemptCounter {
	return &attemptCounter{seen: map[string]int{}}
}

func (c *attemptCounter) next(id string, reported *int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	attempt := c.seen[id] + 1
	if reported != nil && *reported > attempt {
		attempt = *reported
	}
	c.seen[id] = attempt
	return attempt
}

func (c *attemptCounter) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, id)
}
