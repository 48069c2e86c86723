// Package mq carries verification requests from the API server to the
// mailer worker over RabbitMQ or Google Cloud Pub/Sub.
package mq

import "context"

// MaxDeliveryAttempts bounds how often one message is handed to a Handler.
// A failed attempt is redelivered until the bound is reached; the last
// failed attempt acknowledges and drops the message.
const MaxDeliveryAttempts = 2

// ContentTypeAttribute is the attribute carrying the payload MIME type.
// Backends default it to application/octet-stream.
const ContentTypeAttribute = "content-type"

const defaultContentType = "application/octet-stream"

// Message is a payload as seen by a subscriber, independent of the broker.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string

	// Attempt is 1 on first delivery. Brokers that only report "redelivered"
	// yield 2 for any redelivery.
	Attempt int
}

// Handler processes a message. Returning nil acknowledges it. Returning an
// error asks for a redelivery, which happens at most MaxDeliveryAttempts-1
// times; handlers that want a message dropped return nil.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by each broker client.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ is the queue handle shared by the server and the mailer.
type MQ struct {
	backend Backend
}

func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Publish sends data to channel and returns the broker's message id.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe blocks, handing every message on channel to handler, until ctx
// is done or the broker connection fails.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return m.backend.Subscribe(ctx, channel, handler)
}

func (m *MQ) Close() error {
	return m.backend.Close()
}

// shouldRedeliver reports whether a failed attempt gets another delivery.
func shouldRedeliver(attempt int) bool {
	return attempt < MaxDeliveryAttempts
}

// withContentType returns a copy of attrs that always carries a content type.
func withContentType(attrs map[string]string, contentType string) map[string]string {
	out := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	if contentType != "" {
		out[ContentTypeAttribute] = contentType
	}
	if out[ContentTypeAttribute] == "" {
		out[ContentTypeAttribute] = defaultContentType
	}
	return out
}
