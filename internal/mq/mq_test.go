package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/istudybucket/apiserver/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	published []string
	closed    bool
}

func (s *stubBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	s.published = append(s.published, channel)
	return "id-1", nil
}

func (s *stubBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return handler(ctx, Message{ID: "id-1", Data: []byte("payload")})
}

func (s *stubBackend) Close() error {
	s.closed = true
	return nil
}

func TestMQ_DelegatesToBackend(t *testing.T) {
	backend := &stubBackend{}
	q := New(backend)

	id, err := q.Publish(context.Background(), "auth.verification.requested", []byte("{}"), nil)
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	assert.Equal(t, []string{"auth.verification.requested"}, backend.published)

	wantErr := errors.New("handler failed")
	err = q.Subscribe(context.Background(), "auth.verification.requested", func(ctx context.Context, msg Message) error {
		assert.Equal(t, "payload", string(msg.Data))
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	require.NoError(t, q.Close())
	assert.True(t, backend.closed)
}

func TestNewFromConfig(t *testing.T) {
	q, err := NewFromConfig(context.Background(), config.MQConfig{Backend: config.MQBackendNone})
	require.NoError(t, err)
	assert.Nil(t, q)

	_, err = NewFromConfig(context.Background(), config.MQConfig{Backend: "kafka"})
	assert.Error(t, err)

	_, err = NewFromConfig(context.Background(), config.MQConfig{Backend: config.MQBackendRabbitMQ})
	assert.Error(t, err, "empty url is rejected before dialing")
}

func TestHeadersToAttributes(t *testing.T) {
	assert.Nil(t, headersToAttributes(nil))

	attrs := headersToAttributes(amqp.Table{
		"type":  "verification.requested",
		"raw":   []byte("bytes"),
		"count": int32(3),
	})
	assert.Equal(t, "verification.requested", attrs["type"])
	assert.Equal(t, "bytes", attrs["raw"])
	assert.Equal(t, "3", attrs["count"])
}

func TestShouldRedeliver_RetriesOnce(t *testing.T) {
	assert.True(t, shouldRedeliver(1))
	assert.False(t, shouldRedeliver(MaxDeliveryAttempts))
	assert.False(t, shouldRedeliver(MaxDeliveryAttempts+3))
}

func TestWithContentType(t *testing.T) {
	attrs := map[string]string{"type": "verification.requested"}

	out := withContentType(attrs, "")
	assert.Equal(t, "application/octet-stream", out[ContentTypeAttribute])
	assert.Equal(t, "verification.requested", out["type"])
	assert.NotContains(t, attrs, ContentTypeAttribute, "input is not modified")

	out = withContentType(map[string]string{ContentTypeAttribute: "application/json"}, "")
	assert.Equal(t, "application/json", out[ContentTypeAttribute])

	out = withContentType(nil, "text/plain")
	assert.Equal(t, "text/plain", out[ContentTypeAttribute])
}

func TestRabbitMessage_AttemptAndContentType(t *testing.T) {
	first := rabbitMessage(amqp.Delivery{
		MessageId:   "m-1",
		ContentType: "application/json",
		Headers:     amqp.Table{"type": "verification.requested"},
		Body:        []byte("{}"),
	})
	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, "application/json", first.Attributes[ContentTypeAttribute])
	assert.Equal(t, "verification.requested", first.Attributes["type"])
	assert.True(t, shouldRedeliver(first.Attempt))

	again := rabbitMessage(amqp.Delivery{MessageId: "m-1", Redelivered: true})
	assert.Equal(t, 2, again.Attempt)
	assert.False(t, shouldRedeliver(again.Attempt))
}

func TestAttemptCounter_DropsAfterLimit(t *testing.T) {
	c := newAttemptCounter()

	first := c.next("m-1", nil)
	assert.Equal(t, 1, first)
	assert.True(t, shouldRedeliver(first))

	second := c.next("m-1", nil)
	assert.Equal(t, 2, second)
	assert.False(t, shouldRedeliver(second), "a failing message is not redelivered forever")

	assert.Equal(t, 1, c.next("m-2", nil), "ids are counted separately")

	c.forget("m-1")
	assert.Equal(t, 1, c.next("m-1", nil))
}

func TestAttemptCounter_PrefersReportedAttempt(t *testing.T) {
	c := newAttemptCounter()
	reported := 5

	assert.Equal(t, 5, c.next("m-1", &reported))
	assert.Equal(t, 6, c.next("m-1", nil))
}
