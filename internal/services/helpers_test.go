package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/istudybucket/apiserver/internal/auth"
	"github.com/istudybucket/apiserver/internal/logging"
	"github.com/istudybucket/apiserver/internal/notify"
	"github.com/istudybucket/apiserver/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.VerificationMessage
	err  error
}

func (n *recordingNotifier) NotifyVerification(ctx context.Context, msg notify.VerificationMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) last(t *testing.T) notify.VerificationMessage {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no verification message was sent")
	}
	return n.sent[len(n.sent)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type testEnv struct {
	mem      *store.MemoryStore
	uow      *MemoryUnitOfWork
	clock    *testClock
	notifier *recordingNotifier
	sessions *auth.SessionIssuer
	auth     *AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	sessions, err := auth.NewSessionIssuer("test-secret", time.Hour, auth.WithSessionClock(clock.Now))
	if err != nil {
		t.Fatalf("NewSessionIssuer error: %v", err)
	}

	mem := store.NewMemoryStore()
	uow := NewMemoryUnitOfWork(mem)
	notifier := &recordingNotifier{}
	verifications := NewVerificationService(24*time.Hour, WithVerificationClock(clock.Now))

	return &testEnv{
		mem:      mem,
		uow:      uow,
		clock:    clock,
		notifier: notifier,
		sessions: sessions,
		auth: NewAuthService(
			uow,
			auth.NewBcryptHasher(bcrypt.MinCost),
			sessions,
			verifications,
			notifier,
			logging.Discard(),
		),
	}
}

func (e *testEnv) register(t *testing.T, username, email, password string) notify.VerificationMessage {
	t.Helper()
	if _, err := e.auth.Register(context.Background(), RegisterInput{Username: username, Email: email, Password: password}); err != nil {
		t.Fatalf("Register(%s) error: %v", username, err)
	}
	return e.notifier.last(t)
}

func (e *testEnv) activeUser(t *testing.T, username string) int {
	t.Helper()
	msg := e.register(t, username, username+"@example.com", "correct horse")
	if err := e.auth.Verify(context.Background(), username, msg.Token); err != nil {
		t.Fatalf("Verify(%s) error: %v", username, err)
	}
	return msg.UserID
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}
