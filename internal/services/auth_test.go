package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/istudybucket/apiserver/internal/auth"
	"github.com/istudybucket/apiserver/internal/logging"
	"github.com/istudybucket/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthService_RegisterVerifyLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.auth.Register(ctx, RegisterInput{Username: "  Alice ", Email: "alice@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, types.UserStatusPending, user.Status)

	msg := env.notifier.last(t)
	assert.Equal(t, user.ID, msg.UserID)
	assert.Equal(t, "alice@example.com", msg.Email)
	assert.NotEmpty(t, msg.Token)
	assert.True(t, msg.ExpiresAt.Equal(env.clock.Now().Add(24*time.Hour)))

	_, err = env.auth.Login(ctx, "alice", "correct horse")
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, env.auth.Verify(ctx, "ALICE", msg.Token))

	session, err := env.auth.Login(ctx, "Alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.User.ID)
	assert.True(t, session.User.IsActive())

	claims, err := env.sessions.Validate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "user", claims.Role)
	assert.True(t, claims.ExpiresAt.Equal(session.ExpiresAt))
}

func TestAuthService_TokenIsNotStoredInPlaintext(t *testing.T) {
	env := newTestEnv(t)
	msg := env.register(t, "alice", "alice@example.com", "correct horse")

	require.NoError(t, env.mem.Atomically(func() error {
		_, err := env.mem.VerificationTokens().GetByHash(context.Background(), msg.Token)
		assert.Error(t, err, "plaintext must not be a lookup key")

		stored, err := env.mem.VerificationTokens().GetByHash(context.Background(), HashToken(msg.Token))
		require.NoError(t, err)
		assert.NotEqual(t, msg.Token, stored.TokenHash)
		return nil
	}))
}

func TestAuthService_RegisterConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "alice@example.com", "correct horse")

	_, err := env.auth.Register(ctx, RegisterInput{Username: "ALICE", Email: "other@example.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = env.auth.Register(ctx, RegisterInput{Username: "bob", Email: "Alice@Example.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrConflict)

	assert.Equal(t, 1, env.notifier.count())
}

func TestAuthService_RegisterInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []RegisterInput{
		{Username: " ", Email: "a@example.com", Password: "pw"},
		{Username: "alice", Email: "", Password: "pw"},
		{Username: "alice", Email: "a@example.com", Password: ""},
		{Username: "alice", Email: "a@example.com", Password: strings.Repeat("x", auth.MaxPasswordBytes+1)},
	}
	for _, in := range cases {
		_, err := env.auth.Register(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.Zero(t, env.notifier.count())
}

func TestAuthService_RegisterRollsBackWhenIssueFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.auth.verifications = NewVerificationService(time.Hour, WithRandom(errReader{}))

	_, err := env.auth.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "correct horse"})
	require.Error(t, err)

	require.NoError(t, env.mem.Atomically(func() error {
		_, err := env.mem.Users().GetByUsername(ctx, "alice")
		assert.Error(t, err, "user must not exist without a token")
		return nil
	}))
}

func TestAuthService_RegisterSucceedsWhenDeliveryFails(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("queue unavailable")

	user, err := env.auth.Register(context.Background(), RegisterInput{Username: "alice", Email: "alice@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
}

func TestAuthService_ConcurrentDuplicateRegister(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.auth.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "correct horse"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
}

func TestAuthService_DoubleConsume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	msg := env.register(t, "alice", "alice@example.com", "correct horse")

	require.NoError(t, env.auth.Verify(ctx, "alice", msg.Token))
	assert.ErrorIs(t, env.auth.Verify(ctx, "alice", msg.Token), ErrVerificationFailed)
}

func TestAuthService_ConcurrentConsumeSucceedsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	msg := env.register(t, "alice", "alice@example.com", "correct horse")

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- env.auth.Verify(ctx, "alice", msg.Token)
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrVerificationFailed)
	}
	assert.Equal(t, 1, ok)
}

func TestAuthService_VerifyFailuresAreUniform(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice", "alice@example.com", "correct horse")
	env.register(t, "bob", "bob@example.com", "correct horse")

	assert.ErrorIs(t, env.auth.Verify(ctx, "alice", "not-a-token"), ErrVerificationFailed)
	assert.ErrorIs(t, env.auth.Verify(ctx, "alice", ""), ErrVerificationFailed)
	assert.ErrorIs(t, env.auth.Verify(ctx, "bob", alice.Token), ErrVerificationFailed, "token bound to another user")

	// The mismatch attempt must not burn alice's token.
	require.NoError(t, env.auth.Verify(ctx, "alice", alice.Token))
}

func TestAuthService_VerifyExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	msg := env.register(t, "alice", "alice@example.com", "correct horse")

	env.clock.Advance(24 * time.Hour)
	assert.ErrorIs(t, env.auth.Verify(ctx, "alice", msg.Token), ErrVerificationFailed)

	_, err := env.auth.Login(ctx, "alice", "correct horse")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthService_ResendSupersedesPreviousToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.register(t, "alice", "alice@example.com", "correct horse")

	require.NoError(t, env.auth.ResendVerification(ctx, ResendInput{Email: "ALICE@example.com"}))
	second := env.notifier.last(t)
	require.NotEqual(t, first.Token, second.Token)

	assert.ErrorIs(t, env.auth.Verify(ctx, "alice", first.Token), ErrVerificationFailed)
	require.NoError(t, env.auth.Verify(ctx, "alice", second.Token))
}

func TestAuthService_ResendForUnknownOrActiveAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.activeUser(t, "alice")
	sent := env.notifier.count()

	require.NoError(t, env.auth.ResendVerification(ctx, ResendInput{Username: "nobody"}))
	require.NoError(t, env.auth.ResendVerification(ctx, ResendInput{Username: "alice"}))
	assert.Equal(t, sent, env.notifier.count())

	assert.ErrorIs(t, env.auth.ResendVerification(ctx, ResendInput{}), ErrInvalidInput)
}

func TestAuthService_LoginFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.activeUser(t, "alice")
	env.register(t, "bob", "bob@example.com", "correct horse")

	_, err := env.auth.Login(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.auth.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.auth.Login(ctx, "bob", "correct horse")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.auth.Login(ctx, "bob", "wrong")
	assert.ErrorIs(t, err, ErrForbidden, "pending accounts are forbidden regardless of password")
}

type countingHasher struct {
	PasswordHasher
	verifies int
	dummies  int
}

func (h *countingHasher) Verify(plaintext, hash string) bool {
	h.verifies++
	return h.PasswordHasher.Verify(plaintext, hash)
}

func (h *countingHasher) DummyVerify(plaintext string) {
	h.dummies++
	h.PasswordHasher.DummyVerify(plaintext)
}

func TestAuthService_LoginAlwaysComparesPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "bob", "bob@example.com", "correct horse")

	hasher := &countingHasher{PasswordHasher: auth.NewBcryptHasher(bcrypt.MinCost)}
	env.auth.hasher = hasher

	_, err := env.auth.Login(ctx, "nobody", "pw")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, hasher.dummies)

	_, err = env.auth.Login(ctx, "bob", "pw")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 1, hasher.verifies)
}

func TestAuthService_CurrentUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.activeUser(t, "alice")

	user, err := env.auth.CurrentUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = env.auth.CurrentUser(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthService_NilNotifier(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAuthService(env.uow, auth.NewBcryptHasher(bcrypt.MinCost), env.sessions, NewVerificationService(time.Hour), nil, logging.Discard())

	_, err := svc.Register(context.Background(), RegisterInput{Username: "alice", Email: "alice@example.com", Password: "pw"})
	assert.NoError(t, err)
}
