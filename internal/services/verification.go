package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/istudybucket/apiserver/internal/store"
	"github.com/istudybucket/apiserver/types"
)

const (
	defaultVerificationTTL = 24 * time.Hour
	verificationTokenBytes = 32
)

// IssuedToken is a freshly issued verification token. Token is the
// plaintext handed to the delivery channel; only its digest is stored.
type IssuedToken struct {
	UserID    int
	Token     string
	ExpiresAt time.Time
}

// VerificationService issues and consumes single-use verification tokens.
type VerificationService struct {
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// VerificationOption customizes a VerificationService.
type VerificationOption func(*VerificationService)

// WithVerificationClock injects the clock used for expiry.
func WithVerificationClock(now func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom replaces crypto/rand as the token entropy source.
func WithRandom(r io.Reader) VerificationOption {
	return func(s *VerificationService) {
		if r != nil {
			s.random = r
		}
	}
}

func NewVerificationService(ttl time.Duration, opts ...VerificationOption) *VerificationService {
	if ttl <= 0 {
		ttl = defaultVerificationTTL
	}
	s := &VerificationService{
		ttl:    ttl,
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a new token for userID and supersedes every token that
// user still had live. It must run inside the caller's unit of work.
func (s *VerificationService) Issue(ctx context.Context, tokens VerificationTokenRepository, userID int) (IssuedToken, error) {
	plaintext, err := s.newToken()
	if err != nil {
		return IssuedToken{}, err
	}

	now := s.now()
	if _, err := tokens.InvalidateForUser(ctx, userID, now); err != nil {
		return IssuedToken{}, err
	}

	stored, err := tokens.Create(ctx, types.VerificationToken{
		UserID:    userID,
		TokenHash: HashToken(plaintext),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	})
	if err != nil {
		return IssuedToken{}, fmt.Errorf("store verification token: %w", err)
	}

	return IssuedToken{
		UserID:    userID,
		Token:     plaintext,
		ExpiresAt: stored.ExpiresAt,
	}, nil
}

// Consume validates token against username and marks it used. It returns
// the owning user id, or ErrTokenNotFound, ErrTokenExpired or
// ErrTokenMismatch.
func (s *VerificationService) Consume(ctx context.Context, repos Repositories, token, username string) (int, error) {
	if token == "" {
		return 0, ErrTokenNotFound
	}

	stored, err := repos.Tokens.GetByHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrTokenNotFound
		}
		return 0, err
	}
	if stored.Consumed() {
		return 0, ErrTokenNotFound
	}

	now := s.now()
	if stored.Expired(now) {
		return 0, ErrTokenExpired
	}

	owner, err := repos.Users.GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrTokenNotFound
		}
		return 0, err
	}
	if owner.Username != username {
		return 0, ErrTokenMismatch
	}

	if err := repos.Tokens.MarkConsumed(ctx, stored.ID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrTokenNotFound
		}
		return 0, err
	}
	return owner.ID, nil
}

func (s *VerificationService) newToken() (string, error) {
	buf := make([]byte, verificationTokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the digest a verification token is stored under.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
