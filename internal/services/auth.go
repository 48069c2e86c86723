package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/istudybucket/apiserver/internal/auth"
	"github.com/istudybucket/apiserver/internal/logging"
	"github.com/istudybucket/apiserver/internal/notify"
	"github.com/istudybucket/apiserver/internal/store"
	"github.com/istudybucket/apiserver/types"
)

const (
	defaultRole    = "user"
	publishTimeout = 10 * time.Second
)

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
	DummyVerify(plaintext string)
}

// SessionMinter mints session tokens for authenticated users.
type SessionMinter interface {
	Mint(userID int, role string) (string, auth.SessionClaims, error)
}

// RegisterInput carries the fields of a registration request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// ResendInput identifies the account to resend a verification token to.
// Username takes precedence when both are set.
type ResendInput struct {
	Username string
	Email    string
}

// Session is the outcome of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      types.User
}

// AuthService coordinates registration, verification and login.
type AuthService struct {
	uow           UnitOfWork
	hasher        PasswordHasher
	sessions      SessionMinter
	verifications *VerificationService
	notifier      notify.Notifier
	logger        logging.Logger
}

func NewAuthService(
	uow UnitOfWork,
	hasher PasswordHasher,
	sessions SessionMinter,
	verifications *VerificationService,
	notifier notify.Notifier,
	logger logging.Logger,
) *AuthService {
	return &AuthService{
		uow:           uow,
		hasher:        hasher,
		sessions:      sessions,
		verifications: verifications,
		notifier:      notifier,
		logger:        logger,
	}
}

// NormalizeUsername is the canonical form usernames are stored and looked
// up in.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Register creates a pending account and issues its first verification
// token. Delivery happens after commit; a failed delivery is logged and
// the account stays registered.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (types.User, error) {
	username := NormalizeUsername(in.Username)
	email := strings.TrimSpace(in.Email)
	if username == "" {
		return types.User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if email == "" {
		return types.User{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrEmptyPassword) || errors.Is(err, auth.ErrPasswordTooLong) {
			return types.User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return types.User{}, err
	}

	var (
		user   types.User
		issued IssuedToken
	)
	err = s.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		created, err := repos.Users.CreatePending(ctx, types.User{
			Username:     username,
			Email:        email,
			Role:         defaultRole,
			PasswordHash: hash,
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrConflict
			}
			return err
		}
		user = created

		issued, err = s.verifications.Issue(ctx, repos.Tokens, created.ID)
		return err
	})
	if err != nil {
		return types.User{}, err
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID, "username", user.Username)
	s.deliver(ctx, user, issued)
	return user, nil
}

// Verify consumes token for username and activates the account in the
// same unit of work. Every token failure is reported as
// ErrVerificationFailed.
func (s *AuthService) Verify(ctx context.Context, username, token string) error {
	username = NormalizeUsername(username)

	var userID int
	err := s.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		id, err := s.verifications.Consume(ctx, repos, token, username)
		if err != nil {
			return err
		}
		userID = id
		if err := repos.Users.Activate(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrTokenNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		if isTokenFailure(err) {
			s.logger.Warn(ctx, "verification rejected", "username", username, "reason", err.Error())
			return ErrVerificationFailed
		}
		return err
	}

	s.logger.Info(ctx, "user verified", "user_id", userID, "username", username)
	return nil
}

// Login checks credentials and mints a session token. The password is
// always checked before the account state so that responses for pending
// accounts do not depend on the password.
func (s *AuthService) Login(ctx context.Context, username, password string) (Session, error) {
	username = NormalizeUsername(username)

	var user types.User
	err := s.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		found, err := repos.Users.GetByUsername(ctx, username)
		if err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.DummyVerify(password)
			return Session{}, ErrUnauthorized
		}
		return Session{}, err
	}

	passwordOK := s.hasher.Verify(password, user.PasswordHash)
	if !user.IsActive() {
		return Session{}, ErrForbidden
	}
	if !passwordOK {
		return Session{}, ErrUnauthorized
	}

	token, claims, err := s.sessions.Mint(user.ID, user.Role)
	if err != nil {
		return Session{}, fmt.Errorf("mint session: %w", err)
	}
	return Session{Token: token, ExpiresAt: claims.ExpiresAt, User: user}, nil
}

// ResendVerification issues a new token for a pending account, superseding
// the previous one. Unknown and already active accounts are not reported
// to the caller.
func (s *AuthService) ResendVerification(ctx context.Context, in ResendInput) error {
	username := NormalizeUsername(in.Username)
	email := strings.TrimSpace(in.Email)
	if username == "" && email == "" {
		return fmt.Errorf("%w: username or email is required", ErrInvalidInput)
	}

	var (
		user   types.User
		issued IssuedToken
		sent   bool
	)
	err := s.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		if username != "" {
			user, err = repos.Users.GetByUsername(ctx, username)
		} else {
			user, err = repos.Users.GetByEmail(ctx, email)
		}
		if err != nil {
			return err
		}
		// Concurrent resends for one user queue here, so each one sees
		// the token the previous one issued and supersedes it.
		user, err = repos.Users.GetByIDForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		if user.IsActive() {
			return nil
		}
		issued, err = s.verifications.Issue(ctx, repos.Tokens, user.ID)
		if err != nil {
			return err
		}
		sent = true
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info(ctx, "verification resend for unknown account", "username", username)
			return nil
		}
		return err
	}
	if !sent {
		s.logger.Info(ctx, "verification resend for active account", "user_id", user.ID)
		return nil
	}

	s.deliver(ctx, user, issued)
	return nil
}

// CurrentUser returns the account a session belongs to.
func (s *AuthService) CurrentUser(ctx context.Context, userID int) (types.User, error) {
	var user types.User
	err := s.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		found, err := repos.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (s *AuthService) deliver(ctx context.Context, user types.User, issued IssuedToken) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := s.notifier.NotifyVerification(ctx, notify.VerificationMessage{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
	})
	if err != nil {
		s.logger.Error(ctx, "verification delivery failed", "user_id", user.ID, "error", err)
	}
}

func isTokenFailure(err error) bool {
	return errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenMismatch)
}
