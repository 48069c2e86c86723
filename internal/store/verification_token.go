package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/istudybucket/apiserver/internal/db"
	"github.com/istudybucket/apiserver/types"
)

// VerificationTokenRepository handles persistence for verification tokens.
type VerificationTokenRepository struct {
	db db.DBTX
}

func NewVerificationTokenRepository(conn db.DBTX) *VerificationTokenRepository {
	return &VerificationTokenRepository{db: conn}
}

// Create stores a new token. A second live token for the same user violates
// the partial unique index and returns ErrConflict.
func (r *VerificationTokenRepository) Create(ctx context.Context, token types.VerificationToken) (types.VerificationToken, error) {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	token.ConsumedAt = nil

	const query = `
		INSERT INTO verification_tokens (user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.CreatedAt,
	).Scan(&token.ID); err != nil {
		if isUniqueViolation(err) {
			return types.VerificationToken{}, ErrConflict
		}
		return types.VerificationToken{}, fmt.Errorf("insert verification token: %w", err)
	}
	return token, nil
}

func (r *VerificationTokenRepository) GetByHash(ctx context.Context, tokenHash string) (types.VerificationToken, error) {
	const query = `
		SELECT id, user_id, token_hash, expires_at, consumed_at, created_at
		FROM verification_tokens
		WHERE token_hash = $1`
	var (
		token      types.VerificationToken
		consumedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&consumedAt,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.VerificationToken{}, ErrNotFound
		}
		return types.VerificationToken{}, err
	}
	if consumedAt.Valid {
		at := consumedAt.Time
		token.ConsumedAt = &at
	}
	return token, nil
}

// InvalidateForUser marks every live token of userID consumed and returns
// how many were superseded.
func (r *VerificationTokenRepository) InvalidateForUser(ctx context.Context, userID int, at time.Time) (int64, error) {
	const query = `
		UPDATE verification_tokens
		SET consumed_at = $2
		WHERE user_id = $1 AND consumed_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("invalidate verification tokens: %w", err)
	}
	return result.RowsAffected()
}

// MarkConsumed consumes the token only if it is still live. A token that
// was already consumed, or superseded meanwhile, returns ErrNotFound.
func (r *VerificationTokenRepository) MarkConsumed(ctx context.Context, id int, at time.Time) error {
	const query = `
		UPDATE verification_tokens
		SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("consume verification token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
