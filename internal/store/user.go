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

const userColumns = `id, username, email, role, status, password_hash, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db db.DBTX
}

func NewUserRepository(conn db.DBTX) *UserRepository {
	return &UserRepository{db: conn}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate reads the user and locks its row until the transaction
// ends. Token issuance for one user is serialised on this lock.
func (r *UserRepository) GetByIDForUpdate(ctx context.Context, id int) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1
		FOR UPDATE`
	return r.getOne(ctx, query, id)
}

// GetByUsername looks a user up by the normalized username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE username = $1`
	return r.getOne(ctx, query, username)
}

// GetByEmail looks a user up by email ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE lower(email) = lower($1)`
	return r.getOne(ctx, query, email)
}

// CreatePending inserts a user in the pending state. Duplicate usernames or
// emails are rejected by the unique indexes and surface as ErrConflict.
func (r *UserRepository) CreatePending(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.Status = types.UserStatusPending
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (username, email, role, status, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Username,
		user.Email,
		user.Role,
		user.Status,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// Activate marks the user active. Activating an active user is a no-op.
func (r *UserRepository) Activate(ctx context.Context, id int) error {
	const query = `
		UPDATE users
		SET status = 'active',
			updated_at = CASE WHEN status = 'active' THEN updated_at ELSE $2 END
		WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("activate user: %w", err)
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

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (types.User, error) {
	var user types.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Role,
		&user.Status,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}
