package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/istudybucket/apiserver/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenRowColumns = []string{"id", "user_id", "token_hash", "expires_at", "consumed_at", "created_at"}

func TestVerificationTokenRepository_Create(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewVerificationTokenRepository(conn)
	expires := time.Now().Add(24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO verification_tokens")).
		WithArgs(3, "digest", expires, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	token, err := repo.Create(context.Background(), types.VerificationToken{
		UserID:    3,
		TokenHash: "digest",
		ExpiresAt: expires,
	})
	require.NoError(t, err)
	assert.Equal(t, 11, token.ID)
	assert.Nil(t, token.ConsumedAt)
}

func TestVerificationTokenRepository_CreateSecondLiveToken(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewVerificationTokenRepository(conn)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO verification_tokens")).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.Create(context.Background(), types.VerificationToken{UserID: 3, TokenHash: "digest"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestVerificationTokenRepository_GetByHash(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewVerificationTokenRepository(conn)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE token_hash = $1")).
		WithArgs("digest").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns).
			AddRow(1, 3, "digest", now.Add(time.Hour), nil, now))

	token, err := repo.GetByHash(context.Background(), "digest")
	require.NoError(t, err)
	assert.Equal(t, 3, token.UserID)
	assert.False(t, token.Consumed())
}

func TestVerificationTokenRepository_GetByHashConsumed(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewVerificationTokenRepository(conn)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE token_hash = $1")).
		WithArgs("digest").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns).
			AddRow(1, 3, "digest", now.Add(time.Hour), now, now))

	token, err := repo.GetByHash(context.Background(), "digest")
	require.NoError(t, err)
	assert.True(t, token.Consumed())
}

func TestVerificationTokenRepository_GetByHashNotFound(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewVerificationTokenRepository(conn)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE token_hash = $1")).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerificationTokenRepository_InvalidateForUser(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewVerificationTokenRepository(conn)
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("WHERE user_id = $1 AND consumed_at IS NULL")).
		WithArgs(3, at).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.InvalidateForUser(context.Background(), 3, at)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestVerificationTokenRepository_MarkConsumedOnlyOnce(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewVerificationTokenRepository(conn)
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND consumed_at IS NULL")).
		WithArgs(1, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND consumed_at IS NULL")).
		WithArgs(1, at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkConsumed(context.Background(), 1, at))
	assert.ErrorIs(t, repo.MarkConsumed(context.Background(), 1, at), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
