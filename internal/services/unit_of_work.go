package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/istudybucket/apiserver/internal/db"
	"github.com/istudybucket/apiserver/internal/store"
	"github.com/istudybucket/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByIDForUpdate(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	CreatePending(ctx context.Context, user types.User) (types.User, error)
	Activate(ctx context.Context, id int) error
}

// VerificationTokenRepository defines persistence operations for
// verification tokens.
type VerificationTokenRepository interface {
	Create(ctx context.Context, token types.VerificationToken) (types.VerificationToken, error)
	GetByHash(ctx context.Context, tokenHash string) (types.VerificationToken, error)
	InvalidateForUser(ctx context.Context, userID int, at time.Time) (int64, error)
	MarkConsumed(ctx context.Context, id int, at time.Time) error
}

// PostRepository defines persistence operations for posts.
type PostRepository interface {
	List(ctx context.Context, offset, limit int) ([]types.Post, int, error)
	Get(ctx context.Context, id int) (types.Post, error)
	Create(ctx context.Context, post types.Post) (types.Post, error)
}

// CommentRepository defines persistence operations for comments.
type CommentRepository interface {
	Create(ctx context.Context, comment types.Comment) (types.Comment, error)
	ListByPost(ctx context.Context, postID int) ([]types.Comment, error)
	ListByPostAndAuthor(ctx context.Context, postID, authorID int) ([]types.Comment, error)
}

// Repositories is the set of repositories bound to one unit of work.
type Repositories struct {
	Users    UserRepository
	Tokens   VerificationTokenRepository
	Posts    PostRepository
	Comments CommentRepository
}

// UnitOfWork runs fn atomically: either every write fn makes through repos
// is kept, or none is. Returning an error from fn discards the writes.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// SQLUnitOfWork runs each unit in a database transaction.
type SQLUnitOfWork struct {
	conn *sql.DB
}

func NewSQLUnitOfWork(conn *sql.DB) *SQLUnitOfWork {
	return &SQLUnitOfWork{conn: conn}
}

func (u *SQLUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return db.WithTx(ctx, u.conn, nil, func(ctx context.Context, tx db.DBTX) error {
		return fn(ctx, Repositories{
			Users:    store.NewUserRepository(tx),
			Tokens:   store.NewVerificationTokenRepository(tx),
			Posts:    store.NewPostRepository(tx),
			Comments: store.NewCommentRepository(tx),
		})
	})
}

// MemoryUnitOfWork serialises units over a store.MemoryStore.
type MemoryUnitOfWork struct {
	mem *store.MemoryStore
}

func NewMemoryUnitOfWork(mem *store.MemoryStore) *MemoryUnitOfWork {
	return &MemoryUnitOfWork{mem: mem}
}

func (u *MemoryUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return u.mem.Atomically(func() error {
		return fn(ctx, Repositories{
			Users:    u.mem.Users(),
			Tokens:   u.mem.VerificationTokens(),
			Posts:    u.mem.Posts(),
			Comments: u.mem.Comments(),
		})
	})
}
