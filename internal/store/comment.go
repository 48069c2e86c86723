package store

import (
	"context"
	"fmt"
	"time"

	"github.com/istudybucket/apiserver/internal/db"
	"github.com/istudybucket/apiserver/types"
)

// CommentRepository handles persistence for comments.
type CommentRepository struct {
	db db.DBTX
}

func NewCommentRepository(conn db.DBTX) *CommentRepository {
	return &CommentRepository{db: conn}
}

func (r *CommentRepository) Create(ctx context.Context, comment types.Comment) (types.Comment, error) {
	comment.CreatedAt = time.Now()

	const query = `
		INSERT INTO comments (post_id, author_id, body, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		comment.PostID,
		comment.AuthorID,
		comment.Body,
		comment.CreatedAt,
	).Scan(&comment.ID); err != nil {
		return types.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

// ListByPost returns the comments of postID oldest first.
func (r *CommentRepository) ListByPost(ctx context.Context, postID int) ([]types.Comment, error) {
	const query = `
		SELECT id, post_id, author_id, body, created_at
		FROM comments
		WHERE post_id = $1
		ORDER BY id`
	return r.list(ctx, query, postID)
}

// ListByPostAndAuthor returns the comments authorID left on postID.
func (r *CommentRepository) ListByPostAndAuthor(ctx context.Context, postID, authorID int) ([]types.Comment, error) {
	const query = `
		SELECT id, post_id, author_id, body, created_at
		FROM comments
		WHERE post_id = $1 AND author_id = $2
		ORDER BY id`
	return r.list(ctx, query, postID, authorID)
}

func (r *CommentRepository) list(ctx context.Context, query string, args ...any) ([]types.Comment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := make([]types.Comment, 0)
	for rows.Next() {
		var comment types.Comment
		if err := rows.Scan(
			&comment.ID,
			&comment.PostID,
			&comment.AuthorID,
			&comment.Body,
			&comment.CreatedAt,
		); err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return comments, nil
}
