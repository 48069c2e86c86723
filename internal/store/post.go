package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/istudybucket/apiserver/internal/db"
	"github.com/istudybucket/apiserver/types"
)

// PostRepository handles persistence for posts.
type PostRepository struct {
	db db.DBTX
}

func NewPostRepository(conn db.DBTX) *PostRepository {
	return &PostRepository{db: conn}
}

func (r *PostRepository) List(ctx context.Context, offset, limit int) ([]types.Post, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM posts`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT id, author_id, title, body, attachment, created_at, updated_at
		FROM posts
		ORDER BY id DESC
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	posts := make([]types.Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return posts, total, nil
}

func (r *PostRepository) Get(ctx context.Context, id int) (types.Post, error) {
	const query = `
		SELECT id, author_id, title, body, attachment, created_at, updated_at
		FROM posts
		WHERE id = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Post{}, ErrNotFound
		}
		return types.Post{}, err
	}
	return post, nil
}

func (r *PostRepository) Create(ctx context.Context, post types.Post) (types.Post, error) {
	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now

	var attachmentJSON any
	if post.Attachment != nil {
		raw, err := json.Marshal(post.Attachment)
		if err != nil {
			return types.Post{}, err
		}
		attachmentJSON = raw
	}

	const query = `
		INSERT INTO posts (author_id, title, body, attachment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		post.AuthorID,
		post.Title,
		post.Body,
		attachmentJSON,
		post.CreatedAt,
		post.UpdatedAt,
	).Scan(&post.ID); err != nil {
		return types.Post{}, fmt.Errorf("insert post: %w", err)
	}

	return post, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (types.Post, error) {
	var (
		post           types.Post
		attachmentJSON []byte
	)
	if err := row.Scan(
		&post.ID,
		&post.AuthorID,
		&post.Title,
		&post.Body,
		&attachmentJSON,
		&post.CreatedAt,
		&post.UpdatedAt,
	); err != nil {
		return types.Post{}, err
	}
	if len(attachmentJSON) > 0 {
		var attachment types.Attachment
		if err := json.Unmarshal(attachmentJSON, &attachment); err != nil {
			return types.Post{}, fmt.Errorf("decode attachment of post %d: %w", post.ID, err)
		}
		post.Attachment = &attachment
	}
	return post, nil
}
