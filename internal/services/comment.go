package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/istudybucket/apiserver/internal/logging"
	"github.com/istudybucket/apiserver/types"
)

// MaxCommentLength is counted in characters, not bytes.
const MaxCommentLength = 4000

// CommentService encapsulates comment use-cases.
type CommentService struct {
	uow    UnitOfWork
	logger logging.Logger
}

func NewCommentService(uow UnitOfWork, logger logging.Logger) *CommentService {
	return &CommentService{uow: uow, logger: logger}
}

// Add records a comment by authorID on postID.
func (s *CommentService) Add(ctx context.Context, postID, authorID int, body string) (types.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return types.Comment{}, fmt.Errorf("%w: comment body is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(body) > MaxCommentLength {
		return types.Comment{}, fmt.Errorf("%w: comment exceeds %d characters", ErrInvalidInput, MaxCommentLength)
	}

	var comment types.Comment
	err := s.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		if _, err := repos.Posts.Get(ctx, postID); err != nil {
			return err
		}
		if _, err := repos.Users.GetByID(ctx, authorID); err != nil {
			return err
		}
		var err error
		comment, err = repos.Comments.Create(ctx, types.Comment{
			PostID:   postID,
			AuthorID: authorID,
			Body:     body,
		})
		return err
	})
	if err != nil {
		return types.Comment{}, translateNotFound(err)
	}

	s.logger.Info(ctx, "comment added", "comment_id", comment.ID, "post_id", postID, "author_id", authorID)
	return comment, nil
}

// ListByPost returns every comment on postID, oldest first.
func (s *CommentService) ListByPost(ctx context.Context, postID int) ([]types.Comment, error) {
	var comments []types.Comment
	err := s.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		if _, err := repos.Posts.Get(ctx, postID); err != nil {
			return err
		}
		var err error
		comments, err = repos.Comments.ListByPost(ctx, postID)
		return err
	})
	if err != nil {
		return nil, translateNotFound(err)
	}
	return comments, nil
}

// ListByPostAndAuthor returns the comments authorID left on postID.
func (s *CommentService) ListByPostAndAuthor(ctx context.Context, postID, authorID int) ([]types.Comment, error) {
	var comments []types.Comment
	err := s.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		if _, err := repos.Posts.Get(ctx, postID); err != nil {
			return err
		}
		if _, err := repos.Users.GetByID(ctx, authorID); err != nil {
			return err
		}
		var err error
		comments, err = repos.Comments.ListByPostAndAuthor(ctx, postID, authorID)
		return err
	})
	if err != nil {
		return nil, translateNotFound(err)
	}
	return comments, nil
}
