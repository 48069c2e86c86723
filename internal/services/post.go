package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/istudybucket/apiserver/internal/logging"
	"github.com/istudybucket/apiserver/internal/storage"
	"github.com/istudybucket/apiserver/internal/store"
	"github.com/istudybucket/apiserver/types"
)

const (
	MaxPostTitleLength = 200
	MaxPostBodyLength  = 20000
)

// ObjectStore is the object storage the post service keeps attachments in.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// CreatePostInput carries the fields of a new post.
type CreatePostInput struct {
	AuthorID   int
	Title      string
	Body       string
	Attachment *AttachmentUpload
}

// PostService encapsulates post use-cases.
type PostService struct {
	uow     UnitOfWork
	objects ObjectStore
	logger  logging.Logger
}

// NewPostService builds a PostService. objects may be nil, in which case
// posts cannot carry attachments.
func NewPostService(uow UnitOfWork, objects ObjectStore, logger logging.Logger) *PostService {
	return &PostService{uow: uow, objects: objects, logger: logger}
}

func (s *PostService) List(ctx context.Context, offset, limit int) ([]types.Post, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var (
		posts []types.Post
		total int
	)
	err := s.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		posts, total, err = repos.Posts.List(ctx, offset, limit)
		return err
	})
	return posts, total, err
}

func (s *PostService) Get(ctx context.Context, id int) (types.Post, error) {
	var post types.Post
	err := s.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		post, err = repos.Posts.Get(ctx, id)
		return err
	})
	if err != nil {
		return types.Post{}, translateNotFound(err)
	}
	return post, nil
}

// Create stores a post. An attachment is uploaded first and removed again
// if the post cannot be recorded.
func (s *PostService) Create(ctx context.Context, in CreatePostInput) (types.Post, error) {
	title := strings.TrimSpace(in.Title)
	body := strings.TrimSpace(in.Body)
	switch {
	case title == "":
		return types.Post{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	case utf8.RuneCountInString(title) > MaxPostTitleLength:
		return types.Post{}, fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, MaxPostTitleLength)
	case utf8.RuneCountInString(body) > MaxPostBodyLength:
		return types.Post{}, fmt.Errorf("%w: body exceeds %d characters", ErrInvalidInput, MaxPostBodyLength)
	}

	post := types.Post{AuthorID: in.AuthorID, Title: title, Body: body}

	if in.Attachment != nil {
		if s.objects == nil {
			return types.Post{}, ErrAttachmentsDisabled
		}
		attachment, err := s.upload(ctx, *in.Attachment)
		if err != nil {
			return types.Post{}, err
		}
		post.Attachment = &attachment
	}

	var created types.Post
	err := s.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		if _, err := repos.Users.GetByID(ctx, in.AuthorID); err != nil {
			return err
		}
		var err error
		created, err = repos.Posts.Create(ctx, post)
		return err
	})
	if err != nil {
		if post.Attachment != nil {
			if delErr := s.objects.Delete(context.WithoutCancel(ctx), post.Attachment.ObjectKey); delErr != nil {
				s.logger.Warn(ctx, "orphaned attachment", "object_key", post.Attachment.ObjectKey, "error", delErr)
			}
		}
		return types.Post{}, translateNotFound(err)
	}

	s.logger.Info(ctx, "post created", "post_id", created.ID, "author_id", created.AuthorID)
	return created, nil
}

// OpenAttachment streams the attachment of a post. The caller closes the
// reader.
func (s *PostService) OpenAttachment(ctx context.Context, postID int) (io.ReadCloser, types.Attachment, error) {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return nil, types.Attachment{}, err
	}
	if post.Attachment == nil || s.objects == nil {
		return nil, types.Attachment{}, ErrNotFound
	}

	r, err := s.objects.Get(ctx, post.Attachment.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, types.Attachment{}, ErrNotFound
		}
		return nil, types.Attachment{}, err
	}
	return r, *post.Attachment, nil
}

func (s *PostService) upload(ctx context.Context, upload AttachmentUpload) (types.Attachment, error) {
	filename, err := validateAttachment(upload)
	if err != nil {
		return types.Attachment{}, err
	}

	contentType := strings.TrimSpace(upload.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(upload.Data)
	}

	attachment := types.Attachment{
		ObjectKey:   attachmentKey(filename),
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(upload.Data)),
		SHA256:      attachmentChecksum(upload.Data),
	}
	if err := s.objects.Put(ctx, attachment.ObjectKey, bytes.NewReader(upload.Data), attachment.Size, contentType); err != nil {
		return types.Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}
	return attachment, nil
}

func translateNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
