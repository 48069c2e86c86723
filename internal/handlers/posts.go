package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/istudybucket/apiserver/internal/logging"
	"github.com/istudybucket/apiserver/internal/services"
	"github.com/istudybucket/apiserver/types"
)

const (
	defaultPage          = 1
	defaultLimit         = 20
	maxLimit             = 100
	maxMultipartMemory   = 32 << 20
	formFieldTitle       = "title"
	formFieldBody        = "body"
	formFieldAttachment  = "attachment"
	postIDParam          = "postID"
	attachmentCacheValue = "private, max-age=300"
)

// PostHandler provides HTTP handlers for posts.
type PostHandler struct {
	postService *services.PostService
	logger      logging.Logger
}

// NewPostHandler constructs a handler with the provided service.
func NewPostHandler(postService *services.PostService, logger logging.Logger) *PostHandler {
	return &PostHandler{
		postService: postService,
		logger:      logger,
	}
}

// PostRouter registers post routes on the given router. Comment routes are
// mounted under each post.
func PostRouter(
	r chi.Router,
	handler *PostHandler,
	comments *CommentHandler,
	authMiddleware func(http.Handler) http.Handler,
) {
	r.Get("/", handler.ListPosts)
	r.With(authMiddleware).Post("/", handler.CreatePost)
	r.Route("/{postID}", func(r chi.Router) {
		r.Get("/", handler.GetPost)
		r.Get("/attachment", handler.DownloadAttachment)
		r.Route("/comments", func(r chi.Router) {
			CommentRouter(r, comments, authMiddleware)
		})
	})
}

func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.postService.List(r.Context(), offset, limit)
	if err != nil {
		h.logger.Error(r.Context(), "list posts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}

	writeJSON(w, http.StatusOK, PostListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, postIDParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	post, err := h.postService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		h.logger.Error(r.Context(), "get post failed", "post_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch post")
		return
	}

	writeJSON(w, http.StatusOK, post)
}

func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	authorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, err := parsePostForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.postService.Create(r.Context(), services.CreatePostInput{
		AuthorID:   authorID,
		Title:      req.Title,
		Body:       req.Body,
		Attachment: req.Attachment,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrAttachmentsDisabled):
			writeError(w, http.StatusBadRequest, "attachments are not enabled")
		case errors.Is(err, services.ErrNotFound):
			writeError(w, http.StatusUnauthorized, "unauthorized")
		default:
			h.logger.Error(r.Context(), "create post failed", "author_id", authorID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to create post")
		}
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *PostHandler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, postIDParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	body, attachment, err := h.postService.OpenAttachment(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "attachment not found")
			return
		}
		h.logger.Error(r.Context(), "open attachment failed", "post_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch attachment")
		return
	}
	defer body.Close()

	contentType := attachment.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment.Filename))
	w.Header().Set("Cache-Control", attachmentCacheValue)
	if attachment.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(attachment.Size, 10))
	}
	if attachment.SHA256 != "" {
		w.Header().Set("ETag", strconv.Quote(attachment.SHA256))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn(r.Context(), "attachment stream interrupted", "post_id", id, "error", err)
	}
}

// PostCreateRequest represents the parsed multipart form payload.
type PostCreateRequest struct {
	Title      string
	Body       string
	Attachment *services.AttachmentUpload
}

// PostListResponse is the paginated list response payload.
type PostListResponse struct {
	Items []types.Post `json:"items"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
	Total int          `json:"total"`
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, 0, errors.New("invalid page")
		}
	}

	rawLimit := strings.TrimSpace(r.URL.Query().Get("limit"))
	if rawLimit == "" {
		rawLimit = strings.TrimSpace(r.URL.Query().Get("per_page"))
	}
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			return 0, 0, 0, errors.New("invalid limit")
		}
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	offset = (page - 1) * limit
	return page, limit, offset, nil
}

func parsePostForm(w http.ResponseWriter, r *http.Request) (PostCreateRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxAttachmentBytes+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return PostCreateRequest{}, errors.New("invalid multipart form")
	}

	title := strings.TrimSpace(r.FormValue(formFieldTitle))
	if title == "" {
		return PostCreateRequest{}, errors.New("title is required")
	}

	attachment, err := parseAttachmentFile(r.MultipartForm)
	if err != nil {
		return PostCreateRequest{}, err
	}

	return PostCreateRequest{
		Title:      title,
		Body:       strings.TrimSpace(r.FormValue(formFieldBody)),
		Attachment: attachment,
	}, nil
}

func parseAttachmentFile(form *multipart.Form) (*services.AttachmentUpload, error) {
	if form == nil {
		return nil, nil
	}

	files := form.File[formFieldAttachment]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, errors.New("only one attachment is allowed")
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}

	data, err := readFileLimited(file, services.MaxAttachmentBytes)
	_ = file.Close()
	if err != nil {
		return nil, err
	}

	return &services.AttachmentUpload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
