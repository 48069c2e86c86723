package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/istudybucket/apiserver/internal/logging"
	"github.com/istudybucket/apiserver/internal/services"
	"github.com/istudybucket/apiserver/types"
)

const msgCommentAdded = "Comment added"

// CommentHandler provides HTTP handlers for comments on a post.
type CommentHandler struct {
	commentService *services.CommentService
	logger         logging.Logger
}

func NewCommentHandler(commentService *services.CommentService, logger logging.Logger) *CommentHandler {
	return &CommentHandler{
		commentService: commentService,
		logger:         logger,
	}
}

// CommentRouter registers comment routes on a router already scoped to
// /{postID}/comments.
func CommentRouter(r chi.Router, handler *CommentHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Get("/", handler.ListComments)
	r.With(authMiddleware).Post("/", handler.AddComment)
}

// AddComment records a comment by the authenticated user.
func (h *CommentHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	authorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	postID, err := parseIDParam(r, postIDParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	var req CommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	if _, err := h.commentService.Add(r.Context(), postID, authorID, req.Body); err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			writeError(w, http.StatusNotFound, "post not found")
		case errors.Is(err, services.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error(r.Context(), "add comment failed", "post_id", postID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to add comment")
		}
		return
	}

	writeMessage(w, http.StatusCreated, msgCommentAdded)
}

// ListComments returns the comments on a post, optionally filtered by
// author.
func (h *CommentHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	postID, err := parseIDParam(r, postIDParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	var comments []types.Comment
	if raw := strings.TrimSpace(r.URL.Query().Get("author")); raw != "" {
		authorID, convErr := strconv.Atoi(raw)
		if convErr != nil || authorID < 1 {
			writeError(w, http.StatusBadRequest, "invalid author")
			return
		}
		comments, err = h.commentService.ListByPostAndAuthor(r.Context(), postID, authorID)
	} else {
		comments, err = h.commentService.ListByPost(r.Context(), postID)
	}
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post or author not found")
			return
		}
		h.logger.Error(r.Context(), "list comments failed", "post_id", postID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list comments")
		return
	}

	writeJSON(w, http.StatusOK, CommentListResponse{Items: comments})
}

type CommentRequest struct {
	Body string `json:"body"`
}

func (r CommentRequest) Validate() error {
	r.Body = strings.TrimSpace(r.Body)
	return validation.ValidateStruct(&r,
		validation.Field(&r.Body, validation.Required, validation.Length(1, services.MaxCommentLength)),
	)
}

type CommentListResponse struct {
	Items []types.Comment `json:"items"`
}
