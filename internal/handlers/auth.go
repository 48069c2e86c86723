package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/istudybucket/apiserver/internal/auth"
	"github.com/istudybucket/apiserver/internal/logging"
	"github.com/istudybucket/apiserver/internal/services"
	"github.com/istudybucket/apiserver/types"
)

const (
	msgRegistered         = "User registration successful"
	msgVerified           = "User verification successful"
	msgVerificationFailed = "User verification unsuccessful"
	msgResent             = "If the account exists and is not yet verified, a new verification link has been sent"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// TokenValidator validates session tokens presented as bearer credentials.
type TokenValidator interface {
	Validate(token string) (auth.SessionClaims, error)
}

// AuthHandler provides registration, verification and session endpoints.
type AuthHandler struct {
	authService *services.AuthService
	sessions    TokenValidator
	logger      logging.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, sessions TokenValidator, logger logging.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		sessions:    sessions,
		logger:      logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/register", handler.Register)
	r.Get("/verify/{username}", handler.Verify)
	r.Post("/verify/resend", handler.ResendVerification)
	r.Post("/login", handler.Login)
	r.With(handler.RequireAuth).Get("/me", handler.Me)
}

// RequireAuth enforces bearer authentication and injects the session claims
// into the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return RequireAuth(h.sessions)(next)
}

// RequireAuth constructs auth middleware for other routers.
func RequireAuth(sessions TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			claims, err := sessions.Validate(tokenString)
			if err != nil {
				message := "unauthorized"
				if errors.Is(err, auth.ErrTokenExpired) {
					message = "session expired"
				}
				writeError(w, http.StatusUnauthorized, message)
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// Register creates a pending account and sends its verification link.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	_, err := h.authService.Register(r.Context(), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConflict):
			writeError(w, http.StatusConflict, "username or email already registered")
		case errors.Is(err, services.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error(r.Context(), "register failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to register user")
		}
		return
	}

	writeMessage(w, http.StatusCreated, msgRegistered)
}

// Verify consumes the verification token from the query string.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	token := strings.TrimSpace(r.URL.Query().Get("verToken"))

	if err := h.authService.Verify(r.Context(), username, token); err != nil {
		if errors.Is(err, services.ErrVerificationFailed) {
			writeError(w, http.StatusBadRequest, msgVerificationFailed)
			return
		}
		h.logger.Error(r.Context(), "verify failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify user")
		return
	}

	writeMessage(w, http.StatusAccepted, msgVerified)
}

// ResendVerification issues a new verification link. The response does not
// reveal whether the account exists.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	err := h.authService.ResendVerification(r.Context(), services.ResendInput{
		Username: req.Username,
		Email:    req.Email,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error(r.Context(), "resend verification failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resend verification")
		return
	}

	writeMessage(w, http.StatusAccepted, msgResent)
}

// Login verifies credentials and returns a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	session, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "account not verified")
		default:
			h.logger.Error(r.Context(), "login failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to authenticate")
		}
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      session.User,
	})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.authService.CurrentUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.logger.Error(r.Context(), "load current user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r RegisterRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 32), validation.Match(usernamePattern)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, auth.MaxPasswordBytes)),
	)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type ResendRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (r ResendRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	if r.Username == "" && r.Email == "" {
		return validation.Errors{"username": errors.New("username or email is required")}
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Length(3, 32)),
		validation.Field(&r.Email, validation.Length(3, 254), is.Email),
	)
}

type AuthResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      types.User `json:"user"`
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
