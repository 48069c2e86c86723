package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/istudybucket/apiserver/internal/auth"
	"github.com/istudybucket/apiserver/internal/logging"
	"github.com/istudybucket/apiserver/internal/notify"
	"github.com/istudybucket/apiserver/internal/services"
	"github.com/istudybucket/apiserver/internal/storage"
	"github.com/istudybucket/apiserver/internal/store"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type captureNotifier struct {
	mu   sync.Mutex
	msgs []notify.VerificationMessage
}

func (c *captureNotifier) NotifyVerification(ctx context.Context, msg notify.VerificationMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureNotifier) last(t *testing.T) notify.VerificationMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.msgs, "no verification message captured")
	return c.msgs[len(c.msgs)-1]
}

type testAPI struct {
	router   http.Handler
	notifier *captureNotifier
	sessions *auth.SessionIssuer
	objects  *storage.MemoryBackend
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	sessions, err := auth.NewSessionIssuer("handler-secret", time.Hour)
	require.NoError(t, err)

	logger := logging.Discard()
	uow := services.NewMemoryUnitOfWork(store.NewMemoryStore())
	notifier := &captureNotifier{}
	objects := storage.NewMemoryBackend("test")

	authService := services.NewAuthService(
		uow,
		auth.NewBcryptHasher(bcrypt.MinCost),
		sessions,
		services.NewVerificationService(time.Hour),
		notifier,
		logger,
	)
	authHandler := NewAuthHandler(authService, sessions, logger)
	postHandler := NewPostHandler(services.NewPostService(uow, objects, logger), logger)
	commentHandler := NewCommentHandler(services.NewCommentService(uow, logger), logger)

	r := chi.NewRouter()
	r.Get("/healthz", Healthz(nil))
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			AuthRouter(r, authHandler)
		})
		r.Route("/posts", func(r chi.Router) {
			PostRouter(r, postHandler, commentHandler, authHandler.RequireAuth)
		})
	})

	return &testAPI{router: r, notifier: notifier, sessions: sessions, objects: objects}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) doMultipart(t *testing.T, path string, fields map[string]string, filename string, data []byte, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile(formFieldAttachment, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// signup registers, verifies and logs in username, returning a session
// token and the user id.
func (a *testAPI) signup(t *testing.T, username string) (string, int) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/register", RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct horse battery",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	msg := a.notifier.last(t)
	rec = a.do(t, http.MethodGet, "/api/auth/verify/"+username+"?verToken="+msg.Token, nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: username, Password: "correct horse battery"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token, resp.User.ID
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
