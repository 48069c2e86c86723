package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/istudybucket/apiserver/config"
	"github.com/istudybucket/apiserver/internal/auth"
	"github.com/istudybucket/apiserver/internal/db"
	"github.com/istudybucket/apiserver/internal/handlers"
	"github.com/istudybucket/apiserver/internal/logging"
	"github.com/istudybucket/apiserver/internal/mq"
	"github.com/istudybucket/apiserver/internal/notify"
	"github.com/istudybucket/apiserver/internal/services"
	"github.com/istudybucket/apiserver/internal/storage"
	"github.com/istudybucket/apiserver/internal/store"
)

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	queue      *mq.MQ
	logger     logging.Logger
}

type options struct {
	notifier notify.Notifier
	logger   logging.Logger
}

// Option customizes New.
type Option func(*options)

// WithNotifier replaces the notifier built from the MQ configuration.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithLogger replaces the logger built from the log configuration.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Server, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	sessions, err := auth.NewSessionIssuer(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return nil, fmt.Errorf("session issuer: %w", err)
	}

	s := &Server{logger: logger}

	var (
		uow    services.UnitOfWork
		pinger handlers.Pinger
	)
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres, "":
		dbConn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.db = dbConn
		uow = services.NewSQLUnitOfWork(dbConn)
		pinger = dbConn
	case config.StoreBackendMemory:
		logger.Warn(ctx, "using in-memory store, data is lost on restart")
		uow = services.NewMemoryUnitOfWork(store.NewMemoryStore())
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	notifier := o.notifier
	if notifier == nil {
		queue, err := mq.NewFromConfig(ctx, cfg.MQ)
		if err != nil {
			s.close()
			return nil, err
		}
		if queue != nil {
			s.queue = queue
			notifier = notify.NewQueueNotifier(queue)
		} else {
			logger.Warn(ctx, "no message queue configured, verification links are only logged")
			notifier = notify.NewLogNotifier(logger)
		}
	}

	objectStorage, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		s.close()
		return nil, err
	}
	var objects services.ObjectStore
	if objectStorage != nil {
		objects = objectStorage
	}

	authService := services.NewAuthService(
		uow,
		auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		sessions,
		services.NewVerificationService(cfg.Auth.VerificationTTL),
		notifier,
		logger,
	)
	postService := services.NewPostService(uow, objects, logger)
	commentService := services.NewCommentService(uow, logger)

	authHandler := handlers.NewAuthHandler(authService, sessions, logger)
	postHandler := handlers.NewPostHandler(postService, logger)
	commentHandler := handlers.NewCommentHandler(commentService, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz(pinger))
	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, authHandler)
		})
		r.Route("/posts", func(r chi.Router) {
			handlers.PostRouter(r, postHandler, commentHandler, authHandler.RequireAuth)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx is
// done, then releases the database and broker connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Warn(context.Background(), "close message queue", "error", err)
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
