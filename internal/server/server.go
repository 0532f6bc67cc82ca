package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jjudge-oj/authserver/config"
	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/db"
	"github.com/jjudge-oj/authserver/internal/handlers"
	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/jjudge-oj/authserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.MQ
	logger     *slog.Logger
}

// New wires the store, event publisher, token codec and routes from cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{logger: logger}

	repo, err := s.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	codec, err := auth.NewCodec(auth.Keys{
		AccessSecret:  []byte(cfg.Token.AccessSecret),
		RefreshSecret: []byte(cfg.Token.RefreshSecret),
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
	})
	if err != nil {
		s.closeResources()
		return nil, err
	}

	opts := []services.Option{services.WithLogger(logger)}
	s.queue, err = mq.Open(ctx, cfg.MQ)
	if err != nil {
		s.closeResources()
		return nil, err
	}
	if s.queue != nil {
		opts = append(opts, services.WithEvents(mq.NewUserEvents(s.queue, cfg.MQ.UserEvents)))
		logger.Info("publishing user events", slog.String("backend", cfg.MQ.Backend), slog.String("channel", cfg.MQ.UserEvents))
	}

	userService := services.NewUserService(repo, auth.NewHasher(cfg.BcryptCost), codec, opts...)

	s.router = newRouter(cfg, userService, codec, logger)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func newRouter(cfg config.Config, users *services.UserService, codec *auth.Codec, logger *slog.Logger) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}),
	)
	router.NotFound(handlers.NotFound)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api", func(r chi.Router) {
		handlers.UserRouter(r, users, codec, logger)
	})
	return router
}

func (s *Server) openStore(ctx context.Context, cfg config.Config) (services.UserRepository, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		s.logger.Warn("using in-memory user store; accounts are lost on restart")
		return store.NewMemoryUserRepository(), nil
	case config.StoreDriverPostgres:
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.db = conn
		return store.NewUserRepository(conn), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the broker and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.closeResources()
	return err
}

func (s *Server) closeResources() {
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Warn("close message queue", slog.Any("error", err))
		}
		s.queue = nil
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}
