package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"machine/internal/authkey"
	"machine/internal/ingress"
	"machine/internal/logging"
	"machine/internal/machine"
	"machine/internal/tasks"
)

// TaskReader is the read side of the task store.
type TaskReader interface {
	Get(ctx context.Context, key tasks.Key) (*tasks.Task, error)
	List(ctx context.Context, statuses ...tasks.Status) ([]*tasks.Task, error)
	Ping(ctx context.Context) error
}

// WorkerView exposes the worker's read-only status.
type WorkerView interface {
	Type() string
	Status() machine.StatusSummary
}

// Ingress runs requests through the same handlers the bus uses.
type Ingress interface {
	Produce(ctx context.Context, req ingress.ProduceRequest) (ingress.ProduceResult, error)
	Cancel(ctx context.Context, req ingress.CancelRequest) (machine.CancelResult, error)
	Keys() *authkey.Store
}

// BusHealth reports broker connectivity.
type BusHealth interface {
	Health(ctx context.Context) error
}

// Deps groups the collaborators the server reads from.
type Deps struct {
	Store   TaskReader
	Worker  WorkerView
	Ingress Ingress
	Bus     BusHealth
}

const (
	requestTimeout = 30 * time.Second
	healthTimeout  = 2 * time.Second
	shutdownGrace  = 5 * time.Second
	maxBodyBytes   = 1 << 20
)

// Server is the machine HTTP API server.
type Server struct {
	bind   string
	token  string
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// NewServer creates a server bound to bind. token enables bearer auth when
// non-empty.
func NewServer(bind, token string, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		bind:   strings.TrimSpace(bind),
		token:  strings.TrimSpace(token),
		deps:   deps,
		logger: logging.NewComponentLogger(logger, "api-server"),
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/machine/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.token))
		r.Get("/machine/status", s.handleStatus)
		r.Get("/machine/tasks", s.handleTasks)
		r.Get("/machine/tasks/{id}", s.handleTask)
		r.Post("/machine/tasks/{id}/cancel", s.handleCancel)
		r.Post("/machine/produce", s.handleProduce)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Start listens on the configured address and serves until ctx is done or
// Stop is called. An empty bind disables the server.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check paths.api_bind"),
			)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.token != ""),
	)
	return nil
}

// Stop shuts the server down. It is safe to call more than once.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// Addr returns the bound listener address, or "" when not listening.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
