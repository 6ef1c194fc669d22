package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/school-attendance/internal/attendance"
	"github.com/kozaktomas/school-attendance/internal/config"
	"github.com/kozaktomas/school-attendance/internal/constants"
	"github.com/kozaktomas/school-attendance/internal/enrollment"
	"github.com/kozaktomas/school-attendance/internal/scan"
	"github.com/kozaktomas/school-attendance/internal/web/handlers"
	"github.com/kozaktomas/school-attendance/internal/web/middleware"
)

// Services are the domain components the server exposes.
type Services struct {
	Resolver   *scan.Resolver
	Attendance *attendance.StateMachine
	Enrollment *enrollment.Manager
	DB         handlers.Pinger
}

// Options configure the HTTP listener.
type Options struct {
	Port           int
	Host           string
	AllowedOrigins string
}

// Server represents the web server
type Server struct {
	config     *config.Config
	services   Services
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, services Services, opts Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		services: services,
		router:   r,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(constants.RequestTimeout))
	r.Use(middleware.CORS(middleware.ParseAllowedOrigins(opts.AllowedOrigins)))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: constants.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, then waits for in-flight requests and
// for notifications and background enrollments they started.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	done := make(chan struct{})
	go func() {
		if s.services.Attendance != nil {
			s.services.Attendance.Wait()
		}
		if s.services.Enrollment != nil {
			s.services.Enrollment.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background work: %w", ctx.Err())
	}
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
