// Package frontend serves the REST API and the chat websocket.
package frontend

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"

	"github.com/baobabted/AI-Coding-Tutor/internal/auth"
	"github.com/baobabted/AI-Coding-Tutor/internal/config"
	"github.com/baobabted/AI-Coding-Tutor/internal/logger"
	"github.com/baobabted/AI-Coding-Tutor/internal/service/chat"
	"github.com/baobabted/AI-Coding-Tutor/internal/store"
	"github.com/baobabted/AI-Coding-Tutor/internal/upload"
)

// Server is the HTTP server for the chat backend.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	uploads  *upload.Service
	chat     *chat.Service
	verifier *auth.Verifier

	httpServer *http.Server
	listener   net.Listener
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithListener sets a pre-bound listener, used by tests to avoid port races.
func WithListener(l net.Listener) ServerOption {
	return func(s *Server) {
		s.listener = l
	}
}

// NewServer wires the HTTP server from its services.
func NewServer(cfg *config.Config, st *store.Store, uploads *upload.Service, chatSvc *chat.Service, opts ...ServerOption) *Server {
	srv := &Server{
		cfg:      cfg,
		store:    st,
		uploads:  uploads,
		chat:     chatSvc,
		verifier: auth.NewVerifier(cfg.Auth.JWTSecret),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Serve starts the server and blocks until the context is cancelled or a
// shutdown signal arrives.
func (srv *Server) Serve(ctx context.Context) error {
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             srv.cfg.Log.Format == "json",
		Concise:          true,
		MessageFieldName: "msg",
	})

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   srv.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	srv.setupRoutes(r)

	srv.httpServer = &http.Server{
		Handler:           r,
		Addr:              srv.cfg.Server.Addr(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info(ctx, "Server is starting", "addr", srv.httpServer.Addr)
	go srv.startServer(ctx)

	srv.waitForShutdown(ctx)
	return nil
}

func (srv *Server) setupRoutes(r *chi.Mux) {
	r.Route("/api", func(r chi.Router) {
		r.Use(srv.requireUser)

		r.Route("/chat", func(r chi.Router) {
			r.Get("/sessions", srv.handleListSessions)
			r.Get("/sessions/{sessionID}/messages", srv.handleSessionMessages)
			r.Delete("/sessions/{sessionID}", srv.handleDeleteSession)
			r.Get("/usage", srv.handleUsage)
		})

		r.Route("/upload", func(r chi.Router) {
			r.Post("/", srv.handleUpload)
			r.Get("/{uploadID}/content", srv.handleUploadContent)
			r.Delete("/{uploadID}", srv.handleDeleteUpload)
		})
	})

	r.Get("/ws/chat", srv.handleChatSocket)
}

func (srv *Server) startServer(ctx context.Context) {
	var err error
	if srv.listener != nil {
		err = srv.httpServer.Serve(srv.listener)
	} else {
		err = srv.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logger.Error(ctx, "Server failed", "err", err)
	}
}

// waitForShutdown blocks until cancellation or SIGINT/SIGTERM, then drains
// in-flight requests.
func (srv *Server) waitForShutdown(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		logger.Info(ctx, "Context done, shutting down server")
	case sig := <-quit:
		logger.Info(ctx, "Received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv.httpServer.SetKeepAlivesEnabled(false)
	if err := srv.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Failed to shutdown server gracefully", "err", err)
	}
}
