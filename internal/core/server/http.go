// Package server hosts the LeadFlow HTTP API: router assembly, request
// logging, health checks, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fieldstone/leadflow/internal/core/api"
	"github.com/fieldstone/leadflow/internal/core/auth"
	"github.com/fieldstone/leadflow/internal/core/config"
)

// Server wraps the HTTP listener for the routing API.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// New assembles the router: health unauthenticated, everything under /v1
// behind the API-key middleware, all requests logged.
func New(cfg *config.ServerConfig, handler *api.Handler, authn *auth.Authenticator, log *zap.Logger) *Server {
	root := mux.NewRouter()
	root.Use(loggingMiddleware(log))
	root.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)

	apiRouter := root.PathPrefix("/").Subrouter()
	apiRouter.Use(authn.Middleware)
	handler.Register(apiRouter)

	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      root,
			ReadTimeout:  cfg.RequestTimeout,
			WriteTimeout: cfg.RequestTimeout,
			IdleTimeout:  120 * time.Second,
		},
		log: log,
	}
}

// Start begins serving in a goroutine. Listener errors other than a normal
// close are reported on the returned channel.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
	return errc
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs all HTTP requests with method, path, status, and
// duration.
func loggingMiddleware(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("remote_addr", r.RemoteAddr),
			}
			switch {
			case wrapped.statusCode >= 500:
				log.Error("http request completed", fields...)
			case wrapped.statusCode >= 400:
				log.Warn("http request completed", fields...)
			default:
				log.Info("http request completed", fields...)
			}
		})
	}
}
