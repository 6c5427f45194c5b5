package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/lucasew/easysave/internal/httputil"
	"github.com/lucasew/easysave/internal/version"
)

// securityHeadersMiddleware adds common security headers to each response.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

type HttpServer struct {
	api            *API
	events         *EventServer
	authMiddleware *AuthMiddleware
	logger         *slog.Logger
	srv            *http.Server
}

func NewHttpServer(api *API, events *EventServer, authMiddleware *AuthMiddleware, logger *slog.Logger) *HttpServer {
	s := &HttpServer{
		api:            api,
		events:         events,
		authMiddleware: authMiddleware,
		logger:         logger,
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler. Exposed so tests can mount it on
// httptest.
func (s *HttpServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	auth := s.authMiddleware.RequireToken
	mux.HandleFunc("GET /api/status", auth(s.api.HandleStatus))
	mux.HandleFunc("GET /api/containers", auth(s.api.HandleListContainers))
	mux.HandleFunc("GET /api/containers/{container}/files", auth(s.api.HandleListFiles))

	const file = "/api/containers/{container}/files/{file}"
	mux.HandleFunc("PUT "+file, auth(s.api.HandlePut))
	mux.HandleFunc("GET "+file, auth(s.api.HandleGet))
	mux.HandleFunc("HEAD "+file, auth(s.api.HandleHead))
	mux.HandleFunc("DELETE "+file, auth(s.api.HandleDelete))

	mux.HandleFunc("GET /api/events", auth(s.events.HandleSSE))
	mux.HandleFunc("GET /api/events/ws", auth(s.events.HandleWebSocket))

	return securityHeadersMiddleware(mux)
}

func (s *HttpServer) Serve(l net.Listener) error {
	return s.srv.Serve(l)
}

func (s *HttpServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *HttpServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}

func (s *HttpServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteText(w, http.StatusOK, "easysave "+version.Get())
}
