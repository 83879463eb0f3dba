package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pobradovic08/appserver/internal/tlsutil"
)

// Server is the public HTTP server.
type Server struct {
	httpServer *http.Server
	tls        bool
}

// ServerDeps holds the dependencies injected into the HTTP server.
type ServerDeps struct {
	Handler      http.Handler
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// CertLoader enables HTTPS when set.
	CertLoader *tlsutil.CertificateLoader
}

// NewServer wraps deps.Handler in the middleware stack and prepares the
// http.Server. Nothing listens until Start or Serve is called.
func NewServer(deps ServerDeps) *Server {
	s := &Server{}

	handler := withPanicRecovery(deps.Handler)
	handler = withLogging(handler)
	handler = withRequestID(handler)

	s.httpServer = &http.Server{
		Addr:              deps.ListenAddr,
		Handler:           handler,
		ReadTimeout:       deps.ReadTimeout,
		ReadHeaderTimeout: deps.ReadTimeout,
		WriteTimeout:      deps.WriteTimeout,
		IdleTimeout:       deps.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}
	if deps.CertLoader != nil {
		s.httpServer.TLSConfig = tlsutil.NewServerTLSConfig(deps.CertLoader)
		s.tls = true
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("HTTP listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis. It returns nil after a clean Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("starting HTTP server", "addr", lis.Addr().String(), "tls", s.tls)
	if s.tls {
		lis = tls.NewListener(lis, s.httpServer.TLSConfig)
	}
	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type requestIDKey struct{}

// RequestIDFromContext returns the request id assigned by the server, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Middleware: request id. A well-formed incoming X-Request-ID is kept so
// ids stay stable across a proxy chain.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// Middleware: structured logging
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.LogAttrs(r.Context(), slog.LevelInfo, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("request_id", RequestIDFromContext(r.Context())),
		)
	})
}

// Middleware: panic recovery
func withPanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				slog.Error("panic recovered in HTTP handler",
					"error", err,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
				)
				WriteProblem(w, http.StatusInternalServerError,
					"An unexpected error occurred. Please try again later.")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
