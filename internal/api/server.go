// Package api serves the AccessLens HTTP interface: finding list, detail
// and actions, tenant recompute, health and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/accesslens/accesslens/internal/config"
	"github.com/accesslens/accesslens/internal/telemetry"
	"github.com/accesslens/accesslens/internal/triage"
)

// Pinger reports backing-store health for GET /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the API serves.
type Deps struct {
	Service        *triage.Service
	Health         Pinger
	Metrics        *telemetry.Metrics
	TracerProvider trace.TracerProvider
	Version        string
}

// NewHandler returns the full middleware-wrapped handler.
func NewHandler(deps Deps, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{svc: deps.Service, logger: logger}

	mux := http.NewServeMux()
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, instrument(deps.Metrics, pattern, fn))
	}
	route("GET /v1/findings", h.listFindings)
	route("GET /v1/findings/{id}", h.getFinding)
	route("POST /v1/findings/{id}/actions", h.applyAction)
	route("POST /v1/risk/recompute", h.recompute)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health.Ping(ctx); err != nil {
				logger.Warn("health check failed", "error", err)
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, map[string]string{
			"status":  status,
			"version": deps.Version,
		})
	})
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = securityHeaders(handler)
	handler = logging(logger)(handler)
	handler = recovery(logger)(handler)
	handler = requestID(handler)

	tp := deps.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return otelhttp.NewHandler(handler, "accesslens.api",
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// instrument records request counts and latency per route pattern.
func instrument(m *telemetry.Metrics, pattern string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		m.ObserveHTTP(pattern, sw.status, time.Since(start))
	})
}

// Server is the AccessLens HTTP server.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	port   int
	logger *slog.Logger
}

// NewServer binds the configured address and wires the handler.
func NewServer(cfg config.ServerConfig, deps Deps, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// Bind to 127.0.0.1 by default (localhost only).
	bind := cfg.Bind
	if bind == "" {
		bind = "127.0.0.1"
	}

	ln, port, err := listenAutoPort(bind, cfg.Port, logger)
	if err != nil {
		return nil, fmt.Errorf("binding port: %w", err)
	}

	srv := &http.Server{
		Handler:        NewHandler(deps, logger),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}
	return &Server{srv: srv, ln: ln, port: port, logger: logger}, nil
}

// listenAutoPort tries the configured port; if busy, scans up to 10 higher ports.
func listenAutoPort(bind string, port int, logger *slog.Logger) (net.Listener, int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(bind, strconv.Itoa(port)))
	if err == nil {
		// Port 0 asks the OS to pick one.
		return ln, ln.Addr().(*net.TCPAddr).Port, nil
	}
	if !isAddrInUse(err) {
		return nil, 0, err
	}

	logger.Warn("port in use, searching for available port", "port", port)
	for offset := 1; offset <= 10; offset++ {
		try := port + offset
		ln, err = net.Listen("tcp", net.JoinHostPort(bind, strconv.Itoa(try)))
		if err == nil {
			logger.Info("using alternative port", "original", port, "actual", try)
			return ln, try, nil
		}
	}
	return nil, 0, fmt.Errorf("port %d and next 10 ports are all in use", port)
}

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.EADDRINUSE)
}

// Port returns the port the server is bound to.
func (s *Server) Port() int { return s.port }

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("accesslens api starting", "addr", s.ln.Addr().String())
	return s.srv.Serve(s.ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	return s.srv.Shutdown(ctx)
}
