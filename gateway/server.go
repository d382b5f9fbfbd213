package gateway

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/health"
)

// HTTPHandler is anything that mounts routes on the shared mux
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}

// Server owns the HTTP listener shared by every handler of a binary
type Server struct {
	addr   string
	mux    *http.ServeMux
	logger *slog.Logger

	tlsConfig *tls.Config

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithTLS serves HTTPS with cfg; a nil cfg keeps plain HTTP
func WithTLS(cfg *tls.Config) ServerOption {
	return func(s *Server) {
		s.tlsConfig = cfg
	}
}

// NewServer returns a server that will listen on addr once started
func NewServer(addr string, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:   addr,
		mux:    http.NewServeMux(),
		logger: logger.With("component", "http"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts h under prefix
func (s *Server) Register(prefix string, h HTTPHandler) {
	h.RegisterHTTPHandlers(prefix, s.mux)
}

// Handler returns the mux, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(fmt.Errorf("server already started"), "gateway", "Start", "start server")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(err, "gateway", "Start", "listen on "+s.addr)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	server := s.server
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "tls", s.tlsConfig != nil)
	return nil
}

// Addr is the bound address, or the configured one before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down gracefully within timeout
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed",
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return errors.Wrap(err, "gateway", "Stop", "shutdown server")
	}
	s.logger.Debug("HTTP server shutdown completed", "duration_ms", time.Since(start).Milliseconds())

	s.server = nil
	s.listener = nil
	return nil
}

// System serves /health and /metrics
type System struct {
	Name    string
	Monitor *health.Monitor
	Metrics http.Handler
	Logger  *slog.Logger
}

// RegisterHTTPHandlers implements HTTPHandler
func (s *System) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = normalizePrefix(prefix)
	mux.HandleFunc(prefix+"health", s.handleHealth)
	if s.Metrics != nil {
		mux.Handle(prefix+"metrics", s.Metrics)
	}
}

func (s *System) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := health.NewHealthy(s.Name, "no components registered")
	if s.Monitor != nil && s.Monitor.Count() > 0 {
		status = s.Monitor.AggregateHealth(s.Name)
	}

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status, s.Logger)
}

func normalizePrefix(prefix string) string {
	if prefix == "" || prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return prefix
}

// requestID reuses X-Request-ID or makes a fresh one
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && logger != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// ErrorResponse is the body of every non-2xx JSON reply
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	writeJSON(w, status, ErrorResponse{Error: msg, Status: status}, logger)
}
