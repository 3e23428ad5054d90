package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rhuss/parley/pkg/chatctx"
	"github.com/rhuss/parley/pkg/transport"
)

// Server runs the adapter and manages graceful shutdown.
type Server struct {
	httpServer *http.Server
	adapter    *Adapter
	inflight   *transport.InFlight
	config     ServerConfig
	logger     *slog.Logger
}

// ServerConfig holds the listener and adapter settings.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Adapter         Config
	Logger          *slog.Logger
}

// DefaultServerConfig returns the defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    300 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Adapter:         DefaultConfig(),
		Logger:          slog.Default(),
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.config.Addr = addr }
}

// WithTimeouts sets the read and write timeouts of the listener.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		if read > 0 {
			s.config.ReadTimeout = read
		}
		if write > 0 {
			s.config.WriteTimeout = write
		}
	}
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithAdapterConfig sets the adapter configuration.
func WithAdapterConfig(cfg Config) ServerOption {
	return func(s *Server) { s.config.Adapter = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.config.Logger = l; s.logger = l }
}

// NewServer creates a server for handler. Recovery, request id, logging,
// and in-flight tracking are applied to the handler. httpMiddleware wraps
// the HTTP handler, outermost first.
func NewServer(handler transport.Handler, resolver *chatctx.Resolver, streams http.Handler, httpMiddleware []func(http.Handler) http.Handler, opts ...ServerOption) *Server {
	s := &Server{
		config:   DefaultServerConfig(),
		logger:   slog.Default(),
		inflight: transport.NewInFlight(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.adapter = NewAdapter(handler, resolver, streams, s.config.Adapter,
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(s.logger),
		transport.Track(s.inflight),
	)

	var h http.Handler = s.adapter.Handler()
	for i := len(httpMiddleware) - 1; i >= 0; i-- {
		h = httpMiddleware[i](h)
	}

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      h,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s
}

// Adapter returns the adapter, for registering extra routes before
// serving.
func (s *Server) Adapter() *Adapter { return s.adapter }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}
	return s.shutdown()
}

// shutdown waits for running requests until the deadline, then cancels
// the rest.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	err := s.httpServer.Shutdown(ctx)
	if n := s.inflight.CancelAll(); n > 0 {
		s.logger.Warn("cancelled running requests", slog.Int("count", n))
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
