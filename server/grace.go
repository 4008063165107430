package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// ShutdownTimeout bounds how long in-flight streams may keep the process alive.
const ShutdownTimeout = 30 * time.Second

// Server wraps http.Server with an optional connection cap and context driven shutdown.
type Server struct {
	*http.Server
	maxConns int
	logger   *zap.Logger
}

// NewServer builds a server. WriteTimeout stays zero: a stream may legitimately run for hours.
func NewServer(addr string, handler http.Handler, maxConns int, logger *zap.Logger) *Server {
	return &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		maxConns: maxConns,
		logger:   logger,
	}
}

// Listen opens the TCP listener, capped at maxConns concurrent connections when set.
func (srv *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	if srv.maxConns > 0 {
		ln = netutil.LimitListener(ln, srv.maxConns)
	}
	return ln, nil
}

// Run serves on ln until ctx is cancelled, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	srv.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	srv.logger.Info("HTTP server shutdown success")
	return nil
}
