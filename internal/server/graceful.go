// Package server runs the HTTP API with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultShutdownTimeout bounds how long a draining server waits for
// in-flight requests before closing their connections.
const DefaultShutdownTimeout = 30 * time.Second

// Graceful wraps an http.Server with context-driven shutdown. Run blocks
// until the context is cancelled, then drains in-flight requests before
// returning.
type Graceful struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu   sync.Mutex
	addr string
}

// NewGraceful wraps srv. A zero shutdownTimeout uses DefaultShutdownTimeout.
func NewGraceful(srv *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) *Graceful {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Graceful{
		srv:             srv,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// Addr returns the bound listen address once Run has started listening.
// Useful when the server was configured with port 0.
func (g *Graceful) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Run listens on the server's configured address and serves until ctx is
// cancelled. It returns nil after a clean drain, otherwise the listen,
// serve, or shutdown error.
func (g *Graceful) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.srv.Addr, err)
	}

	g.mu.Lock()
	g.addr = ln.Addr().String()
	g.mu.Unlock()

	g.logger.Info("http server listening", "addr", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		err := g.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	g.logger.Info("http server draining", "timeout", g.shutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
	defer cancel()
	if err := g.srv.Shutdown(shutdownCtx); err != nil {
		// Drain deadline hit. Close the remaining connections so Serve
		// returns instead of hanging.
		g.srv.Close()
		return fmt.Errorf("shutdown incomplete: %w", err)
	}
	return <-serveErr
}
