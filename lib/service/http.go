// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const defaultShutdownTimeout = 10 * time.Second

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Address is the TCP listen address, e.g. "127.0.0.1:9470". Port 0
	// picks a free port; read it from Addr after Ready.
	Address string

	Handler http.Handler

	// ShutdownTimeout bounds the drain of in-flight requests once the
	// context is cancelled. Zero means 10 seconds.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// HTTPServer is the orchestrator's admin listener.
type HTTPServer struct {
	config HTTPServerConfig
	ready  chan struct{}
	addr   net.Addr
}

// NewHTTPServer returns a server for config. Panics if Address or
// Handler is missing.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	switch {
	case config.Address == "":
		panic("service: HTTPServerConfig.Address is required")
	case config.Handler == nil:
		panic("service: HTTPServerConfig.Handler is required")
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	return &HTTPServer{config: config, ready: make(chan struct{})}
}

// Ready is closed once the listener is bound.
func (s *HTTPServer) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address. Valid once Ready is closed.
func (s *HTTPServer) Addr() net.Addr { return s.addr }

// Serve handles requests until ctx is cancelled, then drains in-flight
// requests for at most ShutdownTimeout.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	s.addr = listener.Addr()

	server := &http.Server{
		Handler:           s.config.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       time.Minute,
		ErrorLog:          slog.NewLogLogger(s.config.Logger.Handler(), slog.LevelWarn),
	}

	shutdownErr := make(chan error, 1)
	stop := context.AfterFunc(ctx, func() {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
		defer cancel()
		shutdownErr <- server.Shutdown(drainCtx)
	})
	defer stop()

	s.config.Logger.Info("http server listening", "address", s.addr.String())
	close(s.ready)

	if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.config.Logger.Info("http server stopped")
	return nil
}
