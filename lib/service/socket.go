// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/bureau-ci/lib/codec"
)

// ActionFunc processes one request. raw is the full CBOR request,
// including the "action" field. A nil result produces {ok: true}; a
// non-nil result is marshaled into the response's data field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Typed adapts a handler that takes a decoded request struct. Fields
// of the request that Request does not declare are ignored.
func Typed[Request any](handler func(ctx context.Context, request Request) (any, error)) ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var request Request
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		return handler(ctx, request)
	}
}

// Response is the envelope of every socket response.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 10 * time.Second

	// maxRequestSize bounds a request. Requests carry tokens, paths
	// and step addresses, never whole job contexts.
	maxRequestSize = 1 << 20
)

// SocketServer serves the CBOR protocol on a Unix socket. Register
// actions (and optionally Instrument) before calling Serve.
type SocketServer struct {
	path     string
	actions  map[string]ActionFunc
	logger   *slog.Logger
	ready    chan struct{}
	requests *prometheus.CounterVec
	inFlight sync.WaitGroup
}

// NewSocketServer returns a server that will listen on path.
func NewSocketServer(path string, logger *slog.Logger) *SocketServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SocketServer{
		path:    path,
		actions: make(map[string]ActionFunc),
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Handle registers handler for action. Panics on a duplicate action.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.actions[action]; exists {
		panic(fmt.Sprintf("service: action %q registered twice", action))
	}
	s.actions[action] = handler
}

// Instrument registers bureau_ci_socket_requests_total{action,outcome}
// with registerer. Requests naming an unregistered action are counted
// under action "unknown".
func (s *SocketServer) Instrument(registerer prometheus.Registerer) error {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bureau_ci",
		Subsystem: "socket",
		Name:      "requests_total",
		Help:      "Socket requests handled, by action and outcome.",
	}, []string{"action", "outcome"})
	if err := registerer.Register(requests); err != nil {
		return fmt.Errorf("registering socket metrics: %w", err)
	}
	s.requests = requests
	return nil
}

// Ready is closed once the socket is listening.
func (s *SocketServer) Ready() <-chan struct{} { return s.ready }

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight requests. A stale socket file is replaced and the socket
// is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", s.path, err)
	}
	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.path, err)
	}
	defer os.Remove(s.path)
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("socket server listening", "path", s.path, "actions", len(s.actions))
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.inFlight.Add(1)
		go func() {
			defer s.inFlight.Done()
			defer conn.Close()
			s.serveConn(ctx, conn)
		}()
	}
	listener.Close()
	s.inFlight.Wait()
	return nil
}

func (s *SocketServer) serveConn(ctx context.Context, conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.reply(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	action, result, err := s.dispatch(ctx, raw)
	s.count(action, err)
	if err != nil {
		s.logger.Debug("action failed", "action", action, "error", err)
		s.reply(conn, Response{Error: err.Error()})
		return
	}

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.reply(conn, Response{Error: fmt.Sprintf("internal: marshaling response: %v", err)})
			return
		}
		response.Data = data
	}
	s.reply(conn, response)
}

// dispatch routes raw to its action handler and returns the action
// name for logging and metrics.
func (s *SocketServer) dispatch(ctx context.Context, raw []byte) (string, any, error) {
	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		return "", nil, fmt.Errorf("invalid request: %w", err)
	}
	if header.Action == "" {
		return "", nil, errors.New("missing required field: action")
	}
	handler, exists := s.actions[header.Action]
	if !exists {
		return "unknown", nil, fmt.Errorf("unknown action %q", header.Action)
	}
	result, err := handler(ctx, raw)
	return header.Action, result, err
}

func (s *SocketServer) count(action string, err error) {
	if s.requests == nil || action == "" {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.requests.WithLabelValues(action, outcome).Inc()
}

func (s *SocketServer) reply(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("writing response failed", "error", err, "ok", response.OK)
	}
}
