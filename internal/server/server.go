// Package server implements the gateway's HTTP surface: POST /v1/messages,
// POST /v1/messages/count_tokens, and GET /healthz, grounded on the teacher's
// internal/proxy package for lifecycle shape (Start/Shutdown, background
// net.Listen+Serve) while replacing its httputil.ReverseProxy body — a
// gateway that transcodes request/response shapes has no byte-for-byte
// upstream pass-through to proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server is the gateway's HTTP surface.
type Server struct {
	mux    *http.ServeMux
	server *http.Server
}

var _ http.Handler = (*Server)(nil)

// New builds the route table: POST /v1/messages, POST
// /v1/messages/count_tokens, GET /healthz.
func New(messages *MessagesHandler, countTokens *CountTokensHandler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/messages", applyMiddlewares(messages,
		Logging(logger),
		Recovery,
	))
	mux.Handle("POST /v1/messages/count_tokens", applyMiddlewares(countTokens,
		Logging(logger),
		Recovery,
	))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{mux: mux}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately,
// reporting runtime errors (not startup errors) on the returned channel.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // long enough for a full SSE stream
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown, force-closing if it times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
