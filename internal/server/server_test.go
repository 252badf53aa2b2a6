package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestServerHealthzReturnsOK(t *testing.T) {
	s := New(
		&MessagesHandler{Settings: fakeProviderSettings{model: "m"}},
		&CountTokensHandler{Settings: fakeProviderSettings{model: "m"}},
		slog.Default(),
	)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("got body %q", rec.Body.String())
	}
}

func TestServerRoutesCountTokens(t *testing.T) {
	s := New(
		&MessagesHandler{Settings: fakeProviderSettings{model: "m"}},
		&CountTokensHandler{Settings: fakeProviderSettings{model: "m"}},
		slog.Default(),
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	// An empty body fails JSON decoding, but the important thing here is
	// that the mux actually dispatched to CountTokensHandler rather than
	// returning a 404.
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected the request to reach CountTokensHandler and fail decoding, got %d", rec.Code)
	}
}

func TestServerUnknownRouteReturns404(t *testing.T) {
	s := New(
		&MessagesHandler{Settings: fakeProviderSettings{model: "m"}},
		&CountTokensHandler{Settings: fakeProviderSettings{model: "m"}},
		slog.Default(),
	)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	s := New(
		&MessagesHandler{Settings: fakeProviderSettings{model: "m"}},
		&CountTokensHandler{Settings: fakeProviderSettings{model: "m"}},
		slog.Default(),
	)

	errCh, err := s.Start(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Give the listener goroutine a moment to start serving.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Fatalf("unexpected runtime error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the serve goroutine to exit after Shutdown")
	}
}

func TestServerShutdownWithoutStartIsNoop(t *testing.T) {
	s := New(
		&MessagesHandler{Settings: fakeProviderSettings{model: "m"}},
		&CountTokensHandler{Settings: fakeProviderSettings{model: "m"}},
		slog.Default(),
	)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected no error shutting down a server that was never started, got %v", err)
	}
}
