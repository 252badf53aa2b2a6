package server

import (
	"fmt"
	"net/http"
)

// SSEWriter wraps http.ResponseWriter with Server-Sent Events protocol
// methods, kept near-verbatim from the teacher's internal/proxy/sse.go: the
// wire format itself doesn't change between an OpenAI-flavored and an
// Anthropic-flavored stream, only the JSON payloads riding inside it do.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter validates flushing support and sets the required SSE headers.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter doesn't implement http.Flusher")
	}

	w.Header().Set("Content-Type", "text/event-stream;charset=utf-8")
	w.Header().Set("Connection", "keep-alive")
	if w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "no-cache")
	}

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent writes a fully pre-formatted "event: ...\ndata: ...\n\n" string
// produced by translate.SSEBuilder, flushing immediately. Unlike the
// teacher's WriteData, no JSON marshaling happens here: SSEBuilder already
// returns the complete wire text, since Anthropic's SSE events carry a
// distinct event-name line the OpenAI side never needed.
func (s *SSEWriter) WriteEvent(formatted string) error {
	if _, err := s.w.Write([]byte(formatted)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
