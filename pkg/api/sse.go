package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// SSEWriter streams named Server-Sent Events over an HTTP response writer.
type SSEWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     zerolog.Logger
	closed  bool
}

// NewSSEWriter builds an SSE writer over the response.
func NewSSEWriter(w io.Writer, flusher http.Flusher, logger zerolog.Logger) *SSEWriter {
	return &SSEWriter{writer: w, flusher: flusher, log: logger}
}

// Send emits one named event with a JSON payload.
func (s *SSEWriter) Send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.EOF
	}
	if _, err := fmt.Fprintf(s.writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.closed = true
		s.log.Warn().Err(err).Str("event", event).Msg("SSE send failed")
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close marks the stream as closed.
func (s *SSEWriter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
