package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/example/lean-prover/internal/models"
)

// SetSSEHeaders prepares w for an event stream. Call before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// sseSink writes each event as one `data: {"type":...,"content":...}` record and flushes.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	buf     bytes.Buffer
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("ResponseWriter does not support http.Flusher")
	}
	return &sseSink{w: w, flusher: flusher}, nil
}

func (s *sseSink) Send(ev models.StreamEvent) error {
	s.buf.Reset()
	s.buf.WriteString("data: ")
	enc := json.NewEncoder(&s.buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// Encode terminates with one newline; SSE records end with a blank line.
	s.buf.WriteByte('\n')
	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
