package api

import (
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSEStreamWriter writes server-sent events. Samples generated in parallel
// call Token from several goroutines, so every write is serialized.
type SSEStreamWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher func()
	started bool
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	return &SSEStreamWriter{w: res, flusher: flusher.Flush}, nil
}

// Started reports whether any event has been written, after which errors
// can no longer change the HTTP status.
func (s *SSEStreamWriter) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *SSEStreamWriter) Token(ev TokenEvent) error {
	return s.send("token", ev)
}

func (s *SSEStreamWriter) Done(resp GenerateResponse) error {
	return s.send("done", resp)
}

func (s *SSEStreamWriter) Failed(errType string, err error) error {
	return s.send("error", ErrorBody{Error: ResponseError{Message: err.Error(), Type: errType}})
}

func (s *SSEStreamWriter) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher()
	return nil
}
