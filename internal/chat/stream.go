package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// ndjsonStream writes one JSON object per line and flushes after every
// write, so the client sees each event as soon as it is produced.
//
// After the first failed write the stream disables itself: the client is
// gone, but the turn keeps running server-side and must not block on a dead
// connection.
type ndjsonStream struct {
	mu       sync.Mutex
	w        http.ResponseWriter
	rc       *http.ResponseController
	f        http.Flusher
	writeTO  time.Duration
	disabled bool
}

func newNDJSONStream(w http.ResponseWriter, writeTimeout time.Duration) *ndjsonStream {
	s := &ndjsonStream{w: w, writeTO: writeTimeout}
	if w != nil {
		s.rc = http.NewResponseController(w)
		if fl, ok := w.(http.Flusher); ok {
			s.f = fl
		}
	}
	return s
}

func (s *ndjsonStream) send(v any) error {
	if s == nil || s.w == nil {
		return errors.New("stream not ready")
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return errors.New("stream disabled")
	}
	if s.writeTO > 0 && s.rc != nil {
		_ = s.rc.SetWriteDeadline(time.Now().Add(s.writeTO))
	}
	if _, err := s.w.Write(b); err != nil {
		s.disabled = true
		return err
	}
	if _, err := s.w.Write([]byte{'\n'}); err != nil {
		s.disabled = true
		return err
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}

func (s *ndjsonStream) close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.disabled = true
	s.mu.Unlock()
}
