package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kelnishi/mcp-poptoggle/internal/logging"
)

// SSEHeartbeatInterval is the interval for SSE heartbeats.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer and sets the stream headers.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

// writeRaw writes an SSE event whose data is already a string.
func (s *sseWriter) writeRaw(eventType, data string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return err
	}
	s.flush()
	return nil
}

// writeEvent writes an SSE event with a JSON payload.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.writeRaw(eventType, string(jsonData))
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flush()
}

func (s *sseWriter) flush() {
	// ResponseController flushes through middleware wrappers; fall back to
	// the plain flusher if it cannot.
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
}

// handleSSE opens a streaming session. The session stays registered until the
// client disconnects; there is no timeout on the connection lifetime.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	sess := s.reg.Register()
	defer s.reg.Deregister(sess.SessionID())

	if err := s.mcp.RegisterSession(r.Context(), sess); err != nil {
		s.reg.Deregister(sess.SessionID())
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	defer s.mcp.UnregisterSession(r.Context(), sess.SessionID())

	w.WriteHeader(http.StatusOK)
	sse.flush()

	// Tell the client where to POST messages for this session.
	endpoint := fmt.Sprintf("/message?sessionId=%s", sess.SessionID())
	if err := sse.writeRaw("endpoint", endpoint); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case n := <-sess.Notifications():
			if err := sse.writeEvent("message", n); err != nil {
				logging.Debug().Str("sessionId", sess.SessionID()).Err(err).
					Msg("SSE write failed, closing session")
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
