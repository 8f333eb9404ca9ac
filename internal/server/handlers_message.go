package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kelnishi/mcp-poptoggle/internal/logging"
	"github.com/kelnishi/mcp-poptoggle/internal/registry"
)

// maxMessageBytes bounds a single inbound protocol message.
const maxMessageBytes = 4 << 20

// handleMessage accepts a JSON-RPC payload, resolves the owning session
// (body field, then header, then query parameter), and hands the message to
// the MCP server under that session. The result is returned in the response
// body; server-initiated notifications ride the session's SSE stream.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "failed to read body: "+err.Error())
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "body must be a JSON-RPC message")
		return
	}

	// Session identity may be embedded in the body, carried in a header, or
	// appended as a query parameter; the first present value wins.
	var embedded struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(body, &embedded)

	sess, err := s.reg.Route(
		embedded.SessionID,
		r.Header.Get("X-Session-Id"),
		r.URL.Query().Get("sessionId"),
	)
	if err != nil {
		if errors.Is(err, registry.ErrNoActiveSession) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeNoActiveSession, "no active session to deliver the message to")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Each request is isolated; a panic in protocol handling must not take
	// the process down, and the error details are echoed back.
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error().Str("sessionId", sess.SessionID()).
				Interface("panic", rec).
				Msg("panic while handling message")
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, fmt.Sprintf("%v", rec))
		}
	}()

	ctx := s.mcp.WithContext(r.Context(), sess)
	resp := s.mcp.HandleMessage(ctx, body)
	if resp == nil {
		// Notifications have no response.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth reports liveness plus session and surface counts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.reg.Len(),
		"surfaces": len(names),
	})
}
