package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kelnishi/mcp-poptoggle/internal/surface"
)

// viewerRuntime is injected into every served surface. It attaches the page
// to its event stream, answers state requests, and reports state changes.
// Pages may expose window.poptoggle = {getState, setState, schema} to take
// over state handling; otherwise window.__state is used.
const viewerRuntime = `<script>
(function () {
  var name = %s;
  var base = "/surface/" + encodeURIComponent(name);
  function current() {
    if (window.poptoggle && window.poptoggle.getState) return window.poptoggle.getState();
    return (typeof window.__state === "undefined") ? null : window.__state;
  }
  function report(id) {
    fetch(base + "/state", {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify({
        id: id || "",
        state: current(),
        schema: (window.poptoggle && window.poptoggle.schema) || null
      })
    });
  }
  var es = new EventSource(base + "/events");
  es.addEventListener("state.request", function (e) {
    report(JSON.parse(e.data).id);
  });
  es.addEventListener("state.set", function (e) {
    var msg = JSON.parse(e.data);
    if (window.poptoggle && window.poptoggle.setState) window.poptoggle.setState(msg.state);
    else window.__state = msg.state;
    report("");
  });
  window.addEventListener("load", function () { report(""); });
})();
</script>`

// viewSurface serves a surface's backing content with the viewer runtime
// injected.
func (s *Server) viewSurface(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	content, err := s.store.Content(r.Context(), name)
	if err != nil {
		if errors.Is(err, surface.ErrNotFound) || errors.Is(err, surface.ErrInvalidName) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "no surface named "+name)
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	encodedName, _ := json.Marshal(name)
	runtime := fmt.Sprintf(viewerRuntime, encodedName)

	// Inject before </body> when present, otherwise append.
	if i := strings.LastIndex(strings.ToLower(content), "</body>"); i >= 0 {
		content = content[:i] + runtime + content[i:]
	} else {
		content += runtime
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, content)
}

// surfaceEvents is the viewer side of the bridge: a per-surface SSE stream
// carrying open, state.set, and state.request events.
func (s *Server) surfaceEvents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !surface.ValidName(name) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid surface name")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	events, detach := s.bridge.Attach(name)
	defer detach()

	w.WriteHeader(http.StatusOK)
	sse.flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := sse.writeEvent(ev.Type, ev); err != nil {
				return
			}
		}
	}
}

// stateReport is a viewer's POST body: either a reply to a correlated state
// request (id set) or an unsolicited report.
type stateReport struct {
	ID     string          `json:"id"`
	State  json.RawMessage `json:"state"`
	Schema json.RawMessage `json:"schema"`
}

// reportState records state (and optionally schema) pushed by a viewer page.
func (s *Server) reportState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !surface.ValidName(name) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid surface name")
		return
	}

	var report stateReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid state report: "+err.Error())
		return
	}

	if report.ID != "" {
		s.bridge.Reply(report.ID, report.State)
	}
	s.bridge.Report(name, report.State, report.Schema)

	writeSuccess(w)
}
