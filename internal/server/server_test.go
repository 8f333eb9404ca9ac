package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelnishi/mcp-poptoggle/internal/config"
	"github.com/kelnishi/mcp-poptoggle/internal/event"
	"github.com/kelnishi/mcp-poptoggle/internal/surface"
	"github.com/kelnishi/mcp-poptoggle/pkg/mcpserver/popup"
)

type testEnv struct {
	srv    *Server
	store  *surface.Store
	bridge *surface.ViewerBridge
	bus    *event.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.SurfaceDir = t.TempDir()
	cfg.EnableCORS = false
	cfg.OpenBrowser = false

	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	store := surface.NewStore(cfg.SurfaceDir)
	bridge := surface.NewViewerBridge(bus, nil)
	mcpSrv := popup.NewServer(store, bridge, bus, time.Second)

	return &testEnv{
		srv:    New(cfg, store, bridge, bus, mcpSrv),
		store:  store,
		bridge: bridge,
		bus:    bus,
	}
}

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

func TestHandleMessage_NoActiveSession(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/message",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ErrCodeNoActiveSession, decodeError(t, rec.Body).Error.Code)
}

func TestHandleMessage_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/message", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeInvalidRequest, decodeError(t, rec.Body).Error.Code)
}

func TestHandleMessage_UnknownExplicitSession(t *testing.T) {
	env := newTestEnv(t)

	// One session is open, but the caller names a different one.
	env.srv.Registry().Register()

	req := httptest.NewRequest("POST", "/message",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("X-Session-Id", "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ErrCodeNoActiveSession, decodeError(t, rec.Body).Error.Code)
}

func TestHandleMessage_FallbackToOpenSession(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Registry().Register()

	// No session id anywhere on the request; the open session still serves it.
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0.0.0"}}}`
	req := httptest.NewRequest("POST", "/message", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"result"`)
	assert.Contains(t, rec.Body.String(), "poptoggle")
}

func TestSSE_EndpointThenMessageRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// First event on the stream names the message endpoint for this session.
	reader := bufio.NewReader(resp.Body)
	var endpoint string
	deadline := time.After(5 * time.Second)
	for endpoint == "" {
		select {
		case <-deadline:
			t.Fatal("never received endpoint event")
		default:
		}
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			endpoint = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	require.Contains(t, endpoint, "/message?sessionId=")

	post := func(body string) string {
		resp, err := http.Post(ts.URL+endpoint, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Less(t, resp.StatusCode, 300, "unexpected status %d: %s", resp.StatusCode, data)
		return string(data)
	}

	out := post(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0.0.0"}}}`)
	assert.Contains(t, out, "poptoggle")

	post(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	// Tool failures come back as successful transport responses carrying the
	// error flag.
	out = post(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"popup","arguments":{"name":"ghost","mode":"get"}}}`)
	assert.Contains(t, out, "NotFoundError")
	assert.Contains(t, out, `"isError":true`)
}

func TestBroadcastOnSurfaceSaved(t *testing.T) {
	env := newTestEnv(t)

	sess := env.srv.Registry().Register()
	require.NoError(t, env.store.Save(context.Background(), "counter", "<p>hi</p>"))

	env.bus.PublishSync(event.Event{Type: event.SurfaceSaved, Data: event.SurfaceData{Name: "counter"}})

	select {
	case n := <-sess.Notifications():
		assert.Equal(t, "notifications/resources/list_changed", n.Method)
	case <-time.After(time.Second):
		t.Fatal("session never received list_changed broadcast")
	}
}

func TestSurfaceRemoved_ForgetsStateAndBroadcasts(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.store.Save(context.Background(), "doomed", "<p>hi</p>"))
	env.bridge.Report("doomed", json.RawMessage(`{"count":1}`), json.RawMessage(`{"type":"object"}`))

	sess := env.srv.Registry().Register()

	require.NoError(t, os.Remove(filepath.Join(env.store.Dir(), "doomed"+surface.ContentSuffix)))
	env.bus.PublishSync(event.Event{Type: event.SurfaceRemoved, Data: event.SurfaceData{Name: "doomed"}})

	select {
	case n := <-sess.Notifications():
		assert.Equal(t, "notifications/resources/list_changed", n.Method)
	case <-time.After(time.Second):
		t.Fatal("session never received list_changed broadcast")
	}

	// The previous incarnation's live state does not survive removal.
	state, err := env.bridge.State(context.Background(), "doomed")
	require.NoError(t, err)
	assert.Nil(t, state)

	schema, err := env.bridge.Describe(context.Background(), "doomed")
	require.NoError(t, err)
	assert.Nil(t, schema)
}

func TestViewSurface_InjectsRuntime(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Save(context.Background(),
		"counter", "<html><body><h1>Counter</h1></body></html>"))

	req := httptest.NewRequest("GET", "/surface/counter", nil)
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<h1>Counter</h1>")
	assert.Contains(t, body, "EventSource")
	assert.Less(t, strings.Index(body, "EventSource"), strings.Index(body, "</body>"),
		"runtime must be injected inside the document body")
}

func TestViewSurface_NotFound(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/surface/ghost", nil)
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, rec.Body).Error.Code)
}

func TestReportState(t *testing.T) {
	env := newTestEnv(t)

	body := `{"id":"","state":{"count":4},"schema":{"type":"object"}}`
	req := httptest.NewRequest("POST", "/surface/counter/state", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	state, err := env.bridge.State(context.Background(), "counter")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":4}`, string(state))

	schema, err := env.bridge.Describe(context.Background(), "counter")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object"}`, string(schema))
}

func TestSurfaceEvents_DeliversSetState(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/surface/counter/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Response headers are only flushed after the handler attaches the
	// viewer, so the push below cannot race the attach.
	_, err = env.bridge.SetState(context.Background(), "counter", json.RawMessage(`{"count":1}`))
	require.NoError(t, err)

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("never received state.set event")
		default:
		}
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.TrimSpace(line) == "event: state.set" {
			return
		}
	}
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Save(context.Background(), "counter", "<p>hi</p>"))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "logo.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("not really a png"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result struct {
		Filename string `json:"filename"`
		URL      string `json:"url"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, "logo.png", result.Filename)

	// Uploaded files share the directory without joining the surface listing.
	names, err := env.store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"counter"}, names)

	req = httptest.NewRequest("GET", result.URL, nil)
	rec = httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not really a png", rec.Body.String())
}

func TestUpload_MissingFileField(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "value"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Save(context.Background(), "counter", "<p>hi</p>"))
	env.srv.Registry().Register()

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
		Surfaces int    `json:"surfaces"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Sessions)
	assert.Equal(t, 1, health.Surfaces)
}
