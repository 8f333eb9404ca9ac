package surface

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/kelnishi/mcp-poptoggle/internal/event"
	"github.com/kelnishi/mcp-poptoggle/internal/logging"
)

// StateBridge is the capability the dispatcher uses to talk to whatever is
// rendering a surface. Every call is a suspension point: implementations must
// honor ctx and never block past its deadline. The dispatcher cannot cancel
// an issued call; it only stops waiting.
type StateBridge interface {
	// Open asks the renderer to make the named surface visible.
	Open(ctx context.Context, name string) error
	// State returns the surface's live state, or nil if none was ever reported.
	State(ctx context.Context, name string) (json.RawMessage, error)
	// SetState writes the live state and returns the updated document.
	SetState(ctx context.Context, name string, state json.RawMessage) (json.RawMessage, error)
	// Describe returns the schema of the live state, or nil if not reported.
	Describe(ctx context.Context, name string) (json.RawMessage, error)
}

// Opener makes a surface visible to the user, typically by pointing a local
// browser at its view URL.
type Opener interface {
	OpenSurface(name string) error
}

// ViewerEvent is one message pushed to an attached viewer page.
type ViewerEvent struct {
	Type  string          `json:"type"` // "open", "state.set", "state.request"
	ID    string          `json:"id,omitempty"`
	State json.RawMessage `json:"state,omitempty"`
}

// ViewerBridge implements StateBridge against browser pages that attach over
// a per-surface SSE channel and report state back over HTTP.
//
// The bridge caches the last state and schema each viewer reported; the live
// document itself belongs to the rendering page, not to this process. State
// prefers a fresh round-trip to an attached viewer and falls back to the
// cache when none answers in time.
type ViewerBridge struct {
	mu      sync.Mutex
	viewers map[string][]chan ViewerEvent
	state   map[string]json.RawMessage
	schema  map[string]json.RawMessage
	pending map[string]chan json.RawMessage

	opener Opener
	bus    *event.Bus
}

// NewViewerBridge creates a bridge. opener may be nil when nothing should be
// launched locally.
func NewViewerBridge(bus *event.Bus, opener Opener) *ViewerBridge {
	return &ViewerBridge{
		viewers: make(map[string][]chan ViewerEvent),
		state:   make(map[string]json.RawMessage),
		schema:  make(map[string]json.RawMessage),
		pending: make(map[string]chan json.RawMessage),
		opener:  opener,
		bus:     bus,
	}
}

// Attach registers a viewer page for name and returns its event channel plus
// a detach function. Events are dropped rather than blocking a slow viewer.
func (b *ViewerBridge) Attach(name string) (<-chan ViewerEvent, func()) {
	ch := make(chan ViewerEvent, 16)

	b.mu.Lock()
	b.viewers[name] = append(b.viewers[name], ch)
	b.mu.Unlock()

	detach := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.viewers[name]
		for i, c := range chans {
			if c == ch {
				b.viewers[name] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(b.viewers[name]) == 0 {
			delete(b.viewers, name)
		}
	}
	return ch, detach
}

// Report records state (and optionally schema) pushed by a viewer page.
func (b *ViewerBridge) Report(name string, state, schema json.RawMessage) {
	b.mu.Lock()
	if state != nil {
		b.state[name] = state
	}
	if schema != nil {
		b.schema[name] = schema
	}
	b.mu.Unlock()

	if b.bus != nil && state != nil {
		b.bus.Publish(event.Event{Type: event.SurfaceState, Data: event.SurfaceData{Name: name}})
	}
}

// Forget drops the cached state and schema for name. Called when backing
// content is removed so a later surface recreated under the same name does
// not inherit the previous incarnation's state.
func (b *ViewerBridge) Forget(name string) {
	b.mu.Lock()
	delete(b.state, name)
	delete(b.schema, name)
	b.mu.Unlock()
}

// Reply resolves a pending state request by correlation id. Unknown ids are
// ignored; the requester may have timed out already.
func (b *ViewerBridge) Reply(id string, state json.RawMessage) {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if ok {
		select {
		case ch <- state:
		default:
		}
	}
}

// push sends an event to every attached viewer of name, dropping on full
// channels. Returns the number of viewers reached.
func (b *ViewerBridge) push(name string, ev ViewerEvent) int {
	b.mu.Lock()
	chans := append([]chan ViewerEvent(nil), b.viewers[name]...)
	b.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			logging.Warn().Str("surface", name).Str("eventType", ev.Type).
				Msg("viewer event dropped: channel full")
		}
	}
	return len(chans)
}

// Open pushes an open event to attached viewers and, when an opener is
// configured, launches a local view of the surface.
func (b *ViewerBridge) Open(ctx context.Context, name string) error {
	b.push(name, ViewerEvent{Type: "open"})

	if b.opener != nil {
		if err := b.opener.OpenSurface(name); err != nil {
			return fmt.Errorf("open surface %q: %w", name, err)
		}
	}
	return nil
}

// State returns the live state for name. With a viewer attached it requests a
// fresh snapshot and waits up to the ctx deadline, falling back to the last
// reported state; with none attached it returns the cache directly. A nil
// result means no state was ever reported.
func (b *ViewerBridge) State(ctx context.Context, name string) (json.RawMessage, error) {
	b.mu.Lock()
	attached := len(b.viewers[name]) > 0
	cached := b.state[name]
	b.mu.Unlock()

	if !attached {
		return cached, nil
	}

	id := ulid.Make().String()
	reply := make(chan json.RawMessage, 1)

	b.mu.Lock()
	b.pending[id] = reply
	b.mu.Unlock()

	b.push(name, ViewerEvent{Type: "state.request", ID: id})

	select {
	case state := <-reply:
		b.mu.Lock()
		if state != nil {
			b.state[name] = state
		}
		b.mu.Unlock()
		return state, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		cached = b.state[name]
		b.mu.Unlock()
		// An attached viewer that never answers is served stale data; make
		// that visible to operators.
		logging.Warn().Str("surface", name).
			Msg("state request timed out, serving last reported state")
		return cached, nil
	}
}

// SetState records state as the surface's live state and pushes it to every
// attached viewer.
func (b *ViewerBridge) SetState(ctx context.Context, name string, state json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(state) {
		return nil, fmt.Errorf("state for %q is not valid JSON", name)
	}

	b.mu.Lock()
	b.state[name] = state
	b.mu.Unlock()

	b.push(name, ViewerEvent{Type: "state.set", State: state})

	if b.bus != nil {
		b.bus.Publish(event.Event{Type: event.SurfaceState, Data: event.SurfaceData{Name: name}})
	}
	return state, nil
}

// Describe returns the schema last reported for name, or nil.
func (b *ViewerBridge) Describe(ctx context.Context, name string) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.schema[name], nil
}
