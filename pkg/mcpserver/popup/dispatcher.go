package popup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/kelnishi/mcp-poptoggle/internal/event"
	"github.com/kelnishi/mcp-poptoggle/internal/logging"
	"github.com/kelnishi/mcp-poptoggle/internal/surface"
)

// Tool modes. An omitted or empty mode behaves as show.
const (
	ModeShow     = "show"
	ModeGet      = "get"
	ModeSet      = "set"
	ModeDescribe = "describe"
)

// Dispatcher maps a single popup tool invocation onto create/read/update/
// describe semantics over the surface store. Each invocation is single-shot;
// nothing is retained between calls.
type Dispatcher struct {
	store   *surface.Store
	bridge  surface.StateBridge
	bus     *event.Bus
	timeout time.Duration
}

// NewDispatcher wires a dispatcher. timeout bounds each individual bridge
// call; once a call is issued it runs to completion or failure, the
// dispatcher only stops waiting.
func NewDispatcher(store *surface.Store, bridge surface.StateBridge, bus *event.Bus, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		store:   store,
		bridge:  bridge,
		bus:     bus,
		timeout: timeout,
	}
}

// Dispatch handles one popup tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	name, _ := args["name"].(string)
	if name == "" {
		return resultValidation("name is required"), nil
	}
	if !surface.ValidName(name) {
		return resultValidation("invalid surface name: " + name), nil
	}

	mode, _ := args["mode"].(string)
	if mode == "" {
		mode = ModeShow
	}

	switch mode {
	case ModeShow:
		return d.show(ctx, name, args)
	case ModeGet:
		return d.get(ctx, name)
	case ModeSet:
		return d.set(ctx, name, args)
	case ModeDescribe:
		return d.describe(ctx, name)
	default:
		return resultInvalidMode(mode), nil
	}
}

// show creates or re-opens a surface. Ordering: persist content, announce the
// listing change, ask the renderer to open, then inject explicit state so a
// freshly opened surface is primed immediately.
func (d *Dispatcher) show(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	html, _ := args["html"].(string)
	exists := d.store.Exists(name)

	if !exists && html == "" {
		return resultValidation("surface " + name + " does not exist; html content is required on first show"), nil
	}

	if html != "" {
		if exists {
			d.logOverwrite(ctx, name, html)
		}
		if err := d.store.Save(ctx, name, html); err != nil {
			return resultInternal(err), nil
		}
		// Synchronous so the broadcast is sent after persistence and before
		// the open request goes out.
		d.bus.PublishSync(event.Event{Type: event.SurfaceSaved, Data: event.SurfaceData{Name: name}})
	}

	if err := d.bridgeOpen(ctx, name); err != nil {
		return resultInternal(err), nil
	}

	if state := stateArg(args); state != nil {
		if _, err := d.bridgeSetState(ctx, name, state); err != nil {
			return resultInternal(err), nil
		}
	}

	current, err := d.bridgeState(ctx, name)
	if err != nil {
		return resultInternal(err), nil
	}
	return resultState(current), nil
}

func (d *Dispatcher) get(ctx context.Context, name string) (*mcp.CallToolResult, error) {
	if !d.store.Exists(name) {
		return resultNotFound(name), nil
	}
	state, err := d.bridgeState(ctx, name)
	if err != nil {
		return resultInternal(err), nil
	}
	return resultState(state), nil
}

func (d *Dispatcher) set(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	state := stateArg(args)
	if state == nil {
		return resultValidation("state is required for set"), nil
	}
	if !d.store.Exists(name) {
		return resultNotFound(name), nil
	}
	updated, err := d.bridgeSetState(ctx, name, state)
	if err != nil {
		return resultInternal(err), nil
	}
	return resultState(updated), nil
}

func (d *Dispatcher) describe(ctx context.Context, name string) (*mcp.CallToolResult, error) {
	if !d.store.Exists(name) {
		return resultNotFound(name), nil
	}
	schema, err := d.bridge.Describe(ctx, name)
	if err != nil {
		return resultInternal(err), nil
	}
	return resultState(schema), nil
}

func (d *Dispatcher) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

func (d *Dispatcher) bridgeOpen(ctx context.Context, name string) error {
	octx, cancel := d.bound(ctx)
	defer cancel()
	return d.bridge.Open(octx, name)
}

func (d *Dispatcher) bridgeState(ctx context.Context, name string) (json.RawMessage, error) {
	sctx, cancel := d.bound(ctx)
	defer cancel()
	return d.bridge.State(sctx, name)
}

func (d *Dispatcher) bridgeSetState(ctx context.Context, name string, state json.RawMessage) (json.RawMessage, error) {
	sctx, cancel := d.bound(ctx)
	defer cancel()
	return d.bridge.SetState(sctx, name, state)
}

// stateArg normalizes the state argument: a JSON string is passed through, a
// non-JSON string becomes a JSON string value, and structured values are
// marshaled. Returns nil when absent.
func stateArg(args map[string]any) json.RawMessage {
	v, ok := args["state"]
	if !ok || v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return nil
		}
		if json.Valid([]byte(s)) {
			return json.RawMessage(s)
		}
		quoted, _ := json.Marshal(s)
		return quoted
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// logOverwrite records how much content churned on a last-write-wins re-show.
func (d *Dispatcher) logOverwrite(ctx context.Context, name, html string) {
	old, err := d.store.Content(ctx, name)
	if err != nil {
		return
	}

	dmp := diffmatchpatch.New()
	added, removed := 0, 0
	for _, diff := range dmp.DiffMain(old, html, false) {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			added += len(diff.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(diff.Text)
		}
	}
	logging.Debug().Str("surface", name).
		Int("bytesAdded", added).
		Int("bytesRemoved", removed).
		Msg("overwriting surface content")
}
