// Package popup provides the MCP server exposing the popup tool and the
// surface resource listing.
package popup

import (
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kelnishi/mcp-poptoggle/internal/event"
	"github.com/kelnishi/mcp-poptoggle/internal/surface"
)

// Version is the MCP server version reported during initialization.
const Version = "0.1.0"

// NewServer creates the poptoggle MCP server: the popup tool plus one
// resource per surface found on disk.
func NewServer(store *surface.Store, bridge surface.StateBridge, bus *event.Bus, bridgeTimeout time.Duration) *server.MCPServer {
	s := server.NewMCPServer(
		"poptoggle",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("Create and drive named interactive HTML surfaces. Use the popup tool with mode show to render content, get/set to read or write its live state, and describe to fetch the state schema."),
	)

	d := NewDispatcher(store, bridge, bus, bridgeTimeout)

	tool := mcp.NewTool("popup",
		mcp.WithDescription("Create, show, and manipulate a named interactive HTML surface. First-time show requires html; later shows re-open the existing surface."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Surface name. Creating with an existing name replaces its content."),
		),
		mcp.WithString("mode",
			mcp.Description("Operation: show (default), get, set, or describe."),
			mcp.Enum(ModeShow, ModeGet, ModeSet, ModeDescribe),
		),
		mcp.WithString("html",
			mcp.Description("HTML content to render. Required the first time a name is shown; optional afterwards."),
		),
		mcp.WithString("state",
			mcp.Description("JSON state to inject into the surface."),
		),
	)
	s.AddTool(tool, d.Dispatch)

	SyncResources(s, store)

	return s
}
