package popup

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kelnishi/mcp-poptoggle/internal/logging"
	"github.com/kelnishi/mcp-poptoggle/internal/surface"
)

// ResourceScheme prefixes every surface resource URI.
const ResourceScheme = "popup://"

// SyncResources reconciles the MCP server's resource registry with the
// surfaces currently on disk: names that vanished are dropped, new and
// updated ones replace their entries. Safe to call at any time; the listing
// is derived from backing content, never from a cached flag. Callers invoke
// it at startup and again whenever content is persisted or removed, before
// the list-changed broadcast goes out. The whole set is swapped in one call
// so a sync produces at most one server-side notification.
func SyncResources(s *server.MCPServer, store *surface.Store) {
	names, err := store.List()
	if err != nil {
		logging.Warn().Err(err).Msg("failed to list surfaces for resource sync")
		return
	}

	resources := make([]server.ServerResource, 0, len(names))
	for _, name := range names {
		resources = append(resources, surfaceResource(store, name))
	}
	s.SetResources(resources...)
}

// surfaceResource exposes one surface as an addressable MCP resource.
func surfaceResource(store *surface.Store, name string) server.ServerResource {
	uri := ResourceScheme + name

	desc := "Interactive HTML surface"
	if content, err := store.Content(context.Background(), name); err == nil {
		if title := surfaceTitle(content); title != "" {
			desc = title
		}
	}

	res := mcp.NewResource(uri, name,
		mcp.WithResourceDescription(desc),
		mcp.WithMIMEType("text/html"),
	)

	return server.ServerResource{
		Resource: res,
		Handler: func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			content, err := store.Content(ctx, name)
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      uri,
					MIMEType: "text/html",
					Text:     content,
				},
			}, nil
		},
	}
}

// surfaceTitle extracts the document title from backing content, if any.
func surfaceTitle(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
