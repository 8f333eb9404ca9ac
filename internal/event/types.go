package event

// Type identifies a kind of event on the bus.
type Type string

const (
	// SurfaceSaved fires after a surface's backing content has been persisted.
	SurfaceSaved Type = "surface.saved"
	// SurfaceRemoved fires when a surface's backing content disappears from disk.
	SurfaceRemoved Type = "surface.removed"
	// SurfaceState fires when a viewer reports or receives new live state.
	SurfaceState Type = "surface.state"
)

// Event is a single bus message.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// SurfaceData is the payload for surface.* events.
type SurfaceData struct {
	Name string `json:"name"`
}
