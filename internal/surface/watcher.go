package surface

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/kelnishi/mcp-poptoggle/internal/event"
	"github.com/kelnishi/mcp-poptoggle/internal/logging"
)

// Watcher publishes surface events for out-of-band changes to the backing
// directory, so listings converge even when foreign processes (uploads,
// manual edits) touch it. Changes made through the Store also surface here;
// subscribers must treat the resulting notifications as "re-list now", not
// as exactly-once signals.
type Watcher struct {
	watcher *fsnotify.Watcher
	bus     *event.Bus
	dir     string
}

// NewWatcher creates a watcher over the store's directory. The directory must
// exist before watching starts.
func NewWatcher(dir string, bus *event.Bus) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{watcher: fw, bus: bus, dir: dir}, nil
}

// Start consumes filesystem events until ctx is done or the watcher closes.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer w.watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handle(ev)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				logging.Warn().Err(err).Str("dir", w.dir).Msg("surface watcher error")
			}
		}
	}()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	base := filepath.Base(ev.Name)
	// Only backing content counts; uploads, temp files and locks are foreign.
	if !strings.HasSuffix(base, ContentSuffix) {
		return
	}
	name := strings.TrimSuffix(base, ContentSuffix)
	if !ValidName(name) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
		w.bus.Publish(event.Event{Type: event.SurfaceSaved, Data: event.SurfaceData{Name: name}})
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.bus.Publish(event.Event{Type: event.SurfaceRemoved, Data: event.SurfaceData{Name: name}})
	}
}
