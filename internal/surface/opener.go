package surface

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// BrowserOpener opens surfaces in the local default browser.
type BrowserOpener struct {
	// BaseURL is the server's external base URL, e.g. "http://127.0.0.1:8642".
	BaseURL string
}

// OpenSurface launches the platform browser at the surface's view URL.
func (o *BrowserOpener) OpenSurface(name string) error {
	target := fmt.Sprintf("%s/surface/%s", o.BaseURL, url.PathEscape(name))

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	// Detach; the browser process outlives the request.
	go func() { _ = cmd.Wait() }()
	return nil
}
