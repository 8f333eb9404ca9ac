package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kelnishi/mcp-poptoggle/internal/config"
	"github.com/kelnishi/mcp-poptoggle/internal/event"
	"github.com/kelnishi/mcp-poptoggle/internal/logging"
	"github.com/kelnishi/mcp-poptoggle/internal/server"
	"github.com/kelnishi/mcp-poptoggle/internal/surface"
	"github.com/kelnishi/mcp-poptoggle/pkg/mcpserver/popup"
)

var (
	servePort       int
	serveHostname   string
	serveSurfaceDir string
	serveNoBrowser  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the poptoggle server",
	Long: `Start the poptoggle server.

Hosts open a streaming session on /sse and submit tool invocations on
/message; surfaces render at /surface/{name}.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveSurfaceDir, "surface-dir", "", "Surface content directory (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoBrowser, "no-browser", false, "Never launch a local browser on show")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveHostname != "" {
		cfg.Hostname = serveHostname
	}
	if serveSurfaceDir != "" {
		cfg.SurfaceDir = serveSurfaceDir
	}
	if serveNoBrowser {
		cfg.OpenBrowser = false
	}

	if err := os.MkdirAll(cfg.SurfaceDir, 0755); err != nil {
		return fmt.Errorf("create surface directory: %w", err)
	}

	bus := event.NewBus()
	defer bus.Close()

	store := surface.NewStore(cfg.SurfaceDir)

	var opener surface.Opener
	if cfg.OpenBrowser {
		opener = &surface.BrowserOpener{
			BaseURL: fmt.Sprintf("http://%s:%d", cfg.Hostname, cfg.Port),
		}
	}
	bridge := surface.NewViewerBridge(bus, opener)

	mcpSrv := popup.NewServer(store, bridge, bus, cfg.BridgeTimeout())

	srv := server.New(cfg, store, bridge, bus, mcpSrv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := surface.NewWatcher(cfg.SurfaceDir, bus)
	if err != nil {
		logging.Warn().Err(err).Msg("surface watcher unavailable; out-of-band changes will not broadcast")
	} else {
		watcher.Start(ctx)
	}

	go func() {
		logging.Info().
			Str("addr", fmt.Sprintf("http://%s:%d", cfg.Hostname, cfg.Port)).
			Str("surfaceDir", cfg.SurfaceDir).
			Msg("poptoggle server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
	return nil
}
