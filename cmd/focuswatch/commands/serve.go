package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/focuswatch/focuswatch"
	"github.com/focuswatch/focuswatch/internal/api"
	"github.com/focuswatch/focuswatch/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the focus state over HTTP",
	Long: `Start an HTTP server exposing the focused window as a REST snapshot and
a WebSocket event stream.

Endpoints:
  GET /api/health          - health check
  GET /api/window/current  - current focused window
  GET /api/window/stream   - WebSocket stream of focus changes`,
	Example: `  # Serve on the default port (8080)
  focuswatch serve

  # Serve on a custom port with 64x64 icons
  focuswatch serve --port 9090 --icon-size 64`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "HTTP listen port")
	viper.BindPFlag("server_port", serveCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	port := viper.GetInt("server_port")
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	tracker := focuswatch.NewWithConfig(cfg)
	server := api.NewServer(tracker)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Msg("starting HTTP server")
		errCh <- server.Start(port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
		log.Info().Msg("shutting down")
		return nil
	}
}
