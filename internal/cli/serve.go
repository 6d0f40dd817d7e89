// internal/cli/serve.go
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"nutrivision/internal/config"
	"nutrivision/internal/server"
)

var (
	serveTransport string
	serveHost      string
	servePort      int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API or the MCP stdio server",
	Long: `Serve the nutrivision API.

With the http transport the server exposes the REST API under /api, realtime
events on /ws and MCP tool calls on /mcp. With the stdio transport the same
tools are served over MCP on stdin/stdout.

Examples:
  nutrivision serve
  nutrivision serve --port 9000
  nutrivision serve --transport stdio`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "transport mode: http or stdio (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port for HTTP transport (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger(true)
	cfg, err := config.Load(cfgFile, logger)
	if err != nil {
		return err
	}
	if serveTransport != "" {
		cfg.Server.Transport = serveTransport
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	gin.SetMode(cfg.Server.GinMode)

	app, err := NewApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := server.NewServer(&server.Config{
		Transport: cfg.Server.Transport,
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
	}, server.Deps{
		Tracker:     app.Tracker,
		Machine:     app.Machine,
		Analyzer:    app.Analyzer,
		Camera:      app.Camera,
		Hub:         app.Hub,
		Toaster:     app.Toaster,
		Diagnostics: app.Diagnostics,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-sigCh:
		logger.Println("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.Printf("Server error: %v", err)
		}
	}

	logger.Println("Shutting down...")
	cancel()
	if err := srv.Stop(); err != nil {
		logger.Printf("Error during shutdown: %v", err)
	}
	return nil
}
