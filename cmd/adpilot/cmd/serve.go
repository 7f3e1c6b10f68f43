package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/adpilot/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP submission API",
	Long: `Start the REST API for submitting and inspecting workflows.

Endpoints:
  POST /api/v1/workflows                    submit an instruction
  GET  /api/v1/workflows                    list workflows
  GET  /api/v1/workflows/{id}               final report (202 while running)
  GET  /api/v1/workflows/{id}/tool-calls    audit trail
  GET  /api/v1/workflows/{id}/events        progress stream (text/event-stream)
  POST /api/v1/workflows/{id}/cancel        stop after the current phase

Examples:
  adpilot serve
  adpilot serve --addr 0.0.0.0:9000`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from server.addr)")
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			app.Logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	addr := serveAddr
	if addr == "" {
		addr = app.Config.Server.Addr
	}

	server := api.NewServer(app.Service,
		api.WithLogger(app.Logger.Logger),
		api.WithAllowedOrigins(app.Config.Server.CORSOrigins),
		api.WithEvents(app.Events),
	)
	return server.ListenAndServe(ctx, addr)
}
