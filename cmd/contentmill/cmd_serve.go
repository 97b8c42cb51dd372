package main

import (
	"context"

	"github.com/spf13/cobra"

	"contentmill/internal/logging"
	mcpserver "contentmill/internal/mcp"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: `Starts an MCP server over stdin/stdout. Clients start batches, poll
their progress and signals, fetch reports, and re-run single steps through
tools.

The server monitors for parent process death and shuts down when its client
goes away.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := mcpserver.NewServer(mcpserver.Deps{
		Service:       app.Service,
		Orchestrator:  app.Orchestrator,
		Store:         app.Store,
		DefaultTarget: cfg.Batch.TargetCount,
		Version:       version,
	})
	defer srv.Shutdown()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	mcpserver.WatchParent(ctx, cancel)

	logging.New("mcp").Info("starting contentmill MCP server over stdio (parent watchdog active)")
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
