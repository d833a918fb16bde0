package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/chronicle/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an agent ask chronicle about its sibling sessions: which are
waiting for input, which are failing, and what happened recently.
Configure in Claude Code with:

  {
    "mcpServers": {
      "chronicle": { "command": "chronicle", "args": ["mcp"] }
    }
  }

Available tools: chronicle_list_events, chronicle_list_sessions,
chronicle_status_summary, chronicle_attention, chronicle_connection_health`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(parent context.Context) error {
	eng, src, err := newEngine(parent)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	eng.Start(ctx)
	defer eng.Stop()

	g.Go(func() error { return src.Run(ctx) })
	g.Go(func() error {
		// stdin closing ends the session and the feed with it
		defer cancel()
		return mcp.NewServer(eng, buildVersion).ServeStdio(ctx)
	})
	return g.Wait()
}
