package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bwads001/claude-conversation-analyzer/internal/mcp"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve search tools over MCP on stdin/stdout",
		Long: `Run an MCP server on stdio exposing search_conversations,
expand_conversation and list_projects. Logs go to stderr.

Register it with a client, for example:
  claude mcp add cca -- cca mcp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(a.engine(), Version, log.Logger)
			return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
		},
	}
}
