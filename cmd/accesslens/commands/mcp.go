package commands

import (
	"github.com/spf13/cobra"

	mcpserver "github.com/accesslens/accesslens/internal/mcp"
	"github.com/accesslens/accesslens/internal/triage"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start AccessLens as an MCP server (stdio)",
		Long: `Exposes the triage workflow as an MCP tool server acting as one tenant
member. Add to your MCP client config:

  {
    "mcpServers": {
      "accesslens": {
        "command": "accesslens",
        "args": ["mcp", "--config", "./accesslens.yaml", "--tenant", "acme", "--actor", "<profile-id>"]
      }
    }
  }

Tools: list_findings, get_finding, apply_finding_action, recompute_risk`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireActor(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// stdout carries the protocol; keep logs quiet on stderr.
			logger := newLogger("error")

			a, err := openApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			s := mcpserver.NewServer(a.svc, triage.Actor{TenantID: tenantID, UserID: actorID}, version, logger)
			return mcpserver.Serve(cmd.Context(), s)
		},
	}
}
