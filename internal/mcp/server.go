// Package mcp exposes finding triage to agents as MCP tools. The server
// acts as one fixed tenant member; agents cannot choose who they are.
package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/accesslens/accesslens/internal/triage"
)

// NewServer creates an MCP server exposing accesslens tools.
func NewServer(svc *triage.Service, actor triage.Actor, version string, logger *slog.Logger) *mcp.Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "accesslens",
		Version: version,
	}, &mcp.ServerOptions{
		Instructions: "AccessLens triages identity access risk. Use these tools to list and inspect " +
			"risk findings, record review actions, and recompute findings for the tenant.",
	})

	h := &handlers{svc: svc, actor: actor, logger: logger}
	s.AddTool(listFindingsTool(), h.handleListFindings)
	s.AddTool(getFindingTool(), h.handleGetFinding)
	s.AddTool(applyActionTool(), h.handleApplyAction)
	s.AddTool(recomputeTool(), h.handleRecompute)
	return s
}

// Serve runs the MCP server on stdio until ctx is done or the client
// disconnects.
func Serve(ctx context.Context, s *mcp.Server) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}
