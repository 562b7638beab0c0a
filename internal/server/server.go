// Package server wires all indexbridge components and creates the MCP
// server and the operational HTTP router.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools, resources and tasks that depend on
// abstractions. No business logic lives here, only wiring.
package server

import (
	"github.com/HendryAvila/indexbridge/internal/resources"
	"github.com/HendryAvila/indexbridge/internal/tools"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools and resources
// of svc registered.
func New(svc *Service) *server.MCPServer {
	s := server.NewMCPServer(
		"indexbridge",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Index tools ---

	updateTool := tools.NewUpdateIndexTool(svc.Indexer)
	s.AddTool(updateTool.Definition(), updateTool.Handle)

	vectorTool := tools.NewSearchVectorTool(svc.Vector, svc.Config.Index.Collection, svc.Config.Index.UserID)
	s.AddTool(vectorTool.Definition(), vectorTool.Handle)

	graphTool := tools.NewSearchGraphTool(svc.Graph, svc.Config.Index.UserID)
	s.AddTool(graphTool.Definition(), graphTool.Handle)

	// --- WAL tools ---

	statsTool := tools.NewWALStatsTool(svc.WAL)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	failedTool := tools.NewWALFailedTool(svc.WAL)
	s.AddTool(failedTool.Definition(), failedTool.Handle)

	runTaskTool := tools.NewRunTaskTool(svc.Scheduler, statsTool)
	s.AddTool(runTaskTool.Definition(), runTaskTool.Handle)

	resolveTool := tools.NewResolveTool(svc.WAL)
	s.AddTool(resolveTool.Definition(), resolveTool.Handle)

	// --- Resources ---

	rh := resources.NewHandler(svc.WAL, svc.Scheduler)
	s.AddResource(rh.StatisticsResource(), rh.HandleStatistics)

	return s
}

// serverInstructions returns the system instructions that tell the AI
// how to use indexbridge.
func serverInstructions() string {
	return `You have access to indexbridge, which keeps a semantic (vector) index and a
code graph index of a repository up to date.

## Keeping the indexes current

After you create, modify or delete files, call update_code_index with every
changed file:
- status "added" or "modified" with the full file content
- status "deleted" with no content

Each change is journaled in a write-ahead log before it is applied. If an index
is unavailable the change is recorded as failed. Failed "added" and "modified"
changes are retried automatically in the background from the journaled content,
so you do not need to resend them. Failed "deleted" changes carry no content and
are NOT retried: re-send them later, and clear the failed entry with wal_resolve.
The update_code_index result says which case applies to each failed file.

## Searching

- search_vector_db finds code by meaning ("where are users loaded from the database").
- search_graph_db finds functions, classes, types and modules by name and shows
  what they call, import and define.

## Maintenance

- wal_stats shows how many operations are pending, succeeded or failed.
- wal_failed lists failed operations and whether they can still be recovered.
- wal_run_task runs wal_recovery or wal_cleanup immediately.
- wal_resolve clears a failed operation that can never be recovered, for
  example after re-sending the file with update_code_index.`
}
