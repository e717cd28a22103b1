package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dshills/coursegraph/graph"
	"github.com/dshills/coursegraph/graph/store"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// NewMCPServer exposes the workflow to MCP clients with two tools:
// create_course runs the pipeline for a topic and get_run fetches an
// archived run by ID.
func NewMCPServer(runner *graph.Runner, st store.Store, version string) *mcpserver.MCPServer {
	t := &mcpTools{runner: runner, store: st}

	s := mcpserver.NewMCPServer(
		"coursegraph",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	createCourse := mcp.NewTool("create_course",
		mcp.WithDescription("Research a topic, have the findings judged, and write a course module in Markdown"),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("What the course should teach"),
		),
	)
	s.AddTool(createCourse, t.handleCreateCourse)

	getRun := mcp.NewTool("get_run",
		mcp.WithDescription("Fetch an archived course run with its trace and final state"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("The run ID returned by create_course"),
		),
	)
	s.AddTool(getRun, t.handleGetRun)

	return s
}

// ServeStdio serves s over stdin and stdout until the client disconnects.
func ServeStdio(s *mcpserver.MCPServer) error {
	return mcpserver.ServeStdio(s)
}

type mcpTools struct {
	runner *graph.Runner
	store  store.Store
}

func (t *mcpTools) handleCreateCourse(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := request.RequireString("topic")
	if err != nil || topic == "" {
		return mcp.NewToolResultError("topic parameter is required"), nil
	}

	res, err := t.runner.Run(ctx, topic)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %s failed: %v", res.RunID, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("run_id: %s\n\n%s", res.RunID, res.Output)), nil
}

func (t *mcpTools) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("run_id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("run_id parameter is required"), nil
	}
	if t.store == nil {
		return mcp.NewToolResultError("run archive disabled"), nil
	}

	run, err := t.store.LoadRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError("run not found: " + id), nil
	}
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
