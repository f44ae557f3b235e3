package mcp

import (
	"context"

	"github.com/m-mizutani/comanager/pkg/adapter"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/tool"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewServer exposes every function of the registry as an MCP tool. Tool
// failures are returned as error results, the same text the agents see.
func NewServer(registry *tool.Registry, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "comanager",
		Version: version,
	}, nil)

	for _, spec := range registry.Specs() {
		server.AddTool(&mcp.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: adapter.ParametersSchema(spec.Parameters),
		}, callHandler(registry, spec.Name))
	}

	return server
}

func callHandler(registry *tool.Registry, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args any
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			args = string(req.Params.Arguments)
		}

		res := registry.Invoke(ctx, model.ToolCallRequest{Name: name, Arguments: args})
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Content}},
			IsError: res.IsError,
		}, nil
	}
}

// Serve runs the MCP server over stdio until the client disconnects or ctx
// is canceled
func Serve(ctx context.Context, registry *tool.Registry, version string) error {
	return NewServer(registry, version).Run(ctx, &mcp.StdioTransport{})
}
