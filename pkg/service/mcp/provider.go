package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/tool"
	"github.com/m-mizutani/comanager/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
)

// Provider implements tool.Tool interface for MCP tools
type Provider struct {
	client *Client
	tools  []*mcpTool
}

type mcpTool struct {
	serverName string
	name       string
	decl       model.ToolDeclaration
}

var _ tool.Tool = (*Provider)(nil)

// NewProvider creates a new MCP tool provider
func NewProvider(client *Client) *Provider {
	return &Provider{client: client}
}

// Flags returns CLI flags for MCP provider
func (p *Provider) Flags() []cli.Flag {
	return nil // MCP config is loaded separately
}

// Init registers tools of every connected server. Tools whose input schema
// cannot be expressed as flat parameters are skipped.
func (p *Provider) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if p.client == nil {
		return false, nil
	}

	p.tools = nil
	for _, serverName := range p.client.Servers() {
		tools, err := p.client.Tools(serverName)
		if err != nil {
			return false, goerr.Wrap(err, "failed to get tools from server", goerr.V("server", serverName))
		}

		for _, t := range tools {
			params, err := parametersFromSchema(t.InputSchema)
			if err != nil {
				logging.From(ctx).Warn("skip MCP tool", "server", serverName, "tool", t.Name, "error", err)
				continue
			}

			p.tools = append(p.tools, &mcpTool{
				serverName: serverName,
				name:       t.Name,
				decl: model.ToolDeclaration{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  params,
				},
			})
		}
	}

	return len(p.tools) > 0, nil
}

func (p *Provider) Specs() []model.ToolDeclaration {
	specs := make([]model.ToolDeclaration, len(p.tools))
	for i, t := range p.tools {
		specs[i] = t.decl
	}
	return specs
}

// Prompt returns additional prompt information
func (p *Provider) Prompt(ctx context.Context) string {
	if len(p.tools) == 0 {
		return ""
	}

	return "You have access to MCP (Model Context Protocol) tools that provide additional capabilities such as repository access and issue tracking."
}

// Execute executes an MCP tool and returns its text content
func (p *Provider) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	var target *mcpTool
	for _, t := range p.tools {
		if t.name == name {
			target = t
			break
		}
	}
	if target == nil {
		return "", goerr.New("tool not found", goerr.V("name", name))
	}

	result, err := p.client.CallTool(ctx, target.serverName, target.name, args)
	if err != nil {
		return "", goerr.Wrap(err, "failed to call MCP tool")
	}

	text, err := resultText(result)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", goerr.New(text, goerr.V("server", target.serverName), goerr.V("tool", name))
	}
	return text, nil
}

func resultText(result *mcp.CallToolResult) (string, error) {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		raw, err := json.Marshal(c)
		if err != nil {
			return "", goerr.Wrap(err, "failed to marshal MCP content")
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, "\n"), nil
}

// Close disconnects from all MCP servers
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
