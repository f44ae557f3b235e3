package cli

import (
	"context"
	"time"

	"github.com/m-mizutani/comanager/pkg/service/mcp"
	"github.com/m-mizutani/comanager/pkg/tool"
	"github.com/m-mizutani/comanager/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func mcpCommand(cfg *config) *cli.Command {
	storeTools := newStoreTools()

	var flags []cli.Flag
	flags = append(flags, storefrontFlags(cfg)...)
	flags = append(flags, toolFlags(storeTools)...)
	flags = append(flags, &cli.DurationFlag{
		Name:        "tool-timeout",
		Usage:       "Timeout of each tool invocation",
		Value:       30 * time.Second,
		Sources:     cli.EnvVars("COMANAGER_TOOL_TIMEOUT"),
		Destination: &cfg.toolTimeout,
	})

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the store tools as an MCP server over stdio",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			storefront, err := cfg.newStorefront(ctx)
			if err != nil {
				return err
			}
			if storefront == nil {
				return goerr.New("a storefront is required to serve store tools")
			}

			registry, err := tool.Setup(ctx, &tool.Client{Storefront: storefront}, storeTools,
				tool.WithTimeout(cfg.toolTimeout))
			if err != nil {
				return err
			}

			logging.From(ctx).Info("serving MCP over stdio", "tools", registry.Names())
			return mcp.Serve(ctx, registry, Version)
		},
	}
}
