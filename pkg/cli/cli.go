package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

// Version is reported by the MCP server
const Version = "0.1.0"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	var cfg config

	cmd := &cli.Command{
		Name:  "comanager",
		Usage: "Marketing and technical co-manager agents",
		Flags: globalFlags(&cfg),
		Commands: []*cli.Command{
			serveCommand(&cfg),
			chatCommand(&cfg),
			recallCommand(&cfg),
			mcpCommand(&cfg),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// agentFlags returns flags needed to build the agent runtime
func agentFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, repositoryFlags(cfg)...)
	flags = append(flags, storefrontFlags(cfg)...)
	flags = append(flags, projectFlags(cfg)...)
	flags = append(flags, extensionFlags(cfg)...)
	return flags
}
