package tool

import (
	"context"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/urfave/cli/v3"
)

// Tool is a set of functions the model can call
type Tool interface {
	// Specs returns the declarations of the functions this tool serves
	Specs() []model.ToolDeclaration

	// Execute runs one function of the tool. A returned error is reported to
	// the model as an error result, never to the caller of the turn.
	Execute(ctx context.Context, name string, args map[string]any) (string, error)

	// Prompt returns additional information to be added to the system prompt
	// Returns empty string if no additional prompt is needed
	Prompt(ctx context.Context) string

	// Flags returns CLI flags for this tool
	// Returns nil if no flags are needed
	Flags() []cli.Flag

	// Init prepares the tool with shared resources and reports whether it
	// should be offered to the model
	Init(ctx context.Context, client *Client) (bool, error)
}
