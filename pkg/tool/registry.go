package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

var (
	errToolNotFound     = goerr.New("tool not found")
	errInvalidArguments = goerr.New("invalid tool arguments")
	errToolPanicked     = goerr.New("tool panicked")
)

// Registry manages available tools for the LLM. Function names are unique
// within a registry; a later tool declaring an existing name is ignored.
type Registry struct {
	tools    map[string]Tool
	allTools []Tool
	specs    []model.ToolDeclaration
	timeout  time.Duration
}

type RegistryOption func(*Registry)

// WithTimeout bounds every tool invocation
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.timeout = d
	}
}

// New creates a new tool registry with the given tools
func New(tools []Tool, opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:    make(map[string]Tool),
		allTools: tools,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, t := range tools {
		for _, spec := range t.Specs() {
			if _, exists := r.tools[spec.Name]; exists {
				continue
			}
			r.tools[spec.Name] = t
			r.specs = append(r.specs, spec)
		}
	}

	return r
}

// Setup initializes tools with the shared client and returns a registry of
// those that report themselves enabled
func Setup(ctx context.Context, client *Client, tools []Tool, opts ...RegistryOption) (*Registry, error) {
	var enabled []Tool
	for _, t := range tools {
		ok, err := t.Init(ctx, client)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize tool")
		}
		if ok {
			enabled = append(enabled, t)
		}
	}
	return New(enabled, opts...), nil
}

// Specs returns all function declarations in registration order
func (r *Registry) Specs() []model.ToolDeclaration {
	specs := make([]model.ToolDeclaration, len(r.specs))
	copy(specs, r.specs)
	return specs
}

// Names returns all function names in registration order
func (r *Registry) Names() []string {
	names := make([]string, len(r.specs))
	for i, s := range r.specs {
		names[i] = s.Name
	}
	return names
}

// Prompts returns all tool prompts concatenated
func (r *Registry) Prompts(ctx context.Context) string {
	var prompts []string
	for _, t := range r.allTools {
		if prompt := t.Prompt(ctx); prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return strings.Join(prompts, "\n\n")
}

// Flags returns all tool flags combined
func (r *Registry) Flags() []cli.Flag {
	var flags []cli.Flag
	for _, t := range r.allTools {
		if toolFlags := t.Flags(); toolFlags != nil {
			flags = append(flags, toolFlags...)
		}
	}
	return flags
}

// Execute runs the named function with structured arguments
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", goerr.Wrap(errToolNotFound, "tool not found", goerr.V("name", name))
	}
	return r.run(ctx, t, name, args)
}

// Invoke resolves a tool call into exactly one ToolResult. Failures are
// reported in the result content and never returned as errors.
func (r *Registry) Invoke(ctx context.Context, req model.ToolCallRequest) model.ToolResult {
	logger := logging.From(ctx).With("tool", req.Name, "call_id", req.ID)

	t, ok := r.tools[req.Name]
	if !ok {
		logger.Warn("tool not found")
		return model.NewToolError(req.ID, req.Name, fmt.Sprintf("Error: Tool %s not found", req.Name))
	}

	args, err := parseArguments(req.Arguments)
	if err != nil {
		logger.Warn("invalid tool arguments", "error", err)
		return model.NewToolError(req.ID, req.Name, "Error: Invalid tool arguments")
	}

	out, err := r.run(ctx, t, req.Name, args)
	if err != nil {
		logger.Warn("tool execution failed", "error", err)
		return model.NewToolError(req.ID, req.Name, "Error executing tool: "+err.Error())
	}

	logger.Debug("tool executed", "bytes", len(out))
	return model.ToolResult{CallID: req.ID, Name: req.Name, Content: out}
}

type runResult struct {
	out string
	err error
}

// run executes the tool under the registry timeout. The result is abandoned
// if the tool does not return in time.
func (r *Registry) run(ctx context.Context, t Tool, name string, args map[string]any) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- runResult{err: goerr.Wrap(errToolPanicked, "tool panicked", goerr.V("name", name), goerr.V("panic", v))}
			}
		}()
		out, err := t.Execute(ctx, name, args)
		done <- runResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		return "", goerr.Wrap(ctx.Err(), "tool timed out", goerr.V("name", name))
	}
}

// parseArguments accepts a JSON object string, a structured map or nothing
func parseArguments(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]any{}, nil
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(v), &args); err != nil {
			return nil, goerr.Wrap(errInvalidArguments, "arguments are not a JSON object", goerr.V("error", err.Error()))
		}
		if args == nil {
			args = map[string]any{}
		}
		return args, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, goerr.Wrap(errInvalidArguments, "failed to marshal arguments", goerr.V("error", err.Error()))
		}
		var args map[string]any
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, goerr.Wrap(errInvalidArguments, "arguments are not an object", goerr.V("error", err.Error()))
		}
		return args, nil
	}
}
