package tool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/tool"
	"github.com/m-mizutani/gt"
	"github.com/urfave/cli/v3"
)

type mockTool struct {
	specs   []model.ToolDeclaration
	enabled bool
	prompt  string
	execute func(ctx context.Context, name string, args map[string]any) (string, error)
}

func (m *mockTool) Specs() []model.ToolDeclaration { return m.specs }
func (m *mockTool) Prompt(ctx context.Context) string {
	return m.prompt
}
func (m *mockTool) Flags() []cli.Flag {
	return []cli.Flag{&cli.StringFlag{Name: "mock-" + m.specs[0].Name}}
}
func (m *mockTool) Init(ctx context.Context, client *tool.Client) (bool, error) {
	return m.enabled, nil
}
func (m *mockTool) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	return m.execute(ctx, name, args)
}

func echoTool(name string) *mockTool {
	return &mockTool{
		specs:   []model.ToolDeclaration{{Name: name, Description: "echo"}},
		enabled: true,
		execute: func(ctx context.Context, name string, args map[string]any) (string, error) {
			if v, ok := args["value"]; ok {
				return name + ":" + v.(string), nil
			}
			return name, nil
		},
	}
}

func TestInvoke(t *testing.T) {
	ctx := context.Background()
	reg := tool.New([]tool.Tool{echoTool("echo")})

	t.Run("string arguments", func(t *testing.T) {
		res := reg.Invoke(ctx, model.ToolCallRequest{ID: "1", Name: "echo", Arguments: `{"value":"hi"}`})
		gt.False(t, res.IsError)
		gt.Equal(t, res.Content, "echo:hi")
		gt.Equal(t, res.CallID, "1")
	})

	t.Run("structured arguments", func(t *testing.T) {
		res := reg.Invoke(ctx, model.ToolCallRequest{Name: "echo", Arguments: map[string]any{"value": "x"}})
		gt.Equal(t, res.Content, "echo:x")
	})

	t.Run("no arguments", func(t *testing.T) {
		res := reg.Invoke(ctx, model.ToolCallRequest{Name: "echo"})
		gt.False(t, res.IsError)
		gt.Equal(t, res.Content, "echo")
	})

	t.Run("malformed JSON", func(t *testing.T) {
		res := reg.Invoke(ctx, model.ToolCallRequest{Name: "echo", Arguments: `{"value":`})
		gt.True(t, res.IsError)
		gt.Equal(t, res.Content, "Error: Invalid tool arguments")
	})

	t.Run("non object JSON", func(t *testing.T) {
		res := reg.Invoke(ctx, model.ToolCallRequest{Name: "echo", Arguments: `[1,2]`})
		gt.True(t, res.IsError)
		gt.Equal(t, res.Content, "Error: Invalid tool arguments")
	})

	t.Run("unknown tool", func(t *testing.T) {
		res := reg.Invoke(ctx, model.ToolCallRequest{Name: "delete_everything"})
		gt.True(t, res.IsError)
		gt.Equal(t, res.Name, "delete_everything")
		gt.Equal(t, res.Content, "Error: Tool delete_everything not found")
	})

	t.Run("exact name match only", func(t *testing.T) {
		res := reg.Invoke(ctx, model.ToolCallRequest{Name: "ECHO"})
		gt.True(t, res.IsError)
	})
}

func TestInvokeContainsFailures(t *testing.T) {
	ctx := context.Background()

	failing := &mockTool{
		specs:   []model.ToolDeclaration{{Name: "fail"}},
		enabled: true,
		execute: func(ctx context.Context, name string, args map[string]any) (string, error) {
			return "", errors.New("upstream unavailable")
		},
	}
	panicking := &mockTool{
		specs:   []model.ToolDeclaration{{Name: "panic"}},
		enabled: true,
		execute: func(ctx context.Context, name string, args map[string]any) (string, error) {
			panic("boom")
		},
	}
	slow := &mockTool{
		specs:   []model.ToolDeclaration{{Name: "slow"}},
		enabled: true,
		execute: func(ctx context.Context, name string, args map[string]any) (string, error) {
			time.Sleep(time.Second)
			return "late", nil
		},
	}

	reg := tool.New([]tool.Tool{failing, panicking, slow}, tool.WithTimeout(50*time.Millisecond))

	res := reg.Invoke(ctx, model.ToolCallRequest{Name: "fail"})
	gt.True(t, res.IsError)
	gt.Equal(t, res.Content, "Error executing tool: upstream unavailable")

	res = reg.Invoke(ctx, model.ToolCallRequest{Name: "panic"})
	gt.True(t, res.IsError)
	gt.S(t, res.Content).Contains("Error executing tool:")

	start := time.Now()
	res = reg.Invoke(ctx, model.ToolCallRequest{Name: "slow"})
	gt.True(t, res.IsError)
	gt.True(t, time.Since(start) < 500*time.Millisecond)
}

func TestSetup(t *testing.T) {
	on := echoTool("on")
	off := echoTool("off")
	off.enabled = false

	reg, err := tool.Setup(context.Background(), &tool.Client{}, []tool.Tool{on, off})
	gt.NoError(t, err)
	gt.A(t, reg.Names()).Length(1)
	gt.Equal(t, reg.Names()[0], "on")
}

func TestRegistryListings(t *testing.T) {
	a := echoTool("a")
	a.prompt = "use a"
	b := echoTool("b")
	dup := echoTool("a")

	reg := tool.New([]tool.Tool{a, b, dup})
	gt.A(t, reg.Specs()).Length(2)
	gt.Equal(t, reg.Names()[1], "b")
	gt.Equal(t, reg.Prompts(context.Background()), "use a")
	gt.A(t, reg.Flags()).Length(3)

	out, err := reg.Execute(context.Background(), "b", map[string]any{"value": "v"})
	gt.NoError(t, err)
	gt.Equal(t, out, "b:v")

	_, err = reg.Execute(context.Background(), "missing", nil)
	gt.Error(t, err)
}
