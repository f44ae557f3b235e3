package agent

import (
	"github.com/m-mizutani/comanager/pkg/model"
)

// UnknownToolName names the result of a tool call whose name could not be
// determined
const UnknownToolName = "unknown_tool"

const errUnknownToolText = "Error: Could not determine tool name"

// CallShape is the payload layout a tool call event was recognized as
type CallShape int

const (
	ShapeUnrecognized CallShape = iota
	// ShapeFunction is {"function": {"name", "arguments"}}
	ShapeFunction
	// ShapeTool is {"tool": {"name", "arguments"}}
	ShapeTool
	// ShapeFlat is {"name", "arguments" | "args" | "input" | "parameters"}
	ShapeFlat
	// ShapeFunc is {"func": {"name", "arguments"}}
	ShapeFunc
)

func (s CallShape) String() string {
	switch s {
	case ShapeFunction:
		return "function"
	case ShapeTool:
		return "tool"
	case ShapeFlat:
		return "flat"
	case ShapeFunc:
		return "func"
	default:
		return "unrecognized"
	}
}

// ParsedCall is the outcome of parsing one tool call event. Request.Name
// is empty when Shape is ShapeUnrecognized.
type ParsedCall struct {
	Shape   CallShape
	Request model.ToolCallRequest
}

// Recognized reports whether a tool name was found
func (p ParsedCall) Recognized() bool {
	return p.Shape != ShapeUnrecognized
}

var flatArgumentKeys = []string{"arguments", "args", "input", "parameters"}

// ParseToolCall resolves a provider tool call payload. A payload carrying a
// non-empty "tools" array is resolved from its first element. Shapes are
// tried in the order function, tool, flat, func.
func ParseToolCall(ev *model.ToolCallEvent) ParsedCall {
	if ev == nil {
		return ParsedCall{}
	}

	obj := ev.Payload
	if tools, ok := obj["tools"].([]any); ok && len(tools) > 0 {
		if first, ok := tools[0].(map[string]any); ok {
			obj = first
		}
	}

	id := ev.ID
	if id == "" {
		id, _ = obj["id"].(string)
	}

	parsed := ParsedCall{Request: model.ToolCallRequest{ID: id}}

	if name, args, ok := nested(obj, "function"); ok {
		parsed.Shape = ShapeFunction
		parsed.Request.Name, parsed.Request.Arguments = name, args
		return parsed
	}
	if name, args, ok := nested(obj, "tool"); ok {
		parsed.Shape = ShapeTool
		parsed.Request.Name, parsed.Request.Arguments = name, args
		return parsed
	}
	if name, ok := obj["name"].(string); ok && name != "" {
		parsed.Shape = ShapeFlat
		parsed.Request.Name = name
		for _, key := range flatArgumentKeys {
			if v, ok := obj[key]; ok && v != nil {
				parsed.Request.Arguments = v
				break
			}
		}
		return parsed
	}
	if name, args, ok := nested(obj, "func"); ok {
		parsed.Shape = ShapeFunc
		parsed.Request.Name, parsed.Request.Arguments = name, args
		return parsed
	}

	return parsed
}

func nested(obj map[string]any, key string) (string, any, bool) {
	inner, ok := obj[key].(map[string]any)
	if !ok {
		return "", nil, false
	}
	name, ok := inner["name"].(string)
	if !ok || name == "" {
		return "", nil, false
	}
	return name, inner["arguments"], true
}
