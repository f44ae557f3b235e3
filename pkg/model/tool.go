package model

// ParameterType is the JSON type of a tool parameter
type ParameterType string

const (
	ParameterString  ParameterType = "string"
	ParameterInteger ParameterType = "integer"
	ParameterNumber  ParameterType = "number"
	ParameterBoolean ParameterType = "boolean"
)

// Parameter describes one named argument of a tool
type Parameter struct {
	Name        string
	Type        ParameterType
	Description string
	Required    bool
}

// ToolDeclaration is the model-facing description of a callable tool
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// RequiredParameters returns names of parameters flagged as required
func (d *ToolDeclaration) RequiredParameters() []string {
	var names []string
	for _, p := range d.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// ToolCallEvent is a tool call as emitted by a model provider. Payload keeps
// the provider's own shape (e.g. {"name","args"} or
// {"function":{"name","arguments"}}) and is resolved into a ToolCallRequest
// by the agent.
type ToolCallEvent struct {
	ID      string
	Payload map[string]any
}

// ToolCallRequest is a parsed tool call. Arguments is either a JSON encoded
// string or an already structured map.
type ToolCallRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// ToolResult is the outcome of exactly one ToolCallRequest
type ToolResult struct {
	CallID  string `json:"call_id,omitempty"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// NewToolError creates a ToolResult carrying an error text for the model
func NewToolError(callID, name, text string) ToolResult {
	return ToolResult{CallID: callID, Name: name, Content: text, IsError: true}
}

// StreamEvent is one element of a model output stream: either a text delta
// or a tool call event.
type StreamEvent struct {
	Text     string
	ToolCall *ToolCallEvent
}
