package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// OpenAIClient talks to an OpenAI compatible chat completions endpoint
type OpenAIClient struct {
	baseURL        string
	apiKey         string
	chatModel      string
	embeddingModel string
	httpClient     *http.Client
}

type OpenAIOption func(*OpenAIClient)

func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

func WithOpenAIModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.chatModel = model
	}
}

func WithOpenAIEmbeddingModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.embeddingModel = model
	}
}

func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(c *OpenAIClient) {
		c.httpClient = client
	}
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		baseURL:        "https://api.openai.com/v1",
		apiKey:         apiKey,
		chatModel:      "gpt-4o",
		embeddingModel: "text-embedding-3-small",
		httpClient:     http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type openaiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type openaiToolCall struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openaiFunctionCall `json:"function"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openaiFunction struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	Temperature *float32        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *openaiError `json:"error,omitempty"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// StreamChat implements LLM using server-sent events. Tool call fragments
// are accumulated by index and emitted once the model finishes the round,
// with the provider's own {"id","type","function":{...}} payload.
func (c *OpenAIClient) StreamChat(ctx context.Context, req *ChatRequest) iter.Seq2[*model.StreamEvent, error] {
	return func(yield func(*model.StreamEvent, error) bool) {
		body, err := c.buildChatRequest(req)
		if err != nil {
			yield(nil, err)
			return
		}

		resp, err := c.post(ctx, "/chat/completions", body)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		calls := make(map[int]*openaiToolCall)
		flush := func() bool {
			indexes := make([]int, 0, len(calls))
			for idx := range calls {
				indexes = append(indexes, idx)
			}
			sort.Ints(indexes)
			for _, idx := range indexes {
				if !yield(&model.StreamEvent{ToolCall: openaiToolCallEvent(calls[idx])}, nil) {
					return false
				}
			}
			clear(calls)
			return true
		}

		finished := false
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil && err != io.EOF {
				yield(nil, goerr.Wrap(err, "failed to read chat stream"))
				return
			}
			eof := err == io.EOF

			line = bytes.TrimSpace(line)
			if data, ok := bytes.CutPrefix(line, []byte("data:")); ok {
				data = bytes.TrimSpace(data)
				if bytes.Equal(data, []byte("[DONE]")) {
					flush()
					return
				}

				var chunk openaiStreamChunk
				if err := json.Unmarshal(data, &chunk); err != nil {
					yield(nil, goerr.Wrap(err, "failed to decode chat stream chunk", goerr.V("data", string(data))))
					return
				}
				if chunk.Error != nil {
					yield(nil, goerr.New("chat stream reported an error",
						goerr.V("message", chunk.Error.Message),
						goerr.V("type", chunk.Error.Type)))
					return
				}

				for _, choice := range chunk.Choices {
					if choice.Delta.Content != "" {
						if !yield(&model.StreamEvent{Text: choice.Delta.Content}, nil) {
							return
						}
					}
					for _, delta := range choice.Delta.ToolCalls {
						call, ok := calls[delta.Index]
						if !ok {
							call = &openaiToolCall{Index: delta.Index, Type: "function"}
							calls[delta.Index] = call
						}
						if delta.ID != "" {
							call.ID = delta.ID
						}
						if delta.Function.Name != "" {
							call.Function.Name += delta.Function.Name
						}
						call.Function.Arguments += delta.Function.Arguments
					}
					if choice.FinishReason != "" {
						finished = true
						if !flush() {
							return
						}
					}
				}
			}

			if eof {
				if !finished {
					yield(nil, goerr.New("chat stream ended before completion"))
					return
				}
				flush()
				return
			}
		}
	}
}

func openaiToolCallEvent(call *openaiToolCall) *model.ToolCallEvent {
	return &model.ToolCallEvent{
		ID: call.ID,
		Payload: map[string]any{
			"id":   call.ID,
			"type": call.Type,
			"function": map[string]any{
				"name":      call.Function.Name,
				"arguments": call.Function.Arguments,
			},
		},
	}
}

func (c *OpenAIClient) buildChatRequest(req *ChatRequest) ([]byte, error) {
	chatModel := c.chatModel
	if req.Model != "" {
		chatModel = req.Model
	}

	body := openaiChatRequest{
		Model:  chatModel,
		Stream: true,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	for _, msg := range req.Messages {
		m := openaiMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for i, call := range msg.ToolCalls {
			args, err := argumentString(call.Arguments)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to encode tool call arguments", goerr.V("name", call.Name))
			}
			m.ToolCalls = append(m.ToolCalls, openaiToolCall{
				Index:    i,
				ID:       call.ID,
				Type:     "function",
				Function: openaiFunctionCall{Name: call.Name, Arguments: args},
			})
		}
		body.Messages = append(body.Messages, m)
	}

	for _, d := range req.Tools {
		body.Tools = append(body.Tools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  ParametersSchema(d.Parameters),
			},
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal chat request")
	}
	return raw, nil
}

// ParametersSchema converts tool parameters into a JSON Schema object
func ParametersSchema(params []model.Parameter) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(params)),
	}
	for _, p := range params {
		schema.Properties[p.Name] = &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description,
		}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

func argumentString(args any) (string, error) {
	switch v := args.(type) {
	case nil:
		return "{}", nil
	case string:
		if v == "" {
			return "{}", nil
		}
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

type openaiEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openaiEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embedding implements Embedder
func (c *OpenAIClient) Embedding(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openaiEmbeddingRequest{Model: c.embeddingModel, Input: text})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal embedding request")
	}

	resp, err := c.post(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out openaiEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, goerr.Wrap(err, "failed to decode embedding response")
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, goerr.New("empty embedding response", goerr.V("model", c.embeddingModel))
	}
	return out.Data[0].Embedding, nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request", goerr.V("path", path))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "request failed", goerr.V("path", path))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error *openaiError `json:"error"`
		}
		msg := string(raw)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != nil {
			msg = apiErr.Error.Message
		}
		return nil, goerr.New("API request failed",
			goerr.V("path", path),
			goerr.V("status", resp.StatusCode),
			goerr.V("message", msg))
	}

	return resp, nil
}
