package adapter

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

type GeminiClient struct {
	client              *genai.Client
	generativeModel     string
	embeddingModel      string
	embeddingDimensions int32
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

// WithEmbeddingDimensions sets the output vector size. Firestore vector
// indexes accept at most 2048 dimensions.
func WithEmbeddingDimensions(n int32) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingDimensions = n
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:              client,
		generativeModel:     "gemini-2.5-flash",
		embeddingModel:      "gemini-embedding-001",
		embeddingDimensions: 768,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// StreamChat implements LLM. Function calls are reported as tool call
// events with a {"name", "args"} payload.
func (g *GeminiClient) StreamChat(ctx context.Context, req *ChatRequest) iter.Seq2[*model.StreamEvent, error] {
	return func(yield func(*model.StreamEvent, error) bool) {
		system, contents, err := toGeminiContents(req.Messages)
		if err != nil {
			yield(nil, err)
			return
		}

		modelName := g.generativeModel
		if req.Model != "" {
			modelName = req.Model
		}

		config := &genai.GenerateContentConfig{
			SystemInstruction: system,
			Tools:             toGeminiTools(req.Tools),
		}
		if req.Temperature > 0 {
			config.Temperature = genai.Ptr(req.Temperature)
		}

		for resp, err := range g.client.Models.GenerateContentStream(ctx, modelName, contents, config) {
			if err != nil {
				yield(nil, goerr.Wrap(err, "failed to stream content", goerr.V("model", modelName)))
				return
			}
			for _, ev := range geminiEvents(resp) {
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}

func (g *GeminiClient) Embedding(ctx context.Context, text string) ([]float32, error) {
	config := &genai.EmbedContentConfig{}
	if g.embeddingDimensions > 0 {
		config.OutputDimensionality = genai.Ptr(g.embeddingDimensions)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content")
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.New("empty embedding response", goerr.V("model", g.embeddingModel))
	}

	return resp.Embeddings[0].Values, nil
}

// toGeminiContents splits system messages into the system instruction and
// converts the rest. Consecutive tool messages are merged into a single
// user content with one FunctionResponse part each.
func toGeminiContents(messages []model.Message) (*genai.Content, []*genai.Content, error) {
	var system *genai.Content
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: msg.Content})

		case model.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})

		case model.RoleAssistant:
			content := &genai.Content{Role: "model"}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				args, err := argumentMap(call.Arguments)
				if err != nil {
					return nil, nil, goerr.Wrap(err, "failed to convert tool call arguments", goerr.V("name", call.Name))
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: args},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}

		case model.RoleTool:
			part := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.Name,
					Response: map[string]any{"output": msg.Content},
				},
			}
			if n := len(contents); n > 0 && isFunctionResponseContent(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
			} else {
				contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
			}

		default:
			return nil, nil, goerr.New("unsupported message role", goerr.V("role", msg.Role))
		}
	}

	return system, contents, nil
}

func isFunctionResponseContent(c *genai.Content) bool {
	if c.Role != "user" || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func argumentMap(args any) (map[string]any, error) {
	switch v := args.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		if v == "" {
			return map[string]any{}, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, goerr.Wrap(err, "arguments are not a JSON object")
		}
		return m, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal arguments")
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, goerr.Wrap(err, "arguments are not a JSON object")
		}
		return m, nil
	}
}

func toGeminiTools(decls []model.ToolDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}

	tool := &genai.Tool{}
	for _, d := range decls {
		fd := &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
		}
		if len(d.Parameters) > 0 {
			schema := &genai.Schema{
				Type:       genai.TypeObject,
				Properties: make(map[string]*genai.Schema, len(d.Parameters)),
				Required:   d.RequiredParameters(),
			}
			for _, p := range d.Parameters {
				schema.Properties[p.Name] = &genai.Schema{
					Type:        geminiType(p.Type),
					Description: p.Description,
				}
			}
			fd.Parameters = schema
		}
		tool.FunctionDeclarations = append(tool.FunctionDeclarations, fd)
	}

	return []*genai.Tool{tool}
}

func geminiType(t model.ParameterType) genai.Type {
	switch t {
	case model.ParameterInteger:
		return genai.TypeInteger
	case model.ParameterNumber:
		return genai.TypeNumber
	case model.ParameterBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func geminiEvents(resp *genai.GenerateContentResponse) []*model.StreamEvent {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}

	var events []*model.StreamEvent
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			events = append(events, &model.StreamEvent{
				ToolCall: &model.ToolCallEvent{
					ID: part.FunctionCall.ID,
					Payload: map[string]any{
						"name": part.FunctionCall.Name,
						"args": part.FunctionCall.Args,
					},
				},
			})
		case part.Text != "" && !part.Thought:
			events = append(events, &model.StreamEvent{Text: part.Text})
		}
	}
	return events
}
