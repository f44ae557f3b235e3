package adapter

import (
	"context"
	"iter"

	"github.com/m-mizutani/comanager/pkg/model"
)

// ChatRequest is a single model round: the full message list (system
// message first) and the tools the model may call.
type ChatRequest struct {
	// Model overrides the client's default model when not empty
	Model       string
	Messages    []model.Message
	Tools       []model.ToolDeclaration
	Temperature float32
}

// LLM streams a chat completion. The sequence yields text deltas and tool
// call events in arrival order and stops after the first error.
type LLM interface {
	StreamChat(ctx context.Context, req *ChatRequest) iter.Seq2[*model.StreamEvent, error]
}

// Embedder turns text into a vector for similarity search
type Embedder interface {
	Embedding(ctx context.Context, text string) ([]float32, error)
}
