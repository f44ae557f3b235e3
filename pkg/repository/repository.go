package repository

import (
	"context"

	"github.com/m-mizutani/comanager/pkg/model"
)

// Repository defines the interface for memory persistence. Every search is
// scoped to a single user.
type Repository interface {
	// PutMemory appends a memory record
	PutMemory(ctx context.Context, memory *model.Memory) error

	// SearchMemories returns up to limit memories of the user whose cosine
	// similarity to embedding is strictly greater than minSimilarity, most
	// similar first
	SearchMemories(ctx context.Context, userID model.UserID, embedding []float32, limit int, minSimilarity float64) ([]*model.MemoryHit, error)
}
