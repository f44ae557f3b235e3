package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/comanager/pkg/model"
	"gonum.org/v1/gonum/floats"
)

// Memory is an in-process Repository for local runs and tests
type Memory struct {
	mu       sync.RWMutex
	memories map[model.UserID][]*model.Memory
}

func NewMemory() *Memory {
	return &Memory{
		memories: make(map[model.UserID][]*model.Memory),
	}
}

func (m *Memory) PutMemory(ctx context.Context, memory *model.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *memory
	m.memories[memory.UserID] = append(m.memories[memory.UserID], &copied)
	return nil
}

func (m *Memory) SearchMemories(ctx context.Context, userID model.UserID, embedding []float32, limit int, minSimilarity float64) ([]*model.MemoryHit, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := toFloat64(embedding)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []*model.MemoryHit
	for _, mem := range m.memories[userID] {
		sim, ok := cosineSimilarity(query, toFloat64(mem.Embedding))
		if !ok || sim <= minSimilarity {
			continue
		}
		copied := *mem
		hits = append(hits, &model.MemoryHit{Memory: &copied, Similarity: sim})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Count returns the number of memories stored for the user
func (m *Memory) Count(userID model.UserID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.memories[userID])
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func cosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0, false
	}
	return floats.Dot(a, b) / (na * nb), true
}
