package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/repository"
	"github.com/m-mizutani/gt"
)

func putMemory(t *testing.T, repo repository.Repository, user model.UserID, content string, vec []float32) {
	t.Helper()
	gt.NoError(t, repo.PutMemory(context.Background(), &model.Memory{
		ID:        model.NewMemoryID(),
		UserID:    user,
		Category:  "marketing_agent",
		Content:   content,
		Embedding: vec,
		CreatedAt: time.Now(),
	}))
}

func TestMemorySearchOrdersBySimilarity(t *testing.T) {
	repo := repository.NewMemory()
	ctx := context.Background()

	putMemory(t, repo, "alice", "far", []float32{0, 1, 0})
	putMemory(t, repo, "alice", "close", []float32{0.9, 0.1, 0})
	putMemory(t, repo, "alice", "exact", []float32{1, 0, 0})

	hits, err := repo.SearchMemories(ctx, "alice", []float32{1, 0, 0}, 3, 0.7)
	gt.NoError(t, err)
	gt.A(t, hits).Length(2)
	gt.Equal(t, hits[0].Memory.Content, "exact")
	gt.Equal(t, hits[1].Memory.Content, "close")
	gt.True(t, hits[0].Similarity > 0.99)
}

func TestMemorySearchIsUserScoped(t *testing.T) {
	repo := repository.NewMemory()
	ctx := context.Background()

	putMemory(t, repo, "alice", "alice secret", []float32{1, 0})
	putMemory(t, repo, "bob", "bob secret", []float32{1, 0})

	hits, err := repo.SearchMemories(ctx, "bob", []float32{1, 0}, 10, 0)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Memory.UserID, model.UserID("bob"))

	hits, err = repo.SearchMemories(ctx, "carol", []float32{1, 0}, 10, 0)
	gt.NoError(t, err)
	gt.A(t, hits).Length(0)
}

func TestMemorySearchThresholdIsStrict(t *testing.T) {
	repo := repository.NewMemory()
	putMemory(t, repo, "alice", "same", []float32{1, 0})

	hits, err := repo.SearchMemories(context.Background(), "alice", []float32{1, 0}, 3, 1.0)
	gt.NoError(t, err)
	gt.A(t, hits).Length(0)
}

func TestMemorySearchLimitAndDimensions(t *testing.T) {
	repo := repository.NewMemory()
	for i := 0; i < 5; i++ {
		putMemory(t, repo, "alice", "m", []float32{1, float32(i) * 0.01})
	}
	putMemory(t, repo, "alice", "other dims", []float32{1, 0, 0})
	putMemory(t, repo, "alice", "zero", []float32{0, 0})

	hits, err := repo.SearchMemories(context.Background(), "alice", []float32{1, 0}, 3, 0.7)
	gt.NoError(t, err)
	gt.A(t, hits).Length(3)
	gt.Equal(t, repo.Count("alice"), 7)
}
