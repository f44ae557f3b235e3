package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/repository"
	"github.com/m-mizutani/gt"
)

func setupFirestore(t *testing.T) *repository.Firestore {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	repo, err := repository.NewFirestore(context.Background(), projectID, databaseID,
		repository.WithCollection("memories_test"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func TestFirestoreSearchMemories(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()

	owner := model.UserID("test-" + string(model.NewMemoryID()))
	other := model.UserID("test-" + string(model.NewMemoryID()))
	vec := []float32{0.6, 0.8, 0}

	for _, uid := range []model.UserID{owner, other} {
		gt.NoError(t, repo.PutMemory(ctx, &model.Memory{
			ID:        model.NewMemoryID(),
			UserID:    uid,
			Category:  "technical_chat",
			Content:   "User Query: hi\nAgent Response: hello",
			Metadata:  map[string]any{"type": "conversation_turn"},
			Embedding: vec,
			CreatedAt: time.Now(),
		}))
	}

	hits, err := repo.SearchMemories(ctx, owner, vec, 3, 0.7)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].Memory.UserID, owner)
	gt.True(t, hits[0].Similarity > 0.99)
}
