package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/repository"
	"github.com/m-mizutani/comanager/pkg/usecase/memory"
	"github.com/m-mizutani/gt"
)

// keywordEmbedder maps texts onto a small vocabulary space so that
// similarity is predictable in tests
type keywordEmbedder struct {
	vocabulary []string
	err        error
	calls      int
}

func (e *keywordEmbedder) Embedding(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float32, len(e.vocabulary))
	lower := strings.ToLower(text)
	for i, word := range e.vocabulary {
		if strings.Contains(lower, word) {
			vec[i] = 1
		}
	}
	return vec, nil
}

type failingRepository struct {
	repository.Repository
}

func (failingRepository) PutMemory(ctx context.Context, m *model.Memory) error {
	return errors.New("disk full")
}

func newEmbedder() *keywordEmbedder {
	return &keywordEmbedder{vocabulary: []string{"tote", "bag", "launch", "email", "invoice"}}
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
}

func TestRememberStoresTurn(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	svc := memory.New(newEmbedder(), repo, memory.WithClock(fixedClock))

	gt.NoError(t, svc.Remember(ctx, "user-a", "  Plan the tote bag launch", "Start with an email teaser  ", memory.CategoryMarketing))
	gt.Equal(t, repo.Count("user-a"), 1)

	hits, err := svc.Search(ctx, "user-a", "tote bag launch email")
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)

	mem := hits[0].Memory
	gt.Equal(t, mem.Content, "User Query:   Plan the tote bag launch\nAgent Response: Start with an email teaser")
	gt.Equal(t, mem.Category, memory.CategoryMarketing)
	gt.Equal(t, mem.Metadata["type"], any("conversation_turn"))
	gt.Equal(t, mem.Metadata["timestamp"], any("2024-05-01T09:30:00Z"))
	gt.True(t, mem.CreatedAt.Equal(fixedClock()))
}

func TestRecallFormatsBlock(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	svc := memory.New(newEmbedder(), repo, memory.WithClock(fixedClock))

	gt.NoError(t, svc.Remember(ctx, "user-a", "tote bag launch", "use email", memory.CategoryMarketing))

	block := svc.Recall(ctx, "user-a", "tote bag launch email")
	gt.Equal(t, block, "\n=== RELEVANT PAST CONTEXT ===\n"+
		"The user and agent have discussed this before. Use this memory to maintain continuity:\n"+
		"\n[MEMORY 1] (marketing_agent - 2024-05-01)\nUser Query: tote bag launch\nAgent Response: use email\n"+
		"\n=============================\n")
}

func TestRecallIsolatesUsers(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	svc := memory.New(newEmbedder(), repo)

	gt.NoError(t, svc.Remember(ctx, "user-a", "tote bag launch", "use email", memory.CategoryMarketing))

	gt.Equal(t, svc.Recall(ctx, "user-b", "tote bag launch email"), "")
	gt.S(t, svc.Recall(ctx, "user-a", "tote bag launch email")).Contains("[MEMORY 1]")
}

func TestRecallOmitsIrrelevant(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	svc := memory.New(newEmbedder(), repo)

	gt.NoError(t, svc.Remember(ctx, "user-a", "tote bag launch", "use email", memory.CategoryMarketing))
	gt.Equal(t, svc.Recall(ctx, "user-a", "invoice"), "")
}

func TestRecallLimitsToThree(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	svc := memory.New(newEmbedder(), repo)

	for range 5 {
		gt.NoError(t, svc.Remember(ctx, "user-a", "tote bag launch", "email", memory.CategoryMarketing))
	}

	block := svc.Recall(ctx, "user-a", "tote bag launch email")
	gt.S(t, block).Contains("[MEMORY 3]")
	gt.S(t, block).NotContains("[MEMORY 4]")
}

func TestRecallNeverFails(t *testing.T) {
	ctx := context.Background()
	embedder := newEmbedder()
	embedder.err = errors.New("quota exceeded")
	svc := memory.New(embedder, repository.NewMemory())

	gt.Equal(t, svc.Recall(ctx, "user-a", "tote"), "")
	gt.Equal(t, embedder.calls, 1)

	// empty inputs skip the embedder
	gt.Equal(t, svc.Recall(ctx, "", "tote"), "")
	gt.Equal(t, svc.Recall(ctx, "user-a", "  "), "")
	gt.Equal(t, embedder.calls, 1)
}

func TestRememberFailures(t *testing.T) {
	ctx := context.Background()

	embedder := newEmbedder()
	embedder.err = errors.New("quota exceeded")
	gt.Error(t, memory.New(embedder, repository.NewMemory()).Remember(ctx, "user-a", "q", "a", memory.CategoryTechnical))

	svc := memory.New(newEmbedder(), failingRepository{})
	gt.Error(t, svc.Remember(ctx, "user-a", "q", "a", memory.CategoryTechnical))

	gt.Error(t, memory.New(newEmbedder(), repository.NewMemory()).Remember(ctx, "", "q", "a", memory.CategoryTechnical))
}

func TestFormatRecallEmpty(t *testing.T) {
	gt.Equal(t, memory.FormatRecall(nil), "")
}
