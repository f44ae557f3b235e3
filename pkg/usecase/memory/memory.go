// Package memory recalls and records past conversation turns per user.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/comanager/pkg/adapter"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/repository"
	"github.com/m-mizutani/comanager/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultRecallLimit   = 3
	DefaultMinSimilarity = 0.7

	CategoryMarketing = "marketing_agent"
	CategoryTechnical = "technical_chat"

	typeConversationTurn = "conversation_turn"
)

// Service composes an embedding provider and a memory repository
type Service struct {
	embedder      adapter.Embedder
	repo          repository.Repository
	limit         int
	minSimilarity float64
	now           func() time.Time
}

type Option func(*Service)

// WithRecallLimit sets how many memories are recalled at most
func WithRecallLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithMinSimilarity sets the exclusive similarity threshold of recall
func WithMinSimilarity(v float64) Option {
	return func(s *Service) {
		s.minSimilarity = v
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(embedder adapter.Embedder, repo repository.Repository, opts ...Option) *Service {
	s := &Service{
		embedder:      embedder,
		repo:          repo,
		limit:         DefaultRecallLimit,
		minSimilarity: DefaultMinSimilarity,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns memories of userID similar to query, most similar first
func (s *Service) Search(ctx context.Context, userID model.UserID, query string) ([]*model.MemoryHit, error) {
	if userID == "" {
		return nil, goerr.New("user id is required")
	}

	vector, err := s.embedder.Embedding(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed recall query", goerr.V("user_id", userID))
	}

	hits, err := s.repo.SearchMemories(ctx, userID, vector, s.limit, s.minSimilarity)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search memories", goerr.V("user_id", userID))
	}

	return hits, nil
}

// Recall renders relevant past turns as a prompt block. It returns an empty
// string when nothing clears the threshold or when recall fails.
func (s *Service) Recall(ctx context.Context, userID model.UserID, query string) string {
	if userID == "" || strings.TrimSpace(query) == "" {
		return ""
	}

	hits, err := s.Search(ctx, userID, query)
	if err != nil {
		logging.From(ctx).Warn("failed to recall memories", "error", err)
		return ""
	}

	return FormatRecall(hits)
}

// FormatRecall renders hits as the RELEVANT PAST CONTEXT block
func FormatRecall(hits []*model.MemoryHit) string {
	if len(hits) == 0 {
		return ""
	}

	entries := make([]string, 0, len(hits))
	for i, hit := range hits {
		m := hit.Memory
		entries = append(entries, fmt.Sprintf("\n[MEMORY %d] (%s - %s)\n%s\n",
			i+1, m.Category, m.CreatedAt.Format("2006-01-02"), m.Content))
	}

	return "\n=== RELEVANT PAST CONTEXT ===\n" +
		"The user and agent have discussed this before. Use this memory to maintain continuity:\n" +
		strings.Join(entries, "\n") +
		"\n=============================\n"
}

// Remember embeds and stores a completed turn
func (s *Service) Remember(ctx context.Context, userID model.UserID, userText, assistantText, category string) error {
	if userID == "" {
		return goerr.New("user id is required")
	}

	content := strings.TrimSpace(fmt.Sprintf("User Query: %s\nAgent Response: %s", userText, assistantText))
	now := s.now()

	vector, err := s.embedder.Embedding(ctx, content)
	if err != nil {
		return goerr.Wrap(err, "failed to embed memory", goerr.V("user_id", userID), goerr.V("category", category))
	}

	mem := &model.Memory{
		ID:       model.NewMemoryID(),
		UserID:   userID,
		Category: category,
		Content:  content,
		Metadata: map[string]any{
			"timestamp": now.UTC().Format(time.RFC3339Nano),
			"type":      typeConversationTurn,
		},
		Embedding: vector,
		CreatedAt: now,
	}

	if err := s.repo.PutMemory(ctx, mem); err != nil {
		return goerr.Wrap(err, "failed to put memory", goerr.V("user_id", userID), goerr.V("memory_id", mem.ID))
	}

	logging.From(ctx).Debug("memory saved", "memory_id", mem.ID, "category", category)
	return nil
}
