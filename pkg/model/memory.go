package model

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

type UserID string

// Memory is a persisted snippet of a past turn owned by exactly one user
type Memory struct {
	ID        MemoryID
	UserID    UserID
	Category  string
	Content   string
	Metadata  map[string]any
	Embedding firestore.Vector32
	CreatedAt time.Time
}

// MemoryHit is a Memory returned by a similarity search. Similarity is
// cosine based, 1.0 meaning identical.
type MemoryHit struct {
	Memory     *Memory
	Similarity float64
}
