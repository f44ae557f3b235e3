package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const distanceField = "vector_distance"

// Firestore stores memories in a collection and searches them with
// Firestore vector search. A composite vector index on (user_id, embedding)
// is required.
type Firestore struct {
	client     *firestore.Client
	collection string
}

type FirestoreOption func(*Firestore)

func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.collection = name
	}
}

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}

	f := &Firestore{
		client:     client,
		collection: "memories",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

type memoryDoc struct {
	ID        string             `firestore:"id"`
	UserID    string             `firestore:"user_id"`
	Category  string             `firestore:"category"`
	Content   string             `firestore:"content"`
	Metadata  map[string]any     `firestore:"metadata"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	CreatedAt time.Time          `firestore:"created_at"`
	Distance  float64            `firestore:"vector_distance,omitempty"`
}

func (f *Firestore) PutMemory(ctx context.Context, memory *model.Memory) error {
	doc := memoryDoc{
		ID:        string(memory.ID),
		UserID:    string(memory.UserID),
		Category:  memory.Category,
		Content:   memory.Content,
		Metadata:  memory.Metadata,
		Embedding: memory.Embedding,
		CreatedAt: memory.CreatedAt,
	}

	if _, err := f.client.Collection(f.collection).Doc(doc.ID).Create(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put memory",
			goerr.V("id", memory.ID),
			goerr.V("user_id", memory.UserID))
	}
	return nil
}

func (f *Firestore) SearchMemories(ctx context.Context, userID model.UserID, embedding []float32, limit int, minSimilarity float64) ([]*model.MemoryHit, error) {
	if limit <= 0 {
		return nil, nil
	}

	threshold := 1 - minSimilarity
	query := f.client.Collection(f.collection).
		Where("user_id", "==", string(userID)).
		FindNearest("embedding", firestore.Vector32(embedding), limit, firestore.DistanceMeasureCosine,
			&firestore.FindNearestOptions{
				DistanceResultField: distanceField,
				DistanceThreshold:   &threshold,
			})

	iter := query.Documents(ctx)
	defer iter.Stop()

	var hits []*model.MemoryHit
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, f.searchError(err, userID)
		}

		var doc memoryDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory", goerr.V("doc", snap.Ref.ID))
		}

		// The query is already user scoped; the check keeps the ownership
		// guarantee independent of index configuration.
		if doc.UserID != string(userID) {
			continue
		}
		similarity := 1 - doc.Distance
		if similarity <= minSimilarity {
			continue
		}

		hits = append(hits, &model.MemoryHit{
			Memory: &model.Memory{
				ID:        model.MemoryID(doc.ID),
				UserID:    model.UserID(doc.UserID),
				Category:  doc.Category,
				Content:   doc.Content,
				Metadata:  doc.Metadata,
				Embedding: doc.Embedding,
				CreatedAt: doc.CreatedAt,
			},
			Similarity: similarity,
		})
	}

	return hits, nil
}

func (f *Firestore) searchError(err error, userID model.UserID) error {
	if status.Code(err) == codes.FailedPrecondition {
		return goerr.Wrap(err, "vector index is missing, create a composite index on user_id and embedding",
			goerr.V("collection", f.collection))
	}
	return goerr.Wrap(err, "failed to search memories", goerr.V("user_id", userID))
}
