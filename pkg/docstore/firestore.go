package docstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreBatchLimit is the maximum number of writes in one Firestore commit.
const firestoreBatchLimit = 500

// FirestoreStore adapts a Firestore client to Store.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore wraps an initialised Firestore client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) collection(path string) (*firestore.CollectionRef, error) {
	if err := ValidateCollection(path); err != nil {
		return nil, err
	}
	col := s.client.Collection(path)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
	return col, nil
}

// Get fetches a document, mapping NotFound to nil.
func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	snap, err := col.Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("firestore get %s/%s: %w", collection, id, err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	return &Document{ID: snap.Ref.ID, Fields: Fields(snap.Data())}, nil
}

// List iterates every document of the collection.
func (s *FirestoreStore) List(ctx context.Context, collection string, order *OrderBy) ([]Document, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	query := col.Query
	if order != nil {
		dir := firestore.Asc
		if order.Direction == Desc {
			dir = firestore.Desc
		}
		query = query.OrderBy(order.Field, dir)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	docs := make([]Document, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list %s: %w", collection, err)
		}
		docs = append(docs, Document{ID: snap.Ref.ID, Fields: Fields(snap.Data())})
	}
	return docs, nil
}

// Create adds a document with a Firestore-generated id.
func (s *FirestoreStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	col, err := s.collection(collection)
	if err != nil {
		return "", err
	}
	ref, _, err := col.Add(ctx, map[string]interface{}(fields))
	if err != nil {
		return "", fmt.Errorf("firestore add %s: %w", collection, err)
	}
	return ref.ID, nil
}

// Set overwrites the document at id.
func (s *FirestoreStore) Set(ctx context.Context, collection, id string, fields Fields) error {
	if id == "" {
		return ErrEmptyID
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if _, err := col.Doc(id).Set(ctx, map[string]interface{}(fields)); err != nil {
		return fmt.Errorf("firestore set %s/%s: %w", collection, id, err)
	}
	return nil
}

// NewID allocates a Firestore auto-id without writing.
func (s *FirestoreStore) NewID(collection string) string {
	col, err := s.collection(collection)
	if err != nil {
		return ""
	}
	return col.NewDoc().ID
}

// CommitBatch writes every entry in one atomic WriteBatch.
func (s *FirestoreStore) CommitBatch(ctx context.Context, writes []Write) error {
	if len(writes) > firestoreBatchLimit {
		return ErrBatchTooLarge
	}
	if len(writes) == 0 {
		return nil
	}
	batch := s.client.Batch()
	for _, w := range writes {
		if w.ID == "" {
			return ErrEmptyID
		}
		col, err := s.collection(w.Collection)
		if err != nil {
			return err
		}
		batch.Set(col.Doc(w.ID), map[string]interface{}(w.Fields))
	}
	if _, err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("firestore batch commit: %w", err)
	}
	return nil
}

// MaxBatchWrites reports the Firestore commit ceiling.
func (s *FirestoreStore) MaxBatchWrites() int {
	return firestoreBatchLimit
}

// Close releases the Firestore client.
func (s *FirestoreStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
