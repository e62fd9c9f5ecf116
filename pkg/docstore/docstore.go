// Package docstore is a thin client over schemaless document databases.
//
// Documents live in collections addressed by slash-separated paths such as
// "classrooms/c1/checkins". Odd segments name collections, even segments name
// documents, matching the Firestore path model.
package docstore

import (
	"context"
	"errors"
	"strings"
)

// Fields is the schemaless payload of a document.
type Fields map[string]interface{}

// Clone returns a copy of the field map. Nested maps and slices are copied too,
// so the result never aliases the receiver.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Fields:
		return t.Clone()
	case map[string]interface{}:
		return map[string]interface{}(Fields(t).Clone())
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Document is a single stored document.
type Document struct {
	ID     string
	Fields Fields
}

// Direction orders list results.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// OrderBy requests ordering on a top-level field.
type OrderBy struct {
	Field     string
	Direction Direction
}

// Write is one document overwrite inside an atomic batch.
type Write struct {
	Collection string
	ID         string
	Fields     Fields
}

// Store is the document store contract consumed by the repositories.
type Store interface {
	// Get returns nil, nil when the document does not exist.
	Get(ctx context.Context, collection, id string) (*Document, error)
	// List returns every document of a collection; an empty collection yields an empty slice.
	List(ctx context.Context, collection string, order *OrderBy) ([]Document, error)
	// Create stores fields under a store-generated id.
	Create(ctx context.Context, collection string, fields Fields) (string, error)
	// Set overwrites the document at id.
	Set(ctx context.Context, collection, id string, fields Fields) error
	// NewID allocates an id for a document that will be written later.
	NewID(collection string) string
}

// BatchWriter is implemented by stores that can commit several writes atomically.
type BatchWriter interface {
	CommitBatch(ctx context.Context, writes []Write) error
	MaxBatchWrites() int
}

var (
	ErrInvalidPath   = errors.New("docstore: invalid collection path")
	ErrBatchTooLarge = errors.New("docstore: batch exceeds store limit")
	ErrEmptyID       = errors.New("docstore: empty document id")
)

// Collection joins path segments into a collection path.
func Collection(segments ...string) string {
	return strings.Join(segments, "/")
}

// ValidateCollection checks that path names a collection: a non-empty odd
// number of non-empty segments.
func ValidateCollection(path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	parts := strings.Split(path, "/")
	if len(parts)%2 == 0 {
		return ErrInvalidPath
	}
	for _, p := range parts {
		if p == "" {
			return ErrInvalidPath
		}
	}
	return nil
}
