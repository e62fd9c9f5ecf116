package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

// memoryBatchLimit mirrors the Firestore batch ceiling so behaviour matches across backends.
const memoryBatchLimit = 500

// MemoryStore is an in-process Store used for local development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Fields
	created     map[string]map[string]int64
	seq         int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Fields),
		created:     make(map[string]map[string]int64),
	}
}

// Get returns a copy of the stored document.
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.collections[collection][id]
	if !ok {
		return nil, nil
	}
	return &Document{ID: id, Fields: fields.Clone()}, nil
}

// List returns copies of every document in collection.
func (s *MemoryStore) List(ctx context.Context, collection string, order *OrderBy) ([]Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	docs := make([]Document, 0, len(s.collections[collection]))
	created := make(map[string]int64, len(s.collections[collection]))
	for id, fields := range s.collections[collection] {
		docs = append(docs, Document{ID: id, Fields: fields.Clone()})
		created[id] = s.created[collection][id]
	}
	s.mu.RUnlock()

	if order == nil {
		sort.SliceStable(docs, func(i, j int) bool {
			return created[docs[i].ID] < created[docs[j].ID]
		})
		return docs, nil
	}
	sort.SliceStable(docs, func(i, j int) bool {
		c := compareValues(docs[i].Fields[order.Field], docs[j].Fields[order.Field])
		if c == 0 {
			c = compareStrings(docs[i].ID, docs[j].ID)
		}
		if order.Direction == Desc {
			return c > 0
		}
		return c < 0
	})
	return docs, nil
}

// Create stores fields under a generated id.
func (s *MemoryStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	id := s.NewID(collection)
	if err := s.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// Set overwrites the document at id.
func (s *MemoryStore) Set(ctx context.Context, collection, id string, fields Fields) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptyID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(collection, id, fields)
	return nil
}

// NewID returns a random document id.
func (s *MemoryStore) NewID(string) string {
	return uuid.NewString()
}

// CommitBatch applies every write under a single lock.
func (s *MemoryStore) CommitBatch(ctx context.Context, writes []Write) error {
	if len(writes) > memoryBatchLimit {
		return ErrBatchTooLarge
	}
	for _, w := range writes {
		if err := ValidateCollection(w.Collection); err != nil {
			return err
		}
		if w.ID == "" {
			return ErrEmptyID
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range writes {
		s.put(w.Collection, w.ID, w.Fields)
	}
	return nil
}

// MaxBatchWrites reports the largest batch CommitBatch accepts.
func (s *MemoryStore) MaxBatchWrites() int {
	return memoryBatchLimit
}

func (s *MemoryStore) put(collection, id string, fields Fields) {
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]Fields)
		s.collections[collection] = docs
		s.created[collection] = make(map[string]int64)
	}
	if _, exists := docs[id]; !exists {
		s.seq++
		s.created[collection][id] = s.seq
	}
	docs[id] = fields.Clone()
}

// compareValues orders nil first, then times, numbers and strings.
func compareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if ta, ok := a.(time.Time); ok {
		tb, err := cast.ToTimeE(b)
		if err == nil {
			return ta.Compare(tb)
		}
	}
	fa, errA := cast.ToFloat64E(a)
	fb, errB := cast.ToFloat64E(b)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return compareStrings(cast.ToString(a), cast.ToString(b))
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
