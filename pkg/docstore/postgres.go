package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
)

const (
	dialectPostgres    = "postgres"
	defaultTable       = "documents"
	postgresBatchLimit = 500

	colCollection = "collection"
	colID         = "id"
	colFields     = "fields"
	colCreatedAt  = "created_at"
	colUpdatedAt  = "updated_at"

	// sortableTime keeps timestamps fixed-width so JSONB string comparison is chronological.
	sortableTime = "2006-01-02T15:04:05.000000000Z"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PostgresStore keeps documents as JSONB rows keyed by (collection, id).
type PostgresStore struct {
	db    *sqlx.DB
	table string
}

// NewPostgresStore builds a store over db using the documents table.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, table: defaultTable}
}

// Migrate creates the documents table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
        collection TEXT NOT NULL,
        id TEXT NOT NULL,
        fields JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        PRIMARY KEY (collection, id)
    )`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

func (s *PostgresStore) dialect() goqu.DialectWrapper {
	return goqu.Dialect(dialectPostgres)
}

// Get loads one document; sql.ErrNoRows becomes nil, nil.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyID
	}
	query, args, err := s.dialect().
		From(s.table).
		Select(colFields).
		Where(goqu.Ex{colCollection: collection, colID: id}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}

	var raw []byte
	if err := s.db.GetContext(ctx, &raw, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document %s/%s: %w", collection, id, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}
	return &Document{ID: id, Fields: fields}, nil
}

// List returns every document in collection, ordered by a JSONB field when requested.
func (s *PostgresStore) List(ctx context.Context, collection string, order *OrderBy) ([]Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	ds := s.dialect().
		From(s.table).
		Select(colID, colFields).
		Where(goqu.Ex{colCollection: collection})
	if order != nil {
		expr := goqu.L("? -> ?", goqu.I(colFields), order.Field)
		if order.Direction == Desc {
			ds = ds.Order(expr.Desc(), goqu.I(colID).Asc())
		} else {
			ds = ds.Order(expr.Asc(), goqu.I(colID).Asc())
		}
	} else {
		ds = ds.Order(goqu.I(colCreatedAt).Asc(), goqu.I(colID).Asc())
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents %s: %w", collection, err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document %s: %w", collection, err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents %s: %w", collection, err)
	}
	return docs, nil
}

// Create inserts fields under a generated UUID.
func (s *PostgresStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	id := s.NewID(collection)
	payload, err := encodeFields(fields)
	if err != nil {
		return "", err
	}
	query, args, err := s.dialect().
		Insert(s.table).
		Rows(goqu.Record{colCollection: collection, colID: id, colFields: payload}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", fmt.Errorf("build insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("create document %s: %w", collection, err)
	}
	return id, nil
}

// Set upserts the document at id.
func (s *PostgresStore) Set(ctx context.Context, collection, id string, fields Fields) error {
	query, args, err := s.upsertQuery(Write{Collection: collection, ID: id, Fields: fields})
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set document %s/%s: %w", collection, id, err)
	}
	return nil
}

// NewID returns a random UUID.
func (s *PostgresStore) NewID(string) string {
	return uuid.NewString()
}

// CommitBatch applies all writes inside one transaction.
func (s *PostgresStore) CommitBatch(ctx context.Context, writes []Write) (err error) {
	if len(writes) > postgresBatchLimit {
		return ErrBatchTooLarge
	}
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, w := range writes {
		query, args, buildErr := s.upsertQuery(w)
		if buildErr != nil {
			return buildErr
		}
		if _, execErr := tx.ExecContext(ctx, query, args...); execErr != nil {
			return fmt.Errorf("batch set %s/%s: %w", w.Collection, w.ID, execErr)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// MaxBatchWrites reports the per-transaction write ceiling.
func (s *PostgresStore) MaxBatchWrites() int {
	return postgresBatchLimit
}

func (s *PostgresStore) upsertQuery(w Write) (string, []interface{}, error) {
	if err := ValidateCollection(w.Collection); err != nil {
		return "", nil, err
	}
	if w.ID == "" {
		return "", nil, ErrEmptyID
	}
	payload, err := encodeFields(w.Fields)
	if err != nil {
		return "", nil, err
	}
	query, args, err := s.dialect().
		Insert(s.table).
		Rows(goqu.Record{colCollection: w.Collection, colID: w.ID, colFields: payload}).
		OnConflict(goqu.DoUpdate("collection, id", goqu.Record{
			colFields:    goqu.L("EXCLUDED.fields"),
			colUpdatedAt: goqu.L("NOW()"),
		})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build upsert query: %w", err)
	}
	return query, args, nil
}

func encodeFields(fields Fields) (string, error) {
	if fields == nil {
		fields = Fields{}
	}
	raw, err := json.Marshal(sortableValue(map[string]interface{}(fields)))
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(raw), nil
}

func decodeFields(raw []byte) (Fields, error) {
	fields := Fields{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// sortableValue rewrites timestamps into fixed-width UTC strings, recursing into containers.
func sortableValue(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(sortableTime)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(sortableTime)
	case Fields:
		return sortableValue(map[string]interface{}(t))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = sortableValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = sortableValue(item)
		}
		return out
	default:
		return v
	}
}
