package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// querier is the subset of *sql.Conn a transaction body needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txMode int

const (
	readTx txMode = iota
	writeTx
)

// Store is a generic document store over named collections.
// Reads of a collection run concurrently; a write holds the collection
// exclusively. Different collections never block each other.
type Store struct {
	db      *sql.DB
	schemas map[string]CollectionSchema
	order   []string
	locks   map[string]*sync.RWMutex
	now     func() time.Time
}

// NewStore registers the given collections (DefaultCollections when none are
// passed), creating their tables and indexes as needed.
func NewStore(db *sql.DB, schemas ...CollectionSchema) (*Store, error) {
	if len(schemas) == 0 {
		schemas = DefaultCollections
	}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &Store{
		db:      db,
		schemas: make(map[string]CollectionSchema, len(schemas)),
		locks:   make(map[string]*sync.RWMutex, len(schemas)),
		now:     time.Now,
	}
	for _, schema := range schemas {
		if err := schema.validate(); err != nil {
			return nil, err
		}
		if _, dup := s.schemas[schema.Name]; dup {
			return nil, fmt.Errorf("collection %s registered twice", schema.Name)
		}
		if err := ensureCollection(db, schema); err != nil {
			return nil, err
		}
		s.schemas[schema.Name] = schema
		s.locks[schema.Name] = &sync.RWMutex{}
		s.order = append(s.order, schema.Name)
	}
	return s, nil
}

// Collections returns the registered schemas in registration order.
func (s *Store) Collections() []CollectionSchema {
	out := make([]CollectionSchema, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.schemas[name])
	}
	return out
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) schema(collection string) (CollectionSchema, error) {
	schema, ok := s.schemas[collection]
	if !ok {
		return CollectionSchema{}, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return schema, nil
}

// withTx runs fn inside a transaction on a dedicated connection. The
// connection is always released and the transaction always ends, committed
// only when fn returns nil.
func (s *Store) withTx(ctx context.Context, op, collection string, mode txMode, fn func(q querier) error) error {
	lock := s.locks[collection]
	if mode == writeTx {
		lock.Lock()
		defer lock.Unlock()
	} else {
		lock.RLock()
		defer lock.RUnlock()
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return &TransactionError{Op: op, Collection: collection, Err: err}
	}
	defer func() {
		_ = conn.Close()
	}()

	begin := "BEGIN"
	if mode == writeTx {
		// Take the write lock up front so busy_timeout applies instead of
		// failing on a read-to-write upgrade.
		begin = "BEGIN IMMEDIATE"
	}
	if _, err := conn.ExecContext(ctx, begin); err != nil {
		return &TransactionError{Op: op, Collection: collection, Err: err}
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return &TransactionError{Op: op, Collection: collection, Err: err}
	}
	committed = true
	return nil
}

// stamp returns a mutation time strictly after prev.
func (s *Store) stamp(prev int64) int64 {
	ts := s.now().UnixNano()
	if ts <= prev {
		ts = prev + 1
	}
	return ts
}

func bumpVersion(ctx context.Context, q querier, collection string, stamp int64) error {
	_, err := q.ExecContext(ctx,
		"UPDATE collection_versions SET version = version + 1, last_write = ? WHERE collection = ?",
		stamp, collection,
	)
	return err
}

func recordID(rec Record) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}
	raw, ok := rec["id"]
	if !ok {
		return "", fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	id, ok := raw.(string)
	if !ok || strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: id must be a non-empty string", ErrInvalidRecord)
	}
	return id, nil
}

// Create inserts a new record. It fails with a *ConflictError if the id is
// already present.
func (s *Store) Create(ctx context.Context, collection string, rec Record) (Record, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return nil, err
	}
	id, err := recordID(rec)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	err = s.withTx(ctx, "create", collection, writeTx, func(q querier) error {
		var exists int
		err := q.QueryRowContext(ctx, "SELECT 1 FROM "+schema.table()+" WHERE id = ?", id).Scan(&exists)
		if err == nil {
			return &ConflictError{Collection: collection, ID: id}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return &TransactionError{Op: "create", Collection: collection, Err: err}
		}

		stamp := s.stamp(0)
		if _, err := q.ExecContext(ctx,
			"INSERT INTO "+schema.table()+" (id, data, updated_at) VALUES (?, ?, ?)",
			id, string(data), stamp,
		); err != nil {
			return &TransactionError{Op: "create", Collection: collection, Err: err}
		}
		if err := bumpVersion(ctx, q, collection, stamp); err != nil {
			return &TransactionError{Op: "create", Collection: collection, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// GetAll returns every record in the collection ordered by id.
func (s *Store) GetAll(ctx context.Context, collection string) ([]Record, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return nil, err
	}
	var records []Record
	err = s.withTx(ctx, "getAll", collection, readTx, func(q querier) error {
		rows, err := q.QueryContext(ctx, "SELECT data FROM "+schema.table()+" ORDER BY id")
		if err != nil {
			return &TransactionError{Op: "getAll", Collection: collection, Err: err}
		}
		records, err = scanRecords(rows)
		if err != nil {
			return &TransactionError{Op: "getAll", Collection: collection, Err: err}
		}
		return nil
	})
	return records, err
}

// GetByID returns a single record. Returns a *NotFoundError if absent.
func (s *Store) GetByID(ctx context.Context, collection, id string) (Record, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return nil, err
	}
	var rec Record
	err = s.withTx(ctx, "getById", collection, readTx, func(q querier) error {
		var data string
		err := q.QueryRowContext(ctx, "SELECT data FROM "+schema.table()+" WHERE id = ?", id).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{Collection: collection, ID: id}
		}
		if err != nil {
			return &TransactionError{Op: "getById", Collection: collection, Err: err}
		}
		rec, err = decodeRecord([]byte(data))
		if err != nil {
			return &TransactionError{Op: "getById", Collection: collection, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update shallow-merges partial into the stored record and returns the
// result. Fields absent from partial are preserved and the id never changes.
func (s *Store) Update(ctx context.Context, collection, id string, partial Record) (Record, error) {
	return s.modify(ctx, "update", collection, id, func(current Record) (Record, error) {
		for k, v := range partial {
			current[k] = v
		}
		return current, nil
	})
}

// Modify reads the record, passes it to fn and stores what fn returns, all
// in one write transaction. Concurrent writers to the collection wait, so fn
// always sees the latest committed state. An error from fn aborts the write
// and is returned unchanged. The id never changes.
func (s *Store) Modify(ctx context.Context, collection, id string, fn func(Record) (Record, error)) (Record, error) {
	return s.modify(ctx, "modify", collection, id, fn)
}

func (s *Store) modify(ctx context.Context, op, collection, id string, fn func(Record) (Record, error)) (Record, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return nil, err
	}
	var merged Record
	err = s.withTx(ctx, op, collection, writeTx, func(q querier) error {
		var data string
		var prev int64
		err := q.QueryRowContext(ctx,
			"SELECT data, updated_at FROM "+schema.table()+" WHERE id = ?", id,
		).Scan(&data, &prev)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{Collection: collection, ID: id}
		}
		if err != nil {
			return &TransactionError{Op: op, Collection: collection, Err: err}
		}
		current, err := decodeRecord([]byte(data))
		if err != nil {
			return &TransactionError{Op: op, Collection: collection, Err: err}
		}

		merged, err = fn(current)
		if err != nil {
			return err
		}
		if merged == nil {
			return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
		}
		merged["id"] = id

		out, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		stamp := s.stamp(prev)
		if _, err := q.ExecContext(ctx,
			"UPDATE "+schema.table()+" SET data = ?, updated_at = ? WHERE id = ?",
			string(out), stamp, id,
		); err != nil {
			return &TransactionError{Op: op, Collection: collection, Err: err}
		}
		if err := bumpVersion(ctx, q, collection, stamp); err != nil {
			return &TransactionError{Op: op, Collection: collection, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Remove deletes a record. Returns a *NotFoundError if absent.
func (s *Store) Remove(ctx context.Context, collection, id string) error {
	schema, err := s.schema(collection)
	if err != nil {
		return err
	}
	return s.withTx(ctx, "remove", collection, writeTx, func(q querier) error {
		result, err := q.ExecContext(ctx, "DELETE FROM "+schema.table()+" WHERE id = ?", id)
		if err != nil {
			return &TransactionError{Op: "remove", Collection: collection, Err: err}
		}
		n, err := result.RowsAffected()
		if err != nil {
			return &TransactionError{Op: "remove", Collection: collection, Err: err}
		}
		if n == 0 {
			return &NotFoundError{Collection: collection, ID: id}
		}
		if err := bumpVersion(ctx, q, collection, s.stamp(0)); err != nil {
			return &TransactionError{Op: "remove", Collection: collection, Err: err}
		}
		return nil
	})
}

// Count returns the number of records in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.withTx(ctx, "count", collection, readTx, func(q querier) error {
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+schema.table()).Scan(&n); err != nil {
			return &TransactionError{Op: "count", Collection: collection, Err: err}
		}
		return nil
	})
	return n, err
}

// Clear removes every record in the collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	schema, err := s.schema(collection)
	if err != nil {
		return err
	}
	return s.withTx(ctx, "clear", collection, writeTx, func(q querier) error {
		result, err := q.ExecContext(ctx, "DELETE FROM "+schema.table())
		if err != nil {
			return &TransactionError{Op: "clear", Collection: collection, Err: err}
		}
		n, err := result.RowsAffected()
		if err != nil {
			return &TransactionError{Op: "clear", Collection: collection, Err: err}
		}
		if n == 0 {
			return nil
		}
		if err := bumpVersion(ctx, q, collection, s.stamp(0)); err != nil {
			return &TransactionError{Op: "clear", Collection: collection, Err: err}
		}
		return nil
	})
}

// ImportIfEmpty inserts records in a single transaction, but only when the
// collection holds no records. It returns the number inserted and whether the
// import was skipped because the collection was non-empty.
func (s *Store) ImportIfEmpty(ctx context.Context, collection string, records []Record) (int, bool, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return 0, false, err
	}

	type row struct {
		id   string
		data string
	}
	rows := make([]row, 0, len(records))
	for _, rec := range records {
		id, err := recordID(rec)
		if err != nil {
			return 0, false, err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		rows = append(rows, row{id: id, data: string(data)})
	}

	inserted := 0
	skipped := false
	err = s.withTx(ctx, "import", collection, writeTx, func(q querier) error {
		var n int
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+schema.table()).Scan(&n); err != nil {
			return &TransactionError{Op: "import", Collection: collection, Err: err}
		}
		if n > 0 {
			skipped = true
			return nil
		}
		if len(rows) == 0 {
			return nil
		}

		seen := make(map[string]bool, len(rows))
		stamp := s.stamp(0)
		for _, r := range rows {
			if seen[r.id] {
				return &ConflictError{Collection: collection, ID: r.id}
			}
			seen[r.id] = true
			if _, err := q.ExecContext(ctx,
				"INSERT INTO "+schema.table()+" (id, data, updated_at) VALUES (?, ?, ?)",
				r.id, r.data, stamp,
			); err != nil {
				return &TransactionError{Op: "import", Collection: collection, Err: err}
			}
		}
		if err := bumpVersion(ctx, q, collection, stamp); err != nil {
			return &TransactionError{Op: "import", Collection: collection, Err: err}
		}
		inserted = len(rows)
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return inserted, skipped, nil
}

// scanRecords decodes a single data column per row and closes rows.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer func() {
		_ = rows.Close()
	}()

	records := []Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := decodeRecord([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}
