package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CollectionInfo summarizes a collection for status reporting.
type CollectionInfo struct {
	Name      string
	Count     int
	Version   int64
	LastWrite time.Time // zero if never written
}

func (s *Store) indexedSchema(collection, index string) (CollectionSchema, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return CollectionSchema{}, err
	}
	if !schema.hasIndex(index) {
		return CollectionSchema{}, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, collection, index)
	}
	return schema, nil
}

// QueryByIndex returns records whose indexed field equals value, ordered by id.
func (s *Store) QueryByIndex(ctx context.Context, collection, index string, value any) ([]Record, error) {
	schema, err := s.indexedSchema(collection, index)
	if err != nil {
		return nil, err
	}

	query := "SELECT data FROM " + schema.table() + " WHERE " + indexExpr(index)
	var args []any
	if value == nil {
		query += " IS NULL"
	} else {
		query += " = ?"
		args = append(args, value)
	}
	query += " ORDER BY id"

	var records []Record
	err = s.withTx(ctx, "queryByIndex", collection, readTx, func(q querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return &TransactionError{Op: "queryByIndex", Collection: collection, Err: err}
		}
		records, err = scanRecords(rows)
		if err != nil {
			return &TransactionError{Op: "queryByIndex", Collection: collection, Err: err}
		}
		return nil
	})
	return records, err
}

// QueryByRange returns records whose indexed field falls inside r, ordered by
// the field and then by id.
func (s *Store) QueryByRange(ctx context.Context, collection, index string, r Range) ([]Record, error) {
	schema, err := s.indexedSchema(collection, index)
	if err != nil {
		return nil, err
	}

	expr := indexExpr(index)
	conds := []string{expr + " IS NOT NULL"}
	var args []any
	if r.Lower != nil {
		op := " >= ?"
		if r.LowerOpen {
			op = " > ?"
		}
		conds = append(conds, expr+op)
		args = append(args, r.Lower)
	}
	if r.Upper != nil {
		op := " <= ?"
		if r.UpperOpen {
			op = " < ?"
		}
		conds = append(conds, expr+op)
		args = append(args, r.Upper)
	}
	query := "SELECT data FROM " + schema.table() +
		" WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY " + expr + ", id"

	var records []Record
	err = s.withTx(ctx, "queryByRange", collection, readTx, func(q querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return &TransactionError{Op: "queryByRange", Collection: collection, Err: err}
		}
		records, err = scanRecords(rows)
		if err != nil {
			return &TransactionError{Op: "queryByRange", Collection: collection, Err: err}
		}
		return nil
	})
	return records, err
}

// Stamps returns the (id, mutation time) pair of every record, ordered by id.
func (s *Store) Stamps(ctx context.Context, collection string) ([]Stamp, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return nil, err
	}
	stamps := []Stamp{}
	err = s.withTx(ctx, "stamps", collection, readTx, func(q querier) error {
		rows, err := q.QueryContext(ctx, "SELECT id, updated_at FROM "+schema.table()+" ORDER BY id")
		if err != nil {
			return &TransactionError{Op: "stamps", Collection: collection, Err: err}
		}
		defer func() {
			_ = rows.Close()
		}()
		for rows.Next() {
			var st Stamp
			if err := rows.Scan(&st.ID, &st.UpdatedAt); err != nil {
				return &TransactionError{Op: "stamps", Collection: collection, Err: err}
			}
			stamps = append(stamps, st)
		}
		if err := rows.Err(); err != nil {
			return &TransactionError{Op: "stamps", Collection: collection, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stamps, nil
}

// Version returns the collection's write counter. It increases with every
// committed write and never decreases.
func (s *Store) Version(ctx context.Context, collection string) (int64, error) {
	if _, err := s.schema(collection); err != nil {
		return 0, err
	}
	var version int64
	err := s.withTx(ctx, "version", collection, readTx, func(q querier) error {
		err := q.QueryRowContext(ctx,
			"SELECT version FROM collection_versions WHERE collection = ?", collection,
		).Scan(&version)
		if err != nil {
			return &TransactionError{Op: "version", Collection: collection, Err: err}
		}
		return nil
	})
	return version, err
}

// Info returns count, version and last write time of a collection.
func (s *Store) Info(ctx context.Context, collection string) (CollectionInfo, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return CollectionInfo{}, err
	}
	info := CollectionInfo{Name: collection}
	err = s.withTx(ctx, "info", collection, readTx, func(q querier) error {
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+schema.table()).Scan(&info.Count); err != nil {
			return &TransactionError{Op: "info", Collection: collection, Err: err}
		}
		var lastWrite int64
		err := q.QueryRowContext(ctx,
			"SELECT version, last_write FROM collection_versions WHERE collection = ?", collection,
		).Scan(&info.Version, &lastWrite)
		if err != nil {
			return &TransactionError{Op: "info", Collection: collection, Err: err}
		}
		if lastWrite > 0 {
			info.LastWrite = time.Unix(0, lastWrite)
		}
		return nil
	})
	return info, err
}

// GetMeta reads a persisted flat key. The boolean is false when the key is absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &TransactionError{Op: "getMeta", Collection: "meta", Err: err}
	}
	return value, true, nil
}

// SetMeta writes a persisted flat key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return &TransactionError{Op: "setMeta", Collection: "meta", Err: err}
	}
	return nil
}
