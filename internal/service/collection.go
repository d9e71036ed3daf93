package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_record_store.go -package=mocks lifelog/internal/service RecordStore

import (
	"context"
	"errors"
	"log/slog"

	"lifelog/internal/contextutil"
	"lifelog/internal/storage"
)

// RecordStore is the storage surface the domain services depend on.
// This interface is defined from the service layer's perspective (consumer-first).
type RecordStore interface {
	Create(ctx context.Context, collection string, rec storage.Record) (storage.Record, error)
	GetAll(ctx context.Context, collection string) ([]storage.Record, error)
	GetByID(ctx context.Context, collection, id string) (storage.Record, error)
	Update(ctx context.Context, collection, id string, partial storage.Record) (storage.Record, error)
	Modify(ctx context.Context, collection, id string, fn func(storage.Record) (storage.Record, error)) (storage.Record, error)
	Remove(ctx context.Context, collection, id string) error
	QueryByIndex(ctx context.Context, collection, index string, value any) ([]storage.Record, error)
	QueryByRange(ctx context.Context, collection, index string, r storage.Range) ([]storage.Record, error)
	Count(ctx context.Context, collection string) (int, error)
	Stamps(ctx context.Context, collection string) ([]storage.Stamp, error)
	Version(ctx context.Context, collection string) (int64, error)
}

// Collection binds a RecordStore to one collection. It is the change source
// the observer polls and the base of every domain service.
type Collection struct {
	store  RecordStore
	name   string
	logger *slog.Logger
}

// NewCollection creates a Collection over store.
func NewCollection(store RecordStore, name string) *Collection {
	return &Collection{
		store:  store,
		name:   name,
		logger: slog.Default(),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Stamps returns the (id, mutation time) pairs of the collection.
func (c *Collection) Stamps(ctx context.Context) ([]storage.Stamp, error) {
	return c.store.Stamps(ctx, c.name)
}

// Version returns the collection's write counter.
func (c *Collection) Version(ctx context.Context) (int64, error) {
	return c.store.Version(ctx, c.name)
}

// Count returns the number of records, or 0 when the store fails.
func (c *Collection) Count(ctx context.Context) int {
	n, err := c.store.Count(ctx, c.name)
	if err != nil {
		c.log(ctx).ErrorContext(ctx, "failed to count records", "collection", c.name, "error", err)
		return 0
	}
	return n
}

func (c *Collection) log(ctx context.Context) *slog.Logger {
	if l := contextutil.LoggerFromContext(ctx); l != slog.Default() {
		return l
	}
	return c.logger
}

// all returns every record. Read failures are logged and yield an empty result.
func (c *Collection) all(ctx context.Context) []storage.Record {
	recs, err := c.store.GetAll(ctx, c.name)
	if err != nil {
		c.log(ctx).ErrorContext(ctx, "failed to list records", "collection", c.name, "error", err)
		return []storage.Record{}
	}
	return recs
}

func (c *Collection) byIndex(ctx context.Context, index string, value any) []storage.Record {
	recs, err := c.store.QueryByIndex(ctx, c.name, index, value)
	if err != nil {
		c.log(ctx).ErrorContext(ctx, "failed to query records",
			"collection", c.name,
			"index", index,
			"error", err,
		)
		return []storage.Record{}
	}
	return recs
}

func (c *Collection) byRange(ctx context.Context, index string, r storage.Range) []storage.Record {
	recs, err := c.store.QueryByRange(ctx, c.name, index, r)
	if err != nil {
		c.log(ctx).ErrorContext(ctx, "failed to query records",
			"collection", c.name,
			"index", index,
			"error", err,
		)
		return []storage.Record{}
	}
	return recs
}

// get returns a single record. A missing record is ErrNotFound. Engine
// failures are logged and also reported as ErrNotFound so reads degrade to
// an empty state.
func (c *Collection) get(ctx context.Context, id string) (storage.Record, error) {
	rec, err := c.store.GetByID(ctx, c.name, id)
	if err == nil {
		return rec, nil
	}
	if !isNotFound(err) {
		c.log(ctx).ErrorContext(ctx, "failed to read record",
			"collection", c.name,
			"id", id,
			"error", err,
		)
	}
	return nil, WrapError(ErrNotFound, c.name+"/"+id)
}

func (c *Collection) create(ctx context.Context, rec storage.Record) (storage.Record, error) {
	out, err := c.store.Create(ctx, c.name, rec)
	if err != nil {
		c.log(ctx).ErrorContext(ctx, "failed to create record", "collection", c.name, "error", err)
		return nil, storeError(err, "failed to create "+c.name+" record")
	}
	return out, nil
}

func (c *Collection) update(ctx context.Context, id string, partial storage.Record) (storage.Record, error) {
	out, err := c.store.Update(ctx, c.name, id, partial)
	if err != nil {
		c.log(ctx).ErrorContext(ctx, "failed to update record", "collection", c.name, "id", id, "error", err)
		return nil, storeError(err, "failed to update "+c.name+"/"+id)
	}
	return out, nil
}

// modify runs fn as an atomic read-modify-write. Errors returned by fn pass
// through unwrapped; storage failures are translated like any other write.
func (c *Collection) modify(ctx context.Context, id string, fn func(storage.Record) (storage.Record, error)) (storage.Record, error) {
	var fnErr error
	out, err := c.store.Modify(ctx, c.name, id, func(rec storage.Record) (storage.Record, error) {
		next, err := fn(rec)
		fnErr = err
		return next, err
	})
	if err != nil {
		if fnErr != nil && errors.Is(err, fnErr) {
			return nil, fnErr
		}
		if !isNotFound(err) {
			c.log(ctx).ErrorContext(ctx, "failed to modify record", "collection", c.name, "id", id, "error", err)
		}
		return nil, storeError(err, "failed to update "+c.name+"/"+id)
	}
	return out, nil
}

func (c *Collection) remove(ctx context.Context, id string) error {
	if err := c.store.Remove(ctx, c.name, id); err != nil {
		c.log(ctx).ErrorContext(ctx, "failed to remove record", "collection", c.name, "id", id, "error", err)
		return storeError(err, "failed to remove "+c.name+"/"+id)
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, storage.ErrNotFound)
}
