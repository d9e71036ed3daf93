// Package migration copies legacy flat-key data into the document store once.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"lifelog/internal/storage"
)

// FlagKey is the meta key marking a completed migration.
const FlagKey = "data_migrated"

// Store is the storage surface the migration needs.
type Store interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
	Count(ctx context.Context, collection string) (int, error)
	ImportIfEmpty(ctx context.Context, collection string, records []storage.Record) (int, bool, error)
}

// Transform rewrites one legacy record before it is stored.
type Transform func(storage.Record) (storage.Record, error)

// Mapping copies one legacy key into one collection.
type Mapping struct {
	Source     string
	Collection string
	Transform  Transform // optional
}

// DefaultMappings maps each legacy key to the collection of the same name.
// habits normalizes legacy habit records and may be nil.
func DefaultMappings(habits Transform) []Mapping {
	return []Mapping{
		{Source: storage.CollectionPosts, Collection: storage.CollectionPosts},
		{Source: storage.CollectionHabits, Collection: storage.CollectionHabits, Transform: habits},
		{Source: storage.CollectionSettings, Collection: storage.CollectionSettings},
	}
}

// Report summarizes a migration pass.
type Report struct {
	AlreadyMigrated bool
	Copied          map[string]int // records inserted per collection
	Skipped         []string       // collections that already held data
	Missing         []string       // legacy keys that were absent
}

// SourceError is the failure of one mapping.
type SourceError struct {
	Source     string
	Collection string
	Err        error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s -> %s: %v", e.Source, e.Collection, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// MigrationError reports a partial failure. The flag stays unset so the
// next run retries.
type MigrationError struct {
	Failures []*SourceError
}

func (e *MigrationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("migration failed for %d source(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *MigrationError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}

// Migrator runs the one-time legacy copy.
type Migrator struct {
	store  Store
	source Source
	logger *slog.Logger
}

// New creates a Migrator reading from source and writing to store.
func New(store Store, source Source) *Migrator {
	return &Migrator{
		store:  store,
		source: source,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger.
func (m *Migrator) WithLogger(logger *slog.Logger) *Migrator {
	m.logger = logger
	return m
}

// Migrated reports whether the migration flag is set.
func (m *Migrator) Migrated(ctx context.Context) (bool, error) {
	value, ok, err := m.store.GetMeta(ctx, FlagKey)
	if err != nil {
		return false, fmt.Errorf("failed to read migration flag: %w", err)
	}
	return ok && value == "true", nil
}

// Migrate copies every mapping whose destination is empty, then sets the
// flag. It is a no-op once the flag is set. Each source is copied in a single
// transaction, so a failure never leaves a partial copy behind. Legacy data
// is only read.
func (m *Migrator) Migrate(ctx context.Context, mappings []Mapping) (Report, error) {
	report := Report{Copied: map[string]int{}}

	done, err := m.Migrated(ctx)
	if err != nil {
		return report, err
	}
	if done {
		report.AlreadyMigrated = true
		m.logger.DebugContext(ctx, "legacy data already migrated")
		return report, nil
	}

	var failures []*SourceError
	for _, mp := range mappings {
		n, status, err := m.copy(ctx, mp)
		if err != nil {
			m.logger.ErrorContext(ctx, "legacy migration failed",
				"source", mp.Source,
				"collection", mp.Collection,
				"error", err,
			)
			failures = append(failures, &SourceError{Source: mp.Source, Collection: mp.Collection, Err: err})
			continue
		}
		switch status {
		case statusSkipped:
			report.Skipped = append(report.Skipped, mp.Collection)
			m.logger.InfoContext(ctx, "destination not empty, skipping legacy source",
				"source", mp.Source,
				"collection", mp.Collection,
			)
		case statusMissing:
			report.Missing = append(report.Missing, mp.Source)
		case statusCopied:
			report.Copied[mp.Collection] += n
			m.logger.InfoContext(ctx, "legacy data copied",
				"source", mp.Source,
				"collection", mp.Collection,
				"records", n,
			)
		}
	}

	if len(failures) > 0 {
		return report, &MigrationError{Failures: failures}
	}
	if err := m.store.SetMeta(ctx, FlagKey, "true"); err != nil {
		return report, fmt.Errorf("failed to set migration flag: %w", err)
	}
	m.logger.InfoContext(ctx, "legacy migration complete")
	return report, nil
}

type copyStatus int

const (
	statusCopied copyStatus = iota
	statusSkipped
	statusMissing
)

func (m *Migrator) copy(ctx context.Context, mp Mapping) (int, copyStatus, error) {
	if mp.Collection == "" {
		return 0, 0, errors.New("mapping has no destination collection")
	}

	count, err := m.store.Count(ctx, mp.Collection)
	if err != nil {
		return 0, 0, err
	}
	if count > 0 {
		return 0, statusSkipped, nil
	}

	value, ok, err := m.source.Lookup(mp.Source)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, statusMissing, nil
	}

	records, err := toRecords(value)
	if err != nil {
		return 0, 0, err
	}
	if mp.Transform != nil {
		for i, rec := range records {
			out, err := mp.Transform(rec)
			if err != nil {
				return 0, 0, fmt.Errorf("record %s: %w", rec.ID(), err)
			}
			records[i] = out
		}
	}

	n, skipped, err := m.store.ImportIfEmpty(ctx, mp.Collection, records)
	if err != nil {
		return 0, 0, err
	}
	if skipped {
		return 0, statusSkipped, nil
	}
	return n, statusCopied, nil
}
