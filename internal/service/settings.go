package service

import (
	"context"
	"errors"
	"reflect"
	"regexp"

	"lifelog/internal/lifecycle"
	"lifelog/internal/storage"
)

// ThemeKey is the setting whose changes are broadcast as THEME_CHANGED.
const ThemeKey = "theme"

var settingKeyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]{0,63}$`)

// Emitter publishes lifecycle events.
type Emitter interface {
	Emit(ctx context.Context, t lifecycle.EventType, payload map[string]any) lifecycle.Event
}

// Setting is a single key/value preference. The key is the record id.
type Setting struct {
	Key   string `json:"id"`
	Value any    `json:"value"`
}

// SettingsService manages user settings.
type SettingsService struct {
	*Collection
	events Emitter
}

// NewSettingsService creates a SettingsService over the settings collection.
// events may be nil.
func NewSettingsService(store RecordStore, events Emitter) *SettingsService {
	return &SettingsService{
		Collection: NewCollection(store, storage.CollectionSettings),
		events:     events,
	}
}

// Get returns a single setting.
func (s *SettingsService) Get(ctx context.Context, key string) (Setting, error) {
	rec, err := s.get(ctx, key)
	if err != nil {
		return Setting{}, err
	}
	return Setting{Key: key, Value: rec["value"]}, nil
}

// All returns every setting as a key/value map.
func (s *SettingsService) All(ctx context.Context) map[string]any {
	out := make(map[string]any)
	for _, rec := range s.all(ctx) {
		out[rec.ID()] = rec["value"]
	}
	return out
}

// Set creates or updates a setting. Changing the theme emits THEME_CHANGED
// with the previous and current values.
func (s *SettingsService) Set(ctx context.Context, key string, value any) (Setting, error) {
	if !settingKeyPattern.MatchString(key) {
		return Setting{}, &ValidationError{Field: "key", Message: "must start with a letter and contain only letters, digits, '_', '.' or '-'"}
	}

	var previous any
	for attempt := 0; ; attempt++ {
		previous = nil
		_, err := s.modify(ctx, key, func(rec storage.Record) (storage.Record, error) {
			previous = rec["value"]
			rec["value"] = value
			return rec, nil
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrNotFound) {
			return Setting{}, err
		}
		// Missing: create it, unless a concurrent Set got there first.
		_, err = s.create(ctx, storage.Record{"id": key, "value": value})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConflict) || attempt > 0 {
			return Setting{}, err
		}
	}

	s.log(ctx).InfoContext(ctx, "setting saved", "key", key)

	if key == ThemeKey && s.events != nil && !reflect.DeepEqual(previous, value) {
		s.events.Emit(ctx, lifecycle.ThemeChanged, map[string]any{
			"previous": previous,
			"current":  value,
		})
	}
	return Setting{Key: key, Value: value}, nil
}

// Delete removes a setting.
func (s *SettingsService) Delete(ctx context.Context, key string) error {
	return s.remove(ctx, key)
}
