package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"lifelog/internal/storage"
)

// Source reads legacy values by key.
type Source interface {
	// Lookup returns the value stored under key. The boolean is false when
	// the key is absent.
	Lookup(key string) (any, bool, error)
}

// MapSource is an in-memory legacy source.
type MapSource map[string]any

// Lookup implements Source.
func (m MapSource) Lookup(key string) (any, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

// FileSource is a flat key/value document on disk, in YAML or JSON. Values
// may be native sequences and mappings, or strings holding encoded JSON.
type FileSource struct {
	path   string
	values map[string]any
}

// OpenFileSource parses the legacy file at path. A missing file yields an
// empty source. The file is never modified.
func OpenFileSource(path string) (*FileSource, error) {
	src := &FileSource{path: path, values: map[string]any{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return src, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy data: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return src, nil
	}
	if err := yaml.Unmarshal(data, &src.values); err != nil {
		return nil, fmt.Errorf("failed to parse legacy data %s: %w", path, err)
	}
	if src.values == nil {
		src.values = map[string]any{}
	}
	return src, nil
}

// Path returns the file the source was read from.
func (s *FileSource) Path() string {
	return s.path
}

// Keys returns the top-level keys, sorted.
func (s *FileSource) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup implements Source. String values that look like encoded JSON are
// decoded.
func (s *FileSource) Lookup(key string) (any, bool, error) {
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	if str, isString := v.(string); isString {
		trimmed := strings.TrimSpace(str)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			var decoded any
			if err := yaml.Unmarshal([]byte(trimmed), &decoded); err != nil {
				return nil, true, fmt.Errorf("failed to decode legacy value %s: %w", key, err)
			}
			return decoded, true, nil
		}
	}
	return v, true, nil
}

// toRecords converts a legacy value into records:
//   - a sequence yields one record per element,
//   - a mapping of mappings yields one record per entry, keyed by id,
//   - a mapping of scalars yields {id: key, value: v} records.
//
// Numeric ids become strings and missing ids get a UUID.
func toRecords(value any) ([]storage.Record, error) {
	switch v := value.(type) {
	case nil:
		return []storage.Record{}, nil
	case []any:
		out := make([]storage.Record, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, want a mapping", i, item)
			}
			rec, err := newRecord(m, "")
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, rec)
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make([]storage.Record, 0, len(v))
		for _, k := range keys {
			if m, ok := v[k].(map[string]any); ok {
				rec, err := newRecord(m, k)
				if err != nil {
					return nil, fmt.Errorf("entry %s: %w", k, err)
				}
				out = append(out, rec)
				continue
			}
			out = append(out, storage.Record{"id": k, "value": plainValue(v[k])})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported legacy value of type %T", value)
	}
}

func newRecord(m map[string]any, fallbackID string) (storage.Record, error) {
	rec := make(storage.Record, len(m)+1)
	for k, v := range m {
		rec[k] = plainValue(v)
	}

	switch id := rec["id"].(type) {
	case string:
		if strings.TrimSpace(id) == "" {
			rec["id"] = generatedID(fallbackID)
		}
	case int:
		rec["id"] = strconv.Itoa(id)
	case int64:
		rec["id"] = strconv.FormatInt(id, 10)
	case uint64:
		rec["id"] = strconv.FormatUint(id, 10)
	case float64:
		rec["id"] = strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
		rec["id"] = generatedID(fallbackID)
	default:
		return nil, fmt.Errorf("unsupported id type %T", id)
	}
	return rec, nil
}

// plainValue turns YAML timestamps back into the strings they were written
// as: a bare date when there is no time of day, RFC 3339 otherwise.
func plainValue(v any) any {
	switch v := v.(type) {
	case time.Time:
		h, m, sec := v.Clock()
		if h == 0 && m == 0 && sec == 0 && v.Nanosecond() == 0 && v.Location() == time.UTC {
			return v.Format(time.DateOnly)
		}
		return v.Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = plainValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plainValue(item)
		}
		return out
	default:
		return v
	}
}

func generatedID(fallback string) string {
	if fallback != "" {
		return fallback
	}
	return uuid.NewString()
}
