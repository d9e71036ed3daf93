package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

// Collection names used by the application.
const (
	CollectionPosts    = "posts"
	CollectionHabits   = "habits"
	CollectionSettings = "settings"
)

// Record is a schema-by-convention document. The only structural requirement
// is a non-empty string "id".
type Record map[string]any

// ID returns the record id, or "" when missing or not a string.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Stamp pairs a record id with the time of its last mutation (unix nanoseconds).
type Stamp struct {
	ID        string `json:"id"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Range bounds an index query. A nil bound is unbounded.
type Range struct {
	Lower     any
	Upper     any
	LowerOpen bool // exclude Lower itself
	UpperOpen bool // exclude Upper itself
}

// CollectionSchema declares a collection and its secondary indexes.
type CollectionSchema struct {
	Name    string
	Indexes []string
}

// DefaultCollections are the collections the application registers.
var DefaultCollections = []CollectionSchema{
	{Name: CollectionPosts, Indexes: []string{"date", "title"}},
	{Name: CollectionHabits, Indexes: []string{"name", "created"}},
	{Name: CollectionSettings},
}

var identifierPattern = regexp.MustCompile(`^[a-z][a-zA-Z0-9_]*$`)

// validate checks that the collection and index names are safe to embed in SQL.
func (s CollectionSchema) validate() error {
	if !identifierPattern.MatchString(s.Name) {
		return fmt.Errorf("invalid collection name %q", s.Name)
	}
	for _, field := range s.Indexes {
		if !identifierPattern.MatchString(field) {
			return fmt.Errorf("invalid index %q on collection %s", field, s.Name)
		}
	}
	return nil
}

func (s CollectionSchema) table() string {
	return "records_" + s.Name
}

func (s CollectionSchema) hasIndex(field string) bool {
	for _, f := range s.Indexes {
		if f == field {
			return true
		}
	}
	return false
}

// Encode converts a JSON-tagged struct into a Record.
func Encode(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return rec, nil
}

// decodeRecord parses stored JSON. Integral numbers come back as int64 so
// values above 2^53 keep their precision; other numbers are float64.
func decodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	for k, v := range rec {
		rec[k] = fromJSONNumber(v)
	}
	return rec, nil
}

func fromJSONNumber(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for k, item := range v {
			v[k] = fromJSONNumber(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = fromJSONNumber(item)
		}
		return v
	default:
		return v
	}
}

// Decode fills v (a pointer to a JSON-tagged struct) from a Record.
func Decode(rec Record, v any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}
