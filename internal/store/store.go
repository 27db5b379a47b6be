// Package store is the path-addressed record store every workflow component
// reads and writes through. A path names either a record (an object of
// top-level fields) or a collection (the records directly beneath it).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hackgods/hospital-transfers/internal/apperr"
)

// ErrPreconditionFailed is returned by MergeIf when the guarded field no
// longer holds the expected value.
var ErrPreconditionFailed = fmt.Errorf("%w: precondition failed", apperr.ErrConflict)

// Store is the record store contract.
type Store interface {
	Read(ctx context.Context, path string) (Snapshot, error)
	// Subscribe calls fn with the current snapshot of path, then again after
	// every write at or below path, until the subscription is closed or ctx ends.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error)
	Write(ctx context.Context, path string, value any) error
	Merge(ctx context.Context, path string, partial map[string]any) error
	// MergeIf applies partial only if field currently equals expected.
	MergeIf(ctx context.Context, path, field string, expected any, partial map[string]any) error
	Append(ctx context.Context, path string, value any) (string, error)
	Delete(ctx context.Context, path string) error
}

// Subscription is a caller-owned handle. Close stops delivery and waits for
// any in-flight callback to return, so it must not be called from inside that
// callback.
type Subscription interface {
	Close()
}

// Snapshot is an immutable view of a record or a collection at read time.
type Snapshot struct {
	Path     string
	fields   map[string]json.RawMessage
	children map[string]map[string]json.RawMessage
}

func recordSnapshot(path string, fields map[string]json.RawMessage) Snapshot {
	return Snapshot{Path: path, fields: fields}
}

func collectionSnapshot(path string, children map[string]map[string]json.RawMessage) Snapshot {
	return Snapshot{Path: path, children: children}
}

func (s Snapshot) Exists() bool {
	return s.fields != nil || len(s.children) > 0
}

func (s Snapshot) IsRecord() bool {
	return s.fields != nil
}

// Decode unmarshals the record into v.
func (s Snapshot) Decode(v any) error {
	if s.fields == nil {
		return apperr.NotFound("record %s", s.Path)
	}
	data, err := json.Marshal(s.fields)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", s.Path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode record %s: %w", s.Path, err)
	}
	return nil
}

// Keys returns the child keys of a collection in ascending order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.children))
	for k := range s.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s Snapshot) Len() int {
	return len(s.children)
}

func (s Snapshot) Child(key string) Snapshot {
	return recordSnapshot(s.Path+"/"+key, s.children[key])
}

// DecodeAll decodes every record of a collection snapshot in key order.
func DecodeAll[T any](s Snapshot, fn func(key string, v T)) error {
	for _, key := range s.Keys() {
		var v T
		if err := s.Child(key).Decode(&v); err != nil {
			return err
		}
		fn(key, v)
	}
	return nil
}

func encodeRecord(value any) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, apperr.Validation("record must be a JSON object")
	}
	if len(fields) == 0 {
		return nil, apperr.Validation("record must have at least one field")
	}
	return fields, nil
}

func encodePartial(partial map[string]any) (map[string]json.RawMessage, error) {
	if len(partial) == 0 {
		return nil, apperr.Validation("merge requires at least one field")
	}
	fields := make(map[string]json.RawMessage, len(partial))
	for k, v := range partial {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		fields[k] = data
	}
	return fields, nil
}

func checkPath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || strings.Contains(path, "//") {
		return apperr.Validation("invalid store path %q", path)
	}
	return nil
}

// split returns the parent collection path and the final key.
func split(path string) (parent, key string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// lineage returns path followed by each of its ancestors.
func lineage(path string) []string {
	out := []string{path}
	for {
		parent, _ := split(path)
		if parent == "" {
			return out
		}
		out = append(out, parent)
		path = parent
	}
}
