// Package graph provides the step-composition engine for coursegraph.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"
)

// StateStore is the key/value scratch space shared by the steps of a single run.
//
// Keys are chosen by the workflow author (for example "research_findings" or
// "judge_feedback"). Values are opaque: plain text, a structured record, or a
// JSON-like tree produced by output extraction. Writes overwrite; there is no
// delete.
//
// A StateStore belongs to exactly one run and is only touched by the step that
// is currently executing, so it carries no lock.
type StateStore struct {
	values map[string]any
}

// NewStateStore returns an empty store.
func NewStateStore() *StateStore {
	return &StateStore{values: make(map[string]any)}
}

// Get returns the value stored under key. An absent key is a normal state,
// e.g. before the judge has produced its first verdict.
func (s *StateStore) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (s *StateStore) Set(key string, value any) {
	s.values[key] = value
}

// Len reports the number of keys.
func (s *StateStore) Len() int {
	return len(s.values)
}

// Keys returns the stored keys in sorted order.
func (s *StateStore) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a deep copy of the store contents. Delegates receive a
// snapshot so they can never mutate the live store.
//
// Values that cannot be JSON-encoded are copied shallowly.
func (s *StateStore) Snapshot() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		copied, err := deepCopy(v)
		if err != nil {
			out[k] = v
			continue
		}
		out[k] = copied
	}
	return out
}

// deepCopy copies a value through a JSON round-trip. Structs come back as
// map[string]any and numbers as float64, which is the shape delegates and the
// run archive see anyway.
func deepCopy(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state value: %w", err)
	}
	var copied any
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state value: %w", err)
	}
	return copied, nil
}
