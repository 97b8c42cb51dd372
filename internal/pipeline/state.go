package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Key names one value in a run's state.
type Key string

// SeedWriter is the writer recorded for values supplied by the caller.
const SeedWriter = "seed"

// Value is one entry in State. An unusable value holds the raw output and
// the reason parsing failed instead of Data.
type Value struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Usable bool            `json:"usable"`
	Raw    string          `json:"raw,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Writer string          `json:"writer"`
}

// Seed is the caller-supplied initial state of a run.
type Seed map[Key]any

// State is the append-only value map of one run. Keys are never removed;
// once written, a key may only be rewritten by the same writer.
type State struct {
	mu     sync.RWMutex
	values map[Key]Value
}

// NewState returns an empty State.
func NewState() *State {
	return &State{values: make(map[Key]Value)}
}

// StateFrom rebuilds a State from a snapshot, e.g. one loaded from a store.
func StateFrom(snapshot map[Key]Value) *State {
	s := NewState()
	for k, v := range snapshot {
		s.values[k] = v
	}
	return s
}

// Merge writes every seed entry as a usable value. A key already in state
// keeps its writer so caller edits to step outputs do not change ownership.
func (s *State) Merge(seed Seed) error {
	if len(seed) == 0 {
		return nil
	}
	encoded := make(map[Key]Value, len(seed))
	for k, v := range seed {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("pipeline: encode seed %q: %w", k, err)
		}
		encoded[k] = Value{Data: data, Usable: true, Writer: SeedWriter}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range encoded {
		if cur, ok := s.values[k]; ok {
			v.Writer = cur.Writer
		}
		s.values[k] = v
	}
	return nil
}

// put stores values for writer, rejecting keys owned by someone else.
func (s *State) put(writer string, values map[Key]Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range values {
		if cur, ok := s.values[k]; ok && cur.Writer != writer {
			return fmt.Errorf("%w: %q written by %q, not %q", ErrWriterConflict, k, cur.Writer, writer)
		}
	}
	for k, v := range values {
		v.Writer = writer
		s.values[k] = v
	}
	return nil
}

func (s *State) Get(k Key) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[k]
	return v, ok
}

// Missing returns the keys in want that are not present, in input order.
func (s *State) Missing(want []Key) []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Key
	for _, k := range want {
		if _, ok := s.values[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Select copies the values for keys that are present.
func (s *State) Select(keys []Key) map[Key]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Key]Value, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Keys returns all present keys sorted.
func (s *State) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Key, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot returns a copy safe to mutate or serialize.
func (s *State) Snapshot() map[Key]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Key]Value, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Lookup decodes the value at k into T.
func Lookup[T any](s *State, k Key) (T, error) {
	var zero T
	v, ok := s.Get(k)
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrInputMissing, k)
	}
	return Decode[T](k, v)
}

// Decode unmarshals one state value into T.
func Decode[T any](k Key, v Value) (T, error) {
	var out T
	if !v.Usable {
		return out, fmt.Errorf("%w: %q: %s", ErrUnusable, k, v.Reason)
	}
	if err := json.Unmarshal(v.Data, &out); err != nil {
		return out, fmt.Errorf("pipeline: decode %q: %w", k, err)
	}
	return out, nil
}
