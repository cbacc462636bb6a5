package graph

import (
	"encoding/json"
	"fmt"
	"sort"
)

// State is a typed channel map: every key has a declared reducer (default
// Overwrite for keys with none installed). It is created by the caller,
// mutated exclusively through applyUpdate, and discarded when an
// invocation completes — there is no shared mutable State across
// invocations.
type State map[string]any

// Clone returns a shallow copy of the state map. Values themselves are not
// deep-copied; reducers that mutate slices/maps in place would break the
// determinism guarantee, so reducers always allocate fresh results.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the state's keys in sorted order, so callers that iterate
// for display or hashing get a stable sequence.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetValue returns the value at key and whether it was present.
func (s State) GetValue(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

// ToJSON serializes the state as a flat JSON object.
func (s State) ToJSON() ([]byte, error) {
	return json.Marshal(map[string]any(s))
}

// StateFromJSON deserializes a flat JSON object into a State.
func StateFromJSON(data []byte) (State, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewError(CodeInvalidInput, "invalid state JSON", err)
	}
	return State(raw), nil
}

// ReducerTag identifies a reducer from the closed set this runtime
// supports. Reducers are looked up by tag rather than constructed ad hoc
// so that a compiled graph's merge behavior is fully described by its
// per-key tag table (useful for serialization and for the determinism
// tests in §8).
type ReducerTag string

const (
	ReduceOverwrite ReducerTag = "Overwrite"
	ReduceAppend    ReducerTag = "Append"
	ReduceMerge     ReducerTag = "Merge"
	ReduceMax       ReducerTag = "Max"
	ReduceMin       ReducerTag = "Min"
	ReduceSum       ReducerTag = "Sum"
	ReduceLast      ReducerTag = "Last"
	ReduceFirst     ReducerTag = "First"
)

// Reducer is a pure binary merge function (current, incoming) -> merged.
// current is nil when the key has never been set; with a nil current,
// every reducer in this package returns incoming, except Append (which
// returns incoming as a slice) and Merge (which returns a copy of the
// incoming map).
type Reducer func(current any, incoming any) (any, error)

// ReducerFor returns the Reducer implementation for tag. Unknown tags
// fall back to Overwrite, matching the spec's "unregistered keys default
// to Overwrite" rule for add_reducer.
func ReducerFor(tag ReducerTag) Reducer {
	switch tag {
	case ReduceAppend:
		return reduceAppend
	case ReduceMerge:
		return reduceMerge
	case ReduceMax:
		return reduceMax
	case ReduceMin:
		return reduceMin
	case ReduceSum:
		return reduceSum
	case ReduceLast:
		return reduceOverwrite
	case ReduceFirst:
		return reduceFirst
	case ReduceOverwrite:
		fallthrough
	default:
		return reduceOverwrite
	}
}

func reduceOverwrite(current, incoming any) (any, error) {
	return incoming, nil
}

func reduceFirst(current, incoming any) (any, error) {
	if current == nil {
		return incoming, nil
	}
	return current, nil
}

// reduceAppend concatenates current and incoming: a []any contributes its
// elements and any other non-nil value counts as a one-element slice (nil
// current is treated as an empty slice); order of incoming elements is
// preserved after current's.
func reduceAppend(current, incoming any) (any, error) {
	if current == nil {
		return toSlice(incoming), nil
	}
	cur := toSlice(current)
	inc := toSlice(incoming)
	out := make([]any, 0, len(cur)+len(inc))
	out = append(out, cur...)
	out = append(out, inc...)
	return out, nil
}

func toSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return nil
	default:
		return []any{t}
	}
}

// reduceMerge requires both operands to be maps; incoming wins on key
// collision.
func reduceMerge(current, incoming any) (any, error) {
	if current == nil {
		current = map[string]any{}
	}
	cm, ok := current.(map[string]any)
	if !ok {
		return nil, NewError(CodeInvalidInput, "Merge reducer requires map[string]any current value", nil)
	}
	im, ok := incoming.(map[string]any)
	if !ok {
		return nil, NewError(CodeInvalidInput, "Merge reducer requires map[string]any incoming value", nil)
	}
	out := make(map[string]any, len(cm)+len(im))
	for k, v := range cm {
		out[k] = v
	}
	for k, v := range im {
		out[k] = v
	}
	return out, nil
}

func reduceMax(current, incoming any) (any, error) {
	if current == nil {
		return incoming, nil
	}
	c, err := toFloat(current)
	if err != nil {
		return nil, err
	}
	i, err := toFloat(incoming)
	if err != nil {
		return nil, err
	}
	if i > c {
		return incoming, nil
	}
	return current, nil
}

func reduceMin(current, incoming any) (any, error) {
	if current == nil {
		return incoming, nil
	}
	c, err := toFloat(current)
	if err != nil {
		return nil, err
	}
	i, err := toFloat(incoming)
	if err != nil {
		return nil, err
	}
	if i < c {
		return incoming, nil
	}
	return current, nil
}

func reduceSum(current, incoming any) (any, error) {
	if current == nil {
		return incoming, nil
	}
	c, err := toFloat(current)
	if err != nil {
		return nil, err
	}
	i, err := toFloat(incoming)
	if err != nil {
		return nil, err
	}
	sum := c + i
	if isInt(current) && isInt(incoming) {
		return int(sum), nil
	}
	return sum, nil
}

func isInt(v any) bool {
	switch v.(type) {
	case int, int32, int64:
		return true
	default:
		return false
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	default:
		return 0, NewError(CodeInvalidInput, fmt.Sprintf("reducer requires numeric value, got %T", v), nil)
	}
}

// reducerTable maps state keys to their installed reducer tag; keys with
// no entry use Overwrite.
type reducerTable map[string]ReducerTag

func (t reducerTable) tagFor(key string) ReducerTag {
	if tag, ok := t[key]; ok {
		return tag
	}
	return ReduceOverwrite
}

// applyUpdates merges a batch of StateUpdates into state using the
// reducer table, returning the new state. Updates are applied in the
// order given; the spec allows non-deterministic per-update order within
// one frontier because reducers are commutative by design for colliding
// keys, but callers that want reproducible golden output should still
// sort updates themselves before calling this (the engine does, by node
// id, for its own merge step).
func applyUpdates(state State, updates []StateUpdate, reducers reducerTable) (State, error) {
	out := state.Clone()
	for _, u := range updates {
		reduce := ReducerFor(reducers.tagFor(u.Key))
		current, _ := out[u.Key]
		merged, err := reduce(current, u.Value)
		if err != nil {
			return nil, err
		}
		out[u.Key] = merged
	}
	return out, nil
}
