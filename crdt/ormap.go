package crdt

// MergeableValue is any CRDT value an ORMap can hold per key: it must know
// how to merge with another instance of itself.
type MergeableValue[V any] interface {
	Merge(other V) V
}

// ORMap is an OR-Set of keys; the per-key value is itself a CRDT whose
// merge is delegated to the value's own Merge method.
type ORMap[K comparable, V MergeableValue[V]] struct {
	keys   *ORSet[K]
	values map[K]V
}

// NewORMap returns an empty OR-Map.
func NewORMap[K comparable, V MergeableValue[V]]() *ORMap[K, V] {
	return &ORMap[K, V]{
		keys:   NewORSet[K](),
		values: make(map[K]V),
	}
}

// Put records id as an add of key (whether or not key is already observed)
// and sets/merges its value. If the key already has a value the new value
// is merged into the existing one
// rather than overwritten, so concurrent Puts never lose updates.
func (m *ORMap[K, V]) Put(key K, id AddID, value V) {
	if !m.keys.Observe(key) {
		m.keys.Add(key, id)
	} else {
		m.keys.Add(key, id)
	}
	if existing, ok := m.values[key]; ok {
		m.values[key] = existing.Merge(value)
	} else {
		m.values[key] = value
	}
}

// Delete removes key, returning the tombstoned add-ids for replication.
func (m *ORMap[K, V]) Delete(key K) []AddID {
	ids := m.keys.Remove(key)
	if !m.keys.Observe(key) {
		delete(m.values, key)
	}
	return ids
}

// Get returns the current value for key and whether key is observed.
func (m *ORMap[K, V]) Get(key K) (V, bool) {
	if !m.keys.Observe(key) {
		var zero V
		return zero, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the observable key set.
func (m *ORMap[K, V]) Keys() []K {
	return m.keys.Elements()
}

// Merge returns a new ORMap combining m and other: the key OR-Set is
// merged per its own semantics, and for every key observable in the result
// the associated values are merged through the value CRDT's own Merge.
func (m *ORMap[K, V]) Merge(other *ORMap[K, V]) *ORMap[K, V] {
	out := &ORMap[K, V]{
		keys:   m.keys.Merge(other.keys),
		values: make(map[K]V),
	}
	for _, k := range out.keys.Elements() {
		mv, mok := m.values[k]
		ov, ook := other.values[k]
		switch {
		case mok && ook:
			out.values[k] = mv.Merge(ov)
		case mok:
			out.values[k] = mv
		case ook:
			out.values[k] = ov
		}
	}
	return out
}
