package crdt

import (
	"bytes"
	"encoding/gob"
)

// GobEncode lets VectorClock gob-encode through its unexported counters
// map, so any struct embedding a *VectorClock (directly, or via
// LWWRegister) round-trips via a plain gob.Encoder without extra work.
func (vc *VectorClock) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vc.nonZero()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode reverses GobEncode.
func (vc *VectorClock) GobDecode(data []byte) error {
	var m map[string]uint64
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return err
	}
	vc.counters = m
	return nil
}

type orSetWire[T comparable] struct {
	Adds       map[AddID]T
	Tombstones map[AddID]struct{}
}

// GobEncode lets ORSet gob-encode through its unexported adds/tombstones
// maps.
func (s *ORSet[T]) GobEncode() ([]byte, error) {
	wire := orSetWire[T]{Adds: s.adds, Tombstones: s.tombstones}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&wire); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode reverses GobEncode.
func (s *ORSet[T]) GobDecode(data []byte) error {
	var wire orSetWire[T]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}
	s.adds = wire.Adds
	s.tombstones = wire.Tombstones
	if s.adds == nil {
		s.adds = make(map[AddID]T)
	}
	if s.tombstones == nil {
		s.tombstones = make(map[AddID]struct{})
	}
	return nil
}

type orMapWire[K comparable, V any] struct {
	KeysBytes []byte
	Values    map[K]V
}

// GobEncode lets ORMap gob-encode through its unexported keys OR-Set.
func (m *ORMap[K, V]) GobEncode() ([]byte, error) {
	keysBytes, err := m.keys.GobEncode()
	if err != nil {
		return nil, err
	}
	wire := orMapWire[K, V]{KeysBytes: keysBytes, Values: m.values}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&wire); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode reverses GobEncode.
func (m *ORMap[K, V]) GobDecode(data []byte) error {
	var wire orMapWire[K, V]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}
	keys := NewORSet[K]()
	if err := keys.GobDecode(wire.KeysBytes); err != nil {
		return err
	}
	m.keys = keys
	m.values = wire.Values
	if m.values == nil {
		m.values = make(map[K]V)
	}
	return nil
}
