package crdt

// LWWRegister is a last-writer-wins single-valued register. Ties on
// timestamp are broken deterministically on NodeID so merge stays
// commutative and associative regardless of arrival order.
type LWWRegister[T any] struct {
	Value     T
	Timestamp int64
	NodeID    string
	Clock     *VectorClock
}

// NewLWWRegister constructs a register already set to an initial value.
func NewLWWRegister[T any](value T, ts int64, nodeID string, vc *VectorClock) *LWWRegister[T] {
	if vc == nil {
		vc = NewVectorClock()
	}
	return &LWWRegister[T]{Value: value, Timestamp: ts, NodeID: nodeID, Clock: vc}
}

// less reports whether (ts, node) strictly precedes (ots, onode) in LWW
// order: (ts_a, node_a) < (ts_b, node_b) iff ts_a < ts_b, or ts_a == ts_b
// and node_a < node_b lexicographically.
func less(ts int64, node string, ots int64, onode string) bool {
	if ts != ots {
		return ts < ots
	}
	return node < onode
}

// Set assigns a new value locally, advancing the register's causal clock.
func (r *LWWRegister[T]) Set(value T, ts int64, nodeID string) {
	r.Value = value
	r.Timestamp = ts
	r.NodeID = nodeID
	r.Clock = r.Clock.Merge(r.Clock)
	r.Clock.Inc(nodeID)
}

// Merge returns a new register holding whichever of r/other wins under LWW
// order; the vector clocks are merged unconditionally so causal history is
// never lost even when the value loses the tie-break.
func (r *LWWRegister[T]) Merge(other *LWWRegister[T]) *LWWRegister[T] {
	if other == nil {
		return &LWWRegister[T]{Value: r.Value, Timestamp: r.Timestamp, NodeID: r.NodeID, Clock: r.Clock.Clone()}
	}
	mergedClock := r.Clock.Merge(other.Clock)

	if less(r.Timestamp, r.NodeID, other.Timestamp, other.NodeID) {
		return &LWWRegister[T]{Value: other.Value, Timestamp: other.Timestamp, NodeID: other.NodeID, Clock: mergedClock}
	}
	return &LWWRegister[T]{Value: r.Value, Timestamp: r.Timestamp, NodeID: r.NodeID, Clock: mergedClock}
}
