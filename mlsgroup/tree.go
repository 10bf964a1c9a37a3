// Package mlsgroup implements the per-channel secure group protocol: key
// schedule, ratchet tree, proposal/commit/welcome lifecycle, epoch
// transitions, sealed sender, and authenticated persistence of group
// state. The ratchet tree and wire types use integer indices rather than
// pointer graphs to avoid cyclic references, the same integer
// NodeIndex/peer-map idiom transport/libp2p.go uses for peer bookkeeping.
package mlsgroup

import "fmt"

// NodeIndex addresses a node in the tree's 1-indexed heap array (index 1 is
// the root); LeafIndex addresses a leaf by its position among leaves.
type NodeIndex uint32
type LeafIndex uint32

// LeafNode is a group member's public material.
type LeafNode struct {
	IdentityPub []byte // Ed25519 public key
	HPKEPub     []byte // X25519 public key
	Credential  []byte
	Signature   []byte
}

// nodeSecret is the path secret held at an internal or leaf tree node; nil
// (a "blank" slot) means the node holds no current secret.
type nodeSecret struct {
	secret []byte
	leaf   *LeafNode // only set on leaf nodes currently occupied
}

// RatchetTree is a complete binary tree of size 2^ceil(log2(n)); nodes are
// stored in a 1-indexed heap array so a node's path to the root is just
// repeated integer division by two.
type RatchetTree struct {
	capacity int          // number of leaf slots, always a power of two
	nodes    []nodeSecret // length 2*capacity; index 0 unused, 1 is root
	occupied []bool       // parallel to nodes, true where a secret is set
}

// NewRatchetTree returns a tree with capacity for a single leaf.
func NewRatchetTree() *RatchetTree {
	t := &RatchetTree{capacity: 1}
	t.nodes = make([]nodeSecret, 2)
	t.occupied = make([]bool, 2)
	return t
}

// LeafCount returns the number of leaf slots currently allocated,
// including blanks.
func (t *RatchetTree) LeafCount() int { return t.capacity }

func treeSizeFor(leaves int) int {
	size := 1
	for size < leaves {
		size *= 2
	}
	return size
}

func (t *RatchetTree) leafNodeIndex(i LeafIndex) int { return t.capacity + int(i) }

// growTo ensures the tree has capacity for at least n leaf slots,
// preserving existing node contents by position.
func (t *RatchetTree) growTo(n int) {
	size := treeSizeFor(n)
	if size <= t.capacity {
		return
	}
	newNodes := make([]nodeSecret, 2*size)
	newOccupied := make([]bool, 2*size)
	// Old leaves lived at [oldCapacity, 2*oldCapacity); move them to the
	// equivalent position under the new capacity.
	for i := 0; i < t.capacity; i++ {
		oldIdx := t.capacity + i
		newIdx := size + i
		newNodes[newIdx] = t.nodes[oldIdx]
		newOccupied[newIdx] = t.occupied[oldIdx]
	}
	t.nodes = newNodes
	t.occupied = newOccupied
	t.capacity = size
}

// SetLeaf occupies leaf i with leaf node ln and its freshly derived path
// secret.
func (t *RatchetTree) SetLeaf(i LeafIndex, ln *LeafNode, secret []byte) {
	t.growTo(int(i) + 1)
	idx := t.leafNodeIndex(i)
	t.nodes[idx] = nodeSecret{secret: secret, leaf: ln}
	t.occupied[idx] = true
}

// BlankLeaf removes a leaf's occupant and blanks every node on its direct
// path to the root, per a commit's blank-on-remove obligation.
func (t *RatchetTree) BlankLeaf(i LeafIndex) {
	idx := t.leafNodeIndex(i)
	if idx < len(t.nodes) {
		t.nodes[idx] = nodeSecret{}
		t.occupied[idx] = false
	}
	for idx > 1 {
		idx /= 2
		if idx < len(t.nodes) {
			t.nodes[idx] = nodeSecret{}
			t.occupied[idx] = false
		}
	}
}

// Leaf returns the occupant of leaf i, or nil if blank.
func (t *RatchetTree) Leaf(i LeafIndex) *LeafNode {
	idx := t.leafNodeIndex(i)
	if idx >= len(t.nodes) || !t.occupied[idx] {
		return nil
	}
	return t.nodes[idx].leaf
}

// Members returns every occupied leaf's LeafNode in leaf-index order.
func (t *RatchetTree) Members() []*LeafNode {
	var out []*LeafNode
	for i := 0; i < t.capacity; i++ {
		if ln := t.Leaf(LeafIndex(i)); ln != nil {
			out = append(out, ln)
		}
	}
	return out
}

// MemberCount returns the number of occupied leaves.
func (t *RatchetTree) MemberCount() int {
	n := 0
	for i := 0; i < t.capacity; i++ {
		if t.Leaf(LeafIndex(i)) != nil {
			n++
		}
	}
	return n
}

// FirstFreeLeaf returns the lowest-index unoccupied leaf slot, growing the
// tree if every slot is occupied. No two live members ever share a leaf
// index.
func (t *RatchetTree) FirstFreeLeaf() LeafIndex {
	for i := 0; i < t.capacity; i++ {
		if t.Leaf(LeafIndex(i)) == nil {
			return LeafIndex(i)
		}
	}
	old := t.capacity
	t.growTo(old + 1)
	return LeafIndex(old)
}

// UpdatePathSecret sets the path secret at leaf i and propagates fresh
// secrets up every node on its direct path to the root, so the commit's
// UpdatePath covers the whole affected subtree.
func (t *RatchetTree) UpdatePathSecret(i LeafIndex, derive func(prev []byte) []byte) error {
	idx := t.leafNodeIndex(i)
	if idx >= len(t.nodes) || !t.occupied[idx] {
		return fmt.Errorf("mlsgroup: leaf %d is blank, cannot update path secret", i)
	}
	secret := derive(t.nodes[idx].secret)
	t.nodes[idx].secret = secret
	for idx > 1 {
		idx /= 2
		secret = derive(secret)
		t.nodes[idx] = nodeSecret{secret: secret}
		t.occupied[idx] = true
	}
	return nil
}

// TreeSnapshot is RatchetTree's serializable form, used by persistence.go
// to save/restore group state across restarts.
type TreeSnapshot struct {
	Capacity int
	Secrets  [][]byte // nil entry means blank
	Leaves   []*LeafNode
	Occupied []bool
}

// Export captures the tree's full node state for persistence.
func (t *RatchetTree) Export() *TreeSnapshot {
	s := &TreeSnapshot{
		Capacity: t.capacity,
		Secrets:  make([][]byte, len(t.nodes)),
		Leaves:   make([]*LeafNode, len(t.nodes)),
		Occupied: append([]bool(nil), t.occupied...),
	}
	for i, n := range t.nodes {
		s.Secrets[i] = n.secret
		s.Leaves[i] = n.leaf
	}
	return s
}

// TreeFromSnapshot rebuilds a RatchetTree from a snapshot captured by Export.
func TreeFromSnapshot(s *TreeSnapshot) *RatchetTree {
	t := &RatchetTree{
		capacity: s.Capacity,
		nodes:    make([]nodeSecret, len(s.Secrets)),
		occupied: append([]bool(nil), s.Occupied...),
	}
	for i := range s.Secrets {
		t.nodes[i] = nodeSecret{secret: s.Secrets[i], leaf: s.Leaves[i]}
	}
	return t
}

// RootSecret returns the path secret held at the tree's root, used as
// input to the key schedule. For a single-member group with no commit yet,
// the sole leaf's secret is used instead so epoch 0 still has deterministic
// key material.
func (t *RatchetTree) RootSecret() []byte {
	if t.occupied[1] {
		return t.nodes[1].secret
	}
	if t.capacity >= 1 && t.occupied[t.leafNodeIndex(0)] {
		return t.nodes[t.leafNodeIndex(0)].secret
	}
	return nil
}
