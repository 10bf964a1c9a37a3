package mlsgroup

import (
	"bytes"
	"fmt"
)

// Members returns the group's currently occupied leaves, in leaf-index
// order. Blank slots are skipped, so once a leaf has been removed a
// position in the result is not a LeafIndex; FindLeaf maps an identity
// key to its leaf.
func (g *Group) Members() []*LeafNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tree.Members()
}

// LeafAt returns the occupant of leaf i, or nil if i is blank or
// out of range, so callers can resolve a proposal's RemoveLeaf to an
// identity before the commit that blanks it is applied.
func (g *Group) LeafAt(i LeafIndex) *LeafNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tree.Leaf(i)
}

// FindLeaf returns the leaf index occupied by the member whose identity
// public key is identityPub, or false if no current member matches.
func (g *Group) FindLeaf(identityPub []byte) (LeafIndex, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for i := 0; i < g.tree.LeafCount(); i++ {
		leaf := g.tree.Leaf(LeafIndex(i))
		if leaf == nil {
			continue
		}
		if bytes.Equal(leaf.IdentityPub, identityPub) {
			return LeafIndex(i), true
		}
	}
	return 0, false
}

// QueueProposal accepts a proposal authored by another member (received
// over the wire rather than built locally via Propose*) and queues it for
// the next commit, after the same validity checks Propose* applies.
func (g *Group) QueueProposal(p *Proposal) error {
	switch p.Type {
	case ProposalAdd:
		if p.KeyPackage == nil || !p.KeyPackage.Verify() {
			return errSignatureInvalid("mlsgroup.QueueProposal", nil)
		}
	case ProposalUpdate:
		if p.NewLeaf == nil {
			return errInvariantViolation("mlsgroup.QueueProposal", fmt.Errorf("update proposal carries no leaf material"))
		}
	case ProposalRemove:
		g.mu.RLock()
		blank := g.tree.Leaf(p.RemoveLeaf) == nil
		g.mu.RUnlock()
		if blank {
			return errInvariantViolation("mlsgroup.QueueProposal", fmt.Errorf("leaf %d already blank", p.RemoveLeaf))
		}
	default:
		return errInvariantViolation("mlsgroup.QueueProposal", fmt.Errorf("unknown proposal type %d", p.Type))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusActive {
		return errInvariantViolation("mlsgroup.QueueProposal", fmt.Errorf("group is %s", g.status))
	}
	g.pending = append(g.pending, p)
	return nil
}
