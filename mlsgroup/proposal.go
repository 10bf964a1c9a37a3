package mlsgroup

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/spacepanda/core/identity"
)

// ProposalType enumerates the kinds of pending group changes.
type ProposalType uint8

const (
	ProposalAdd ProposalType = iota + 1
	ProposalUpdate
	ProposalRemove
)

// Proposal is a pending group change, queued until the next commit.
type Proposal struct {
	Type ProposalType

	// Add
	KeyPackage *identity.KeyPackage

	// Update
	NewLeaf *LeafNode

	// Remove
	RemoveLeaf LeafIndex
}

// ProposalRef is hash(proposal_bytes), used to reference a proposal in a
// commit without re-sending its full contents.
type ProposalRef [32]byte

func (p *Proposal) bytes() []byte {
	var buf []byte
	buf = append(buf, byte(p.Type))
	switch p.Type {
	case ProposalAdd:
		buf = append(buf, p.KeyPackage.IdentityPub...)
		buf = append(buf, p.KeyPackage.HPKEPub...)
		buf = append(buf, p.KeyPackage.Credential...)
		buf = append(buf, p.KeyPackage.Signature...)
	case ProposalUpdate:
		buf = append(buf, p.NewLeaf.IdentityPub...)
		buf = append(buf, p.NewLeaf.HPKEPub...)
		buf = append(buf, p.NewLeaf.Credential...)
	case ProposalRemove:
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(p.RemoveLeaf))
		buf = append(buf, idx[:]...)
	}
	return buf
}

// Ref computes the ProposalRef for p.
func (p *Proposal) Ref() ProposalRef {
	return ProposalRef(sha256.Sum256(p.bytes()))
}

// NewAddProposal validates kp's signature under its advertised identity
// key and returns the corresponding Add proposal.
func NewAddProposal(kp *identity.KeyPackage) (*Proposal, error) {
	if !kp.Verify() {
		return nil, errSignatureInvalid("mlsgroup.NewAddProposal", nil)
	}
	return &Proposal{Type: ProposalAdd, KeyPackage: kp}, nil
}

// NewUpdateProposal builds an Update proposal that will replace the
// caller's leaf on commit.
func NewUpdateProposal(newLeaf *LeafNode) *Proposal {
	return &Proposal{Type: ProposalUpdate, NewLeaf: newLeaf}
}

// NewRemoveProposal builds a Remove proposal targeting leafIdx.
func NewRemoveProposal(leafIdx LeafIndex) *Proposal {
	return &Proposal{Type: ProposalRemove, RemoveLeaf: leafIdx}
}
