package mlsgroup

import "testing"

func TestNewAddProposalRejectsInvalidSignature(t *testing.T) {
	alice := newMember(t, "alice@spacepanda")
	bob := newMember(t, "bob@spacepanda")

	forged := *bob.kp
	forged.IdentityPub = alice.ident.Public // claims alice's identity but keeps bob's signature

	if _, err := NewAddProposal(&forged); err == nil {
		t.Fatal("NewAddProposal() should reject a key package with a mismatched identity key")
	}
}

func TestProposalRefIsStableAndDistinguishesProposals(t *testing.T) {
	bob := newMember(t, "bob@spacepanda")
	p1, err := NewAddProposal(bob.kp)
	if err != nil {
		t.Fatal(err)
	}
	p2 := NewRemoveProposal(0)

	if p1.Ref() != p1.Ref() {
		t.Fatal("Ref() should be deterministic for the same proposal")
	}
	if p1.Ref() == p2.Ref() {
		t.Fatal("distinct proposals should not collide")
	}
}
