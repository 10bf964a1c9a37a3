package mlsgroup

import (
	"bytes"
	"testing"

	"github.com/spacepanda/core/errs"
	"github.com/spacepanda/core/identity"
)

type member struct {
	ident *identity.IdentityKey
	dev   *identity.DeviceKey
	init  *identity.InitKey
	kp    *identity.KeyPackage
}

func newMember(t *testing.T, credential string) *member {
	t.Helper()
	ik, err := identity.NewIdentityKey()
	if err != nil {
		t.Fatal(err)
	}
	dk, err := identity.NewDeviceKey(ik)
	if err != nil {
		t.Fatal(err)
	}
	init, err := identity.NewInitKey()
	if err != nil {
		t.Fatal(err)
	}
	kp := identity.BuildKeyPackage(ik, init.Pub, []byte(credential))
	return &member{ident: ik, dev: dk, init: init, kp: kp}
}

func newGroupID() identity.GroupId {
	var id identity.GroupId
	copy(id[:], []byte("test-group-0000000000000000000"))
	return id
}

// TestTwoMemberChannelOneMessage mirrors the end-to-end scenario: Alice
// creates a group, invites Bob, Bob joins, Alice sends a message, Bob
// decrypts it, and both land on epoch 1.
func TestTwoMemberChannelOneMessage(t *testing.T) {
	alice := newMember(t, "alice@spacepanda")
	bob := newMember(t, "bob@spacepanda")

	groupID := newGroupID()
	g, err := Create(groupID, alice.kp, alice.init, alice.ident)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := g.ProposeAdd(bob.kp); err != nil {
		t.Fatalf("ProposeAdd() error = %v", err)
	}
	commit, welcomes, err := g.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(welcomes) != 1 {
		t.Fatalf("len(welcomes) = %d, want 1", len(welcomes))
	}
	if g.Epoch() != 1 {
		t.Fatalf("alice epoch = %d, want 1", g.Epoch())
	}
	_ = commit

	bobGroup, err := JoinFromWelcome(welcomes[0], bob.init, bob.ident.Public, bob.ident)
	if err != nil {
		t.Fatalf("JoinFromWelcome() error = %v", err)
	}
	if bobGroup.Epoch() != 1 {
		t.Fatalf("bob epoch = %d, want 1", bobGroup.Epoch())
	}

	msg, err := g.EncryptApplication([]byte("hello"))
	if err != nil {
		t.Fatalf("EncryptApplication() error = %v", err)
	}
	plain, err := bobGroup.DecryptApplication(msg)
	if err != nil {
		t.Fatalf("DecryptApplication() error = %v", err)
	}
	if string(plain) != "hello" {
		t.Fatalf("decrypted = %q, want %q", plain, "hello")
	}
}

// TestEpochRejection mirrors the rejection scenario: a receiver at epoch 3
// rejects a commit labeled epoch 5 with EpochMismatch{expected:4, actual:5}.
func TestEpochRejection(t *testing.T) {
	alice := newMember(t, "alice@spacepanda")
	g, err := Create(newGroupID(), alice.kp, alice.init, alice.ident)
	if err != nil {
		t.Fatal(err)
	}
	g.epoch = 3

	bogus := &CommitMessage{GroupID: g.id, Epoch: 5, SenderLeaf: 0}
	err = g.ValidateCommit(bogus)
	if err == nil {
		t.Fatal("ValidateCommit() should reject a commit skipping epochs")
	}
	if !errs.Is(err, errs.KindEpochMismatch) {
		t.Fatalf("error kind = %v, want EpochMismatch", errs.KindOf(err))
	}
}

// TestMemberRemoval mirrors the removal scenario: after a member is
// removed, that member's attempt to decrypt a post-commit message fails,
// while remaining members keep exchanging messages.
func TestMemberRemoval(t *testing.T) {
	alice := newMember(t, "alice@spacepanda")
	bob := newMember(t, "bob@spacepanda")
	carol := newMember(t, "carol@spacepanda")
	dave := newMember(t, "dave@spacepanda")

	g, err := Create(newGroupID(), alice.kp, alice.init, alice.ident)
	if err != nil {
		t.Fatal(err)
	}
	var bobGroup, carolGroup, daveGroup *Group
	for _, m := range []*member{bob, carol, dave} {
		if _, err := g.ProposeAdd(m.kp); err != nil {
			t.Fatal(err)
		}
		commit, welcomes, err := g.Commit()
		if err != nil {
			t.Fatal(err)
		}
		// Members already in the group apply the same commit to stay in
		// sync with the newly extended tree and epoch.
		for _, existing := range []*Group{bobGroup, carolGroup, daveGroup} {
			if existing != nil {
				if err := existing.ApplyCommit(commit); err != nil {
					t.Fatalf("existing member ApplyCommit() error = %v", err)
				}
			}
		}
		joined, err := JoinFromWelcome(welcomes[0], m.init, m.ident.Public, m.ident)
		if err != nil {
			t.Fatal(err)
		}
		switch m {
		case bob:
			bobGroup = joined
		case carol:
			carolGroup = joined
		case dave:
			daveGroup = joined
		}
	}

	if g.MemberCount() != 4 {
		t.Fatalf("MemberCount() = %d, want 4", g.MemberCount())
	}

	// Admin (alice) removes carol (leaf 2).
	if _, err := g.ProposeRemove(carolGroup.OwnLeafIndex()); err != nil {
		t.Fatal(err)
	}
	commit, _, err := g.Commit()
	if err != nil {
		t.Fatal(err)
	}

	if err := bobGroup.ApplyCommit(commit); err != nil {
		t.Fatalf("bob ApplyCommit() error = %v", err)
	}
	if err := daveGroup.ApplyCommit(commit); err != nil {
		t.Fatalf("dave ApplyCommit() error = %v", err)
	}

	msg, err := g.EncryptApplication([]byte("still here"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bobGroup.DecryptApplication(msg); err != nil {
		t.Fatalf("bob should still decrypt post-removal messages: %v", err)
	}
	if _, err := daveGroup.DecryptApplication(msg); err != nil {
		t.Fatalf("dave should still decrypt post-removal messages: %v", err)
	}
	if _, err := carolGroup.DecryptApplication(msg); err == nil {
		t.Fatal("removed member should fail to decrypt a post-commit message")
	} else if !errs.Is(err, errs.KindEpochMismatch) && !errs.Is(err, errs.KindDecryptionFailed) {
		t.Fatalf("removed member's decrypt error kind = %v, want EpochMismatch or DecryptionFailed", errs.KindOf(err))
	}
}

// TestSealedSenderRejectsWrongEpoch checks that unsealing with a
// different epoch's key fails, matching scenario 6.
func TestSealedSenderRejectsWrongEpoch(t *testing.T) {
	alice := newMember(t, "alice@spacepanda")
	bob := newMember(t, "bob@spacepanda")

	g, err := Create(newGroupID(), alice.kp, alice.init, alice.ident)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.ProposeAdd(bob.kp); err != nil {
		t.Fatal(err)
	}
	_, welcomes, err := g.Commit()
	if err != nil {
		t.Fatal(err)
	}
	bobGroup, err := JoinFromWelcome(welcomes[0], bob.init, bob.ident.Public, bob.ident)
	if err != nil {
		t.Fatal(err)
	}

	msg, err := g.EncryptApplication([]byte("sealed"))
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := g.SealSender(msg)
	if err != nil {
		t.Fatal(err)
	}
	opened, err := bobGroup.UnsealSender(sealed)
	if err != nil {
		t.Fatalf("UnsealSender() error = %v", err)
	}
	if !bytes.Equal(opened.Ciphertext, msg.Ciphertext) {
		t.Fatal("unsealed ciphertext should match the original")
	}

	// Forge a sealed message claiming a different epoch than it was
	// actually sealed under; this must fail to unseal.
	sealed.Epoch = 999
	if _, err := bobGroup.UnsealSender(sealed); err == nil {
		t.Fatal("UnsealSender() should reject a mismatched epoch key")
	}
}

// TestApplyCommitLeavesStateUnchangedOnBadConfirmationTag forges a commit
// with a tampered ConfirmationTag and checks that ApplyCommit both
// rejects it and leaves the receiving member's epoch and membership
// exactly as they were before the call.
func TestApplyCommitLeavesStateUnchangedOnBadConfirmationTag(t *testing.T) {
	alice := newMember(t, "alice@spacepanda")
	bob := newMember(t, "bob@spacepanda")
	carol := newMember(t, "carol@spacepanda")

	g, err := Create(newGroupID(), alice.kp, alice.init, alice.ident)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.ProposeAdd(bob.kp); err != nil {
		t.Fatal(err)
	}
	_, welcomes, err := g.Commit()
	if err != nil {
		t.Fatal(err)
	}
	bobGroup, err := JoinFromWelcome(welcomes[0], bob.init, bob.ident.Public, bob.ident)
	if err != nil {
		t.Fatal(err)
	}

	beforeEpoch := bobGroup.Epoch()
	beforeMembers := bobGroup.Members()

	if _, err := g.ProposeAdd(carol.kp); err != nil {
		t.Fatal(err)
	}
	commit, _, err := g.Commit()
	if err != nil {
		t.Fatal(err)
	}

	// Tamper with the confirmation tag after the fact and re-sign, as a
	// sender holding a valid signing key but the wrong confirmation key
	// would: the signature (which covers the tag) then verifies, so the
	// rejection must come from ApplyCommit's confirmation-tag check.
	tampered := make([]byte, len(commit.ConfirmationTag))
	copy(tampered, commit.ConfirmationTag)
	tampered[0] ^= 0xFF
	commit.ConfirmationTag = tampered
	commit.Signature = alice.ident.Sign(commit.signingBytes())

	if err := bobGroup.ApplyCommit(commit); err == nil {
		t.Fatal("ApplyCommit() should reject a forged confirmation tag")
	} else if !errs.Is(err, errs.KindInternalInvariantViolation) {
		t.Fatalf("error kind = %v, want InternalInvariantViolation", errs.KindOf(err))
	}

	if bobGroup.Epoch() != beforeEpoch {
		t.Fatalf("epoch after rejected commit = %d, want unchanged %d", bobGroup.Epoch(), beforeEpoch)
	}
	afterMembers := bobGroup.Members()
	if len(afterMembers) != len(beforeMembers) {
		t.Fatalf("member count after rejected commit = %d, want unchanged %d", len(afterMembers), len(beforeMembers))
	}
	for i := range beforeMembers {
		if !bytes.Equal(afterMembers[i].IdentityPub, beforeMembers[i].IdentityPub) {
			t.Fatalf("member %d identity changed after rejected commit", i)
		}
	}
}

func TestApplicationMessageRejectsDuplicateGeneration(t *testing.T) {
	alice := newMember(t, "alice@spacepanda")
	bob := newMember(t, "bob@spacepanda")

	g, err := Create(newGroupID(), alice.kp, alice.init, alice.ident)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.ProposeAdd(bob.kp); err != nil {
		t.Fatal(err)
	}
	_, welcomes, err := g.Commit()
	if err != nil {
		t.Fatal(err)
	}
	bobGroup, err := JoinFromWelcome(welcomes[0], bob.init, bob.ident.Public, bob.ident)
	if err != nil {
		t.Fatal(err)
	}

	msg, err := g.EncryptApplication([]byte("once"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bobGroup.DecryptApplication(msg); err != nil {
		t.Fatal(err)
	}
	if _, err := bobGroup.DecryptApplication(msg); err == nil {
		t.Fatal("DecryptApplication() should reject a replayed generation")
	}
}
