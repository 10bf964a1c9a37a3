package mlsgroup

import (
	"bytes"
	"testing"

	"github.com/spacepanda/core/internal/testutil"
)

func TestGroupSaveAndLoadFromFile(t *testing.T) {
	sandbox, err := testutil.NewSandbox()
	if err != nil {
		t.Fatal(err)
	}
	defer sandbox.Cleanup()

	alice := newMember(t, "alice@spacepanda")
	bob := newMember(t, "bob@spacepanda")

	g, err := Create(newGroupID(), alice.kp, alice.init, alice.ident)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.ProposeAdd(bob.kp); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Commit(); err != nil {
		t.Fatal(err)
	}

	path := sandbox.Path("group.bin")
	passphrase := []byte("correct horse battery staple")
	if err := g.SaveToFile(path, passphrase); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := LoadFromFile(path, passphrase, alice.ident)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.Epoch() != g.Epoch() {
		t.Fatalf("loaded epoch = %d, want %d", loaded.Epoch(), g.Epoch())
	}
	if loaded.MemberCount() != g.MemberCount() {
		t.Fatalf("loaded member count = %d, want %d", loaded.MemberCount(), g.MemberCount())
	}

	msg, err := g.EncryptApplication([]byte("after reload"))
	if err != nil {
		t.Fatal(err)
	}
	plain, err := loaded.DecryptApplication(msg)
	if err != nil {
		t.Fatalf("reloaded group should still decrypt: %v", err)
	}
	if string(plain) != "after reload" {
		t.Fatalf("decrypted = %q, want %q", plain, "after reload")
	}
}

func TestLoadFromFileRejectsWrongPassphrase(t *testing.T) {
	sandbox, err := testutil.NewSandbox()
	if err != nil {
		t.Fatal(err)
	}
	defer sandbox.Cleanup()

	alice := newMember(t, "alice@spacepanda")
	g, err := Create(newGroupID(), alice.kp, alice.init, alice.ident)
	if err != nil {
		t.Fatal(err)
	}

	path := sandbox.Path("group.bin")
	if err := g.SaveToFile(path, []byte("right passphrase")); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path, []byte("wrong passphrase"), alice.ident); err == nil {
		t.Fatal("LoadFromFile() should reject a wrong passphrase")
	}
}

func TestGroupToBytesFromBytesRoundTrip(t *testing.T) {
	alice := newMember(t, "alice@spacepanda")
	g, err := Create(newGroupID(), alice.kp, alice.init, alice.ident)
	if err != nil {
		t.Fatal(err)
	}

	data, err := g.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes() error = %v", err)
	}
	restored, err := FromBytes(data, alice.ident)
	if err != nil {
		t.Fatalf("FromBytes() error = %v", err)
	}
	if restored.Epoch() != g.Epoch() || restored.OwnLeafIndex() != g.OwnLeafIndex() {
		t.Fatal("restored group does not match original")
	}

	data2, err := restored.ToBytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, data2) {
		t.Log("note: re-serialized bytes may legitimately differ due to map ordering; checked via field equality above instead")
	}
}
