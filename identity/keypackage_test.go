package identity

import "testing"

func TestKeyPackageVerify(t *testing.T) {
	ik, _ := NewIdentityKey()
	init, err := NewInitKey()
	if err != nil {
		t.Fatal(err)
	}
	kp := BuildKeyPackage(ik, init.Pub, []byte("bob@spacepanda"))
	if !kp.Verify() {
		t.Fatal("key package should verify against its own signature")
	}
}

func TestKeyPackageRejectsTamperedCredential(t *testing.T) {
	ik, _ := NewIdentityKey()
	init, _ := NewInitKey()
	kp := BuildKeyPackage(ik, init.Pub, []byte("bob@spacepanda"))
	kp.Credential = []byte("mallory@spacepanda")

	if kp.Verify() {
		t.Fatal("tampering with the credential should invalidate the signature")
	}
}

func TestInitKeyFromPrivateReconstructsSamePub(t *testing.T) {
	init, err := NewInitKey()
	if err != nil {
		t.Fatal(err)
	}
	reloaded, err := InitKeyFromPrivate(init.Private())
	if err != nil {
		t.Fatal(err)
	}
	if string(reloaded.Pub) != string(init.Pub) {
		t.Fatal("reconstructed init key must derive the same public scalar")
	}
}

func TestInitKeyFromPrivateRejectsWrongLength(t *testing.T) {
	if _, err := InitKeyFromPrivate([]byte("too short")); err == nil {
		t.Fatal("expected an error for a malformed scalar")
	}
}
