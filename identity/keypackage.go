package identity

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPackage is a signed bundle advertising a prospective member's
// identity and HPKE-capable encryption key, used as a group-join artifact.
type KeyPackage struct {
	IdentityPub ed25519.PublicKey
	HPKEPub     []byte // X25519 public key, 32 bytes
	Credential  []byte
	Signature   []byte // identity key's signature over (HPKEPub || Credential)
}

// InitKey is the X25519 key-pair a prospective member publishes in its
// KeyPackage; Welcome messages are HPKE-sealed to Pub.
type InitKey struct {
	Pub  []byte
	priv []byte
}

// NewInitKey generates a fresh X25519 key-pair for use as a KeyPackage's
// HPKE init key.
func NewInitKey() (*InitKey, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := crand.Read(priv); err != nil {
		return nil, fmt.Errorf("identity: generate init key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: derive init pub: %w", err)
	}
	return &InitKey{Pub: pub, priv: priv}, nil
}

// Private returns the init key's scalar, for use opening Welcome envelopes.
func (k *InitKey) Private() []byte { return append([]byte(nil), k.priv...) }

// InitKeyFromPrivate reconstructs an InitKey from a persisted scalar, e.g.
// one saved after a KeyPackage was handed out so the same key can later
// decrypt a Welcome addressed to it, across a process restart.
func InitKeyFromPrivate(priv []byte) (*InitKey, error) {
	if len(priv) != curve25519.ScalarSize {
		return nil, fmt.Errorf("identity: init key scalar must be %d bytes, got %d", curve25519.ScalarSize, len(priv))
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: derive init pub: %w", err)
	}
	return &InitKey{Pub: pub, priv: append([]byte(nil), priv...)}, nil
}

// BuildKeyPackage signs (hpkePub || credential) with identity and returns
// the resulting KeyPackage.
func BuildKeyPackage(identity *IdentityKey, hpkePub, credential []byte) *KeyPackage {
	msg := append(append([]byte(nil), hpkePub...), credential...)
	return &KeyPackage{
		IdentityPub: identity.Public,
		HPKEPub:     append([]byte(nil), hpkePub...),
		Credential:  append([]byte(nil), credential...),
		Signature:   identity.Sign(msg),
	}
}

// Verify validates a KeyPackage's signature under its own advertised
// identity public key.
func (kp *KeyPackage) Verify() bool {
	msg := append(append([]byte(nil), kp.HPKEPub...), kp.Credential...)
	return ed25519.Verify(kp.IdentityPub, msg, kp.Signature)
}
