package identity

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// IdentityKey is a user's long-term Ed25519 key-pair, created once and
// persisted encrypted at rest.
type IdentityKey struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
	UserID  UserId
}

// NewIdentityKey generates a fresh identity key-pair.
func NewIdentityKey() (*IdentityKey, error) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate identity key: %w", err)
	}
	ik := &IdentityKey{Public: pub, private: priv, UserID: DeriveUserID(pub)}
	log.Debugf("identity: created identity key for user %s", ik.UserID)
	return ik, nil
}

// IdentityKeyFromSeed reconstructs an identity key-pair from a stored
// 32-byte Ed25519 seed, e.g. after loading from a Keystore.
func IdentityKeyFromSeed(seed []byte) (*IdentityKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &IdentityKey{Public: pub, private: priv, UserID: DeriveUserID(pub)}, nil
}

// Seed returns the 32-byte seed backing this identity key, for persistence.
// Callers should Wipe the returned slice once it has been stored.
func (ik *IdentityKey) Seed() []byte {
	return append([]byte(nil), ik.private.Seed()...)
}

// Sign signs msg with the identity private key.
func (ik *IdentityKey) Sign(msg []byte) []byte {
	return ed25519.Sign(ik.private, msg)
}

// DeviceKey is a per-device Ed25519 key-pair, signed by the owning
// identity key so remote peers can verify device membership.
type DeviceKey struct {
	Public    ed25519.PublicKey
	private   ed25519.PrivateKey
	DeviceID  DeviceId
	UserID    UserId
	Signature []byte // identity key's signature over Public
}

// NewDeviceKey mints a device key-pair and signs its public key with the
// owning identity key.
func NewDeviceKey(identity *IdentityKey) (*DeviceKey, error) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate device key: %w", err)
	}
	dk := &DeviceKey{
		Public:    pub,
		private:   priv,
		DeviceID:  DeriveDeviceID(pub),
		UserID:    identity.UserID,
		Signature: identity.Sign(pub),
	}
	log.Debugf("identity: minted device %s for user %s", dk.DeviceID, dk.UserID)
	return dk, nil
}

// Verify checks that Signature validates Public under identityPub.
func (dk *DeviceKey) Verify(identityPub ed25519.PublicKey) bool {
	return ed25519.Verify(identityPub, dk.Public, dk.Signature)
}

// Seed returns the 32-byte seed backing this device key, for persistence.
func (dk *DeviceKey) Seed() []byte {
	return append([]byte(nil), dk.private.Seed()...)
}

// DeviceKeyFromSeed reconstructs a device key-pair from a stored seed and
// its known signature/owner metadata, e.g. after loading from a Keystore.
func DeviceKeyFromSeed(seed []byte, userID UserId, signature []byte) (*DeviceKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &DeviceKey{
		Public:    pub,
		private:   priv,
		DeviceID:  DeriveDeviceID(pub),
		UserID:    userID,
		Signature: signature,
	}, nil
}

// Sign signs msg with the device private key, e.g. to author an OpLog entry.
func (dk *DeviceKey) Sign(msg []byte) []byte {
	return ed25519.Sign(dk.private, msg)
}

// Wipe zeroes a key's private seed material best-effort.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
