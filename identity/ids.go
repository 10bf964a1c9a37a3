// Package identity implements long-term identity and device key-pairs,
// stable user/device identifiers, signed key packages, sealed-sender key
// derivation, and the keystore contract used to persist key material at
// rest. Derivation follows an HD-wallet-style idiom (hash a public key,
// truncate to the identifier width) adapted to SpacePanda's fixed-size
// opaque IDs instead of blockchain addresses.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// UserId is the 32-byte collision-resistant hash of a user's long-term
// public key.
type UserId [32]byte

// DeviceId is the 16-byte hash of a device public key, or a random value
// when no stable key exists yet.
type DeviceId [16]byte

// SpaceId, ChannelId and GroupId are 32-byte opaque identifiers.
type SpaceId [32]byte
type ChannelId [32]byte
type GroupId [32]byte

// MessageId is a 32-byte random identifier.
type MessageId [32]byte

// String renders an id as lowercase hex.
func (u UserId) String() string { return hex.EncodeToString(u[:]) }
func (d DeviceId) String() string { return hex.EncodeToString(d[:]) }
func (s SpaceId) String() string { return hex.EncodeToString(s[:]) }
func (c ChannelId) String() string { return hex.EncodeToString(c[:]) }
func (g GroupId) String() string { return hex.EncodeToString(g[:]) }
func (m MessageId) String() string { return hex.EncodeToString(m[:]) }

// UserIdFromString parses the hex form produced by String; it is the exact
// inverse of String, so UserIdFromString(id.String()) == id.
func UserIdFromString(s string) (UserId, error) {
	var out UserId
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(out) {
		return out, errBadID("UserId", s)
	}
	copy(out[:], b)
	return out, nil
}

// ChannelIdFromString parses the hex form produced by String.
func ChannelIdFromString(s string) (ChannelId, error) {
	var out ChannelId
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(out) {
		return out, errBadID("ChannelId", s)
	}
	copy(out[:], b)
	return out, nil
}

// SpaceIdFromString parses the hex form produced by String.
func SpaceIdFromString(s string) (SpaceId, error) {
	var out SpaceId
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(out) {
		return out, errBadID("SpaceId", s)
	}
	copy(out[:], b)
	return out, nil
}

func errBadID(kind, s string) error {
	return &idParseError{kind: kind, value: s}
}

type idParseError struct {
	kind  string
	value string
}

func (e *idParseError) Error() string {
	return "identity: invalid " + e.kind + " string: " + e.value
}

// DeriveUserID hashes an Ed25519 identity public key into a UserId.
func DeriveUserID(pub ed25519.PublicKey) UserId {
	return UserId(sha256.Sum256(pub))
}

// DeriveDeviceID hashes an Ed25519 device public key and truncates to the
// first half of the digest.
func DeriveDeviceID(pub ed25519.PublicKey) DeviceId {
	sum := sha256.Sum256(pub)
	var out DeviceId
	copy(out[:], sum[:16])
	return out
}

// RandomDeviceID returns a random DeviceId for devices that have not yet
// advertised a stable key.
func RandomDeviceID() DeviceId {
	u := uuid.New()
	var out DeviceId
	copy(out[:], u[:])
	return out
}

// RandomMessageID returns a fresh random MessageId.
func RandomMessageID() MessageId {
	a := uuid.New()
	b := uuid.New()
	var out MessageId
	copy(out[:16], a[:])
	copy(out[16:], b[:])
	return out
}
