package channelmgr

import (
	"bytes"
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"github.com/spacepanda/core/identity"
	"github.com/spacepanda/core/mlsgroup"
)

// InviteToken bundles a Welcome message with a signed peer-hint so the
// joiner can both process the Welcome and dial the inviter back. Tokens
// are single-use and carry an expiry timestamp.
type InviteToken struct {
	ChannelID    identity.ChannelId
	WelcomeBytes []byte
	PeerHint     string
	InviterPub   ed25519.PublicKey
	IssuedAt     int64
	ExpiresAt    int64
	Nonce        [16]byte
	Signature    []byte
}

func (t *InviteToken) signingBytes() []byte {
	var buf bytes.Buffer
	buf.Write(t.ChannelID[:])
	buf.Write(t.WelcomeBytes)
	buf.WriteString(t.PeerHint)
	var tsBuf [16]byte
	binary.BigEndian.PutUint64(tsBuf[0:8], uint64(t.IssuedAt))
	binary.BigEndian.PutUint64(tsBuf[8:16], uint64(t.ExpiresAt))
	buf.Write(tsBuf[:])
	buf.Write(t.Nonce[:])
	return buf.Bytes()
}

// NewInviteToken builds and signs an InviteToken wrapping welcome, valid
// for ttl from now.
func NewInviteToken(channelID identity.ChannelId, welcome *mlsgroup.WelcomeMessage, peerHint string, inviterPub ed25519.PublicKey, s signer, now int64, ttl time.Duration) (*InviteToken, error) {
	welcomeBytes, err := welcome.MarshalBinary()
	if err != nil {
		return nil, errSerializationInvalid("channelmgr.NewInviteToken", err)
	}
	var nonce [16]byte
	if _, err := crand.Read(nonce[:]); err != nil {
		return nil, errInvariantViolation("channelmgr.NewInviteToken", fmt.Errorf("generate nonce: %w", err))
	}
	t := &InviteToken{
		ChannelID:    channelID,
		WelcomeBytes: welcomeBytes,
		PeerHint:     peerHint,
		InviterPub:   inviterPub,
		IssuedAt:     now,
		ExpiresAt:    now + int64(ttl.Seconds()),
		Nonce:        nonce,
	}
	t.Signature = s.Sign(t.signingBytes())
	return t, nil
}

// Verify checks the token's signature and expiry against now. It does not
// check single-use; that is tracked by the ChannelManager that redeems
// the token.
func (t *InviteToken) Verify(now int64) error {
	if now > t.ExpiresAt {
		return errInvariantViolation("channelmgr.InviteToken.Verify", fmt.Errorf("invite expired at %d (now %d)", t.ExpiresAt, now))
	}
	if !ed25519.Verify(t.InviterPub, t.signingBytes(), t.Signature) {
		return errPermissionDenied("channelmgr.InviteToken.Verify", fmt.Errorf("invalid invite signature"))
	}
	return nil
}

// Welcome decodes the token's embedded Welcome message.
func (t *InviteToken) Welcome() (*mlsgroup.WelcomeMessage, error) {
	var w mlsgroup.WelcomeMessage
	if err := w.UnmarshalBinary(t.WelcomeBytes); err != nil {
		return nil, err
	}
	return &w, nil
}

// Encode renders the token as an opaque base58 string for out-of-band
// sharing.
func (t *InviteToken) Encode() (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t); err != nil {
		return "", errSerializationInvalid("channelmgr.InviteToken.Encode", err)
	}
	return base58.Encode(buf.Bytes()), nil
}

// DecodeInviteToken reverses Encode.
func DecodeInviteToken(s string) (*InviteToken, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, errSerializationInvalid("channelmgr.DecodeInviteToken", err)
	}
	var t InviteToken
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&t); err != nil {
		return nil, errSerializationInvalid("channelmgr.DecodeInviteToken", err)
	}
	return &t, nil
}
