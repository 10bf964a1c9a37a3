package mlsgroup

import (
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// sealedEnvelope is the HPKE-shaped ciphertext produced by hpkeSeal: an
// ephemeral X25519 public key plus an AEAD-sealed payload. This module
// does not claim RFC 9180 wire compatibility, only the same KEM/KDF/AEAD
// building blocks.
type sealedEnvelope struct {
	EphemeralPub []byte
	Ciphertext   []byte
}

// hpkeSeal encrypts plaintext to recipientPub: a fresh X25519 key-pair is
// generated, ECDH'd against recipientPub, and the resulting shared secret
// is expanded via HKDF into an AEAD key bound to both public keys and the
// caller-supplied info (domain separation), then used to seal plaintext.
func hpkeSeal(recipientPub, plaintext, info []byte) (*sealedEnvelope, error) {
	ephPriv := make([]byte, curve25519.ScalarSize)
	if _, err := crand.Read(ephPriv); err != nil {
		return nil, fmt.Errorf("mlsgroup: generate ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: derive ephemeral pub: %w", err)
	}
	shared, err := curve25519.X25519(ephPriv, recipientPub)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: ecdh: %w", err)
	}
	key, err := hpkeKDF(shared, ephPub, recipientPub, info)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	ct := aead.Seal(nil, nonce, plaintext, info)
	// The zero nonce is safe here: every seal uses a fresh ephemeral key,
	// so the (key, nonce) pair is never reused.
	return &sealedEnvelope{EphemeralPub: ephPub, Ciphertext: ct}, nil
}

// hpkeOpen reverses hpkeSeal using the recipient's private scalar.
func hpkeOpen(recipientPriv []byte, env *sealedEnvelope, info []byte) ([]byte, error) {
	recipientPub, err := curve25519.X25519(recipientPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: derive recipient pub: %w", err)
	}
	shared, err := curve25519.X25519(recipientPriv, env.EphemeralPub)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: ecdh: %w", err)
	}
	key, err := hpkeKDF(shared, env.EphemeralPub, recipientPub, info)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	plain, err := aead.Open(nil, nonce, env.Ciphertext, info)
	if err != nil {
		return nil, errDecryptionFailed("mlsgroup.hpkeOpen", err)
	}
	return plain, nil
}

func hpkeKDF(shared, ephPub, recipientPub, info []byte) ([]byte, error) {
	salt := append(append([]byte(nil), ephPub...), recipientPub...)
	r := hkdf.New(sha256.New, shared, salt, info)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("mlsgroup: hpke kdf: %w", err)
	}
	return key, nil
}

func leafInfo(label string, leaf LeafIndex) []byte {
	buf := make([]byte, len(label)+4)
	copy(buf, label)
	binary.BigEndian.PutUint32(buf[len(label):], uint32(leaf))
	return buf
}
