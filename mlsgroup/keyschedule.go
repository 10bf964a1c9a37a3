package mlsgroup

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keySchedule holds every secret derived for one epoch: join_secret feeds
// epoch_secret, which fans out into the labeled secrets application code
// actually uses.
type keySchedule struct {
	epochSecret       []byte
	encryptionSecret  []byte
	confirmationKey   []byte
	exporterSecret    []byte
	senderDataSecret  []byte
}

const (
	labelJoin             = "join"
	labelEpoch            = "epoch"
	labelEncryption       = "encryption"
	labelConfirmationKey  = "confirmation key"
	labelExporter         = "exporter"
	labelSenderData       = "sender data"
)

func hkdfExtract(salt, ikm []byte) []byte {
	// hkdf.Extract performs the RFC 5869 extract step directly (no expand).
	return hkdf.Extract(sha256.New, ikm, salt)
}

func hkdfExpandLabel(secret []byte, label string, length int) ([]byte, error) {
	r := hkdf.Expand(sha256.New, secret, []byte("spacepanda mls "+label))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("mlsgroup: hkdf-expand %s: %w", label, err)
	}
	return out, nil
}

// deriveEpoch0 computes the founder's initial key schedule:
// join_secret ← HKDF-extract(salt=0, ikm=founder_init_secret); then
// epoch_secret, encryption_secret, confirmation_key, exporter_secret via
// HKDF-expand with fixed labels.
func deriveEpoch0(founderInitSecret []byte) (*keySchedule, error) {
	zeroSalt := make([]byte, sha256.Size)
	joinSecret := hkdfExtract(zeroSalt, founderInitSecret)
	return deriveFromJoinSecret(joinSecret)
}

// deriveNextEpoch computes epoch e+1's key schedule from the previous
// epoch_secret and the commit secret, which the committer generates at
// random and seals to every other member.
func deriveNextEpoch(prevEpochSecret, commitSecret []byte) (*keySchedule, error) {
	joinSecret := hkdfExtract(prevEpochSecret, commitSecret)
	return deriveFromJoinSecret(joinSecret)
}

func deriveFromJoinSecret(joinSecret []byte) (*keySchedule, error) {
	epochSecret, err := hkdfExpandLabel(joinSecret, labelEpoch, 32)
	if err != nil {
		return nil, err
	}
	return deriveFanoutFromEpochSecret(epochSecret)
}

// deriveFanoutFromEpochSecret fans epoch_secret out into the labeled
// secrets, without re-deriving it from a join_secret. Used by a joiner
// bootstrapping from a Welcome, which receives epoch_secret directly
// rather than replaying the commit that produced it.
func deriveFanoutFromEpochSecret(epochSecret []byte) (*keySchedule, error) {
	encryptionSecret, err := hkdfExpandLabel(epochSecret, labelEncryption, 32)
	if err != nil {
		return nil, err
	}
	confirmationKey, err := hkdfExpandLabel(epochSecret, labelConfirmationKey, 32)
	if err != nil {
		return nil, err
	}
	exporterSecret, err := hkdfExpandLabel(epochSecret, labelExporter, 32)
	if err != nil {
		return nil, err
	}
	senderDataSecret, err := hkdfExpandLabel(epochSecret, labelSenderData, 32)
	if err != nil {
		return nil, err
	}
	return &keySchedule{
		epochSecret:      epochSecret,
		encryptionSecret: encryptionSecret,
		confirmationKey:  confirmationKey,
		exporterSecret:   exporterSecret,
		senderDataSecret: senderDataSecret,
	}, nil
}

// messageNonceAndKey derives the per-(sender_leaf, generation) AEAD
// nonce and key from encryption_secret via HKDF.
func messageNonceAndKey(encryptionSecret []byte, senderLeaf LeafIndex, generation uint32) (key, nonce []byte, err error) {
	info := make([]byte, 4+4)
	binary.BigEndian.PutUint32(info[:4], uint32(senderLeaf))
	binary.BigEndian.PutUint32(info[4:], generation)

	r := hkdf.Expand(sha256.New, encryptionSecret, append([]byte("spacepanda mls ratchet "), info...))
	key = make([]byte, 16) // AES-128-GCM
	if _, err = io.ReadFull(r, key); err != nil {
		return nil, nil, fmt.Errorf("mlsgroup: derive message key: %w", err)
	}
	nonce = make([]byte, 12)
	if _, err = io.ReadFull(r, nonce); err != nil {
		return nil, nil, fmt.Errorf("mlsgroup: derive message nonce: %w", err)
	}
	return key, nonce, nil
}

// newExporter returns an HKDF reader bound to exporterSecret, label, and
// context, for deriving application-specific secrets outside the key
// schedule proper.
func newExporter(exporterSecret []byte, label string, context []byte) io.Reader {
	info := append([]byte("spacepanda mls exporter "+label+" "), context...)
	return hkdf.Expand(sha256.New, exporterSecret, info)
}

// confirmationTag computes MAC(confirmation_key, confirmed_transcript_hash)
// using HMAC-SHA256 as the MAC.
func confirmationTag(confirmationKey, confirmedTranscriptHash []byte) []byte {
	mac := hmac.New(sha256.New, confirmationKey)
	mac.Write(confirmedTranscriptHash)
	return mac.Sum(nil)
}
