package mlsgroup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"

	"github.com/spacepanda/core/identity"
)

// keyScheduleSnapshot mirrors keySchedule's unexported fields for gob
// encoding.
type keyScheduleSnapshot struct {
	EpochSecret      []byte
	EncryptionSecret []byte
	ConfirmationKey  []byte
	ExporterSecret   []byte
	SenderDataSecret []byte
}

func (ks *keySchedule) snapshot() keyScheduleSnapshot {
	return keyScheduleSnapshot{
		EpochSecret:      ks.epochSecret,
		EncryptionSecret: ks.encryptionSecret,
		ConfirmationKey:  ks.confirmationKey,
		ExporterSecret:   ks.exporterSecret,
		SenderDataSecret: ks.senderDataSecret,
	}
}

func keyScheduleFromSnapshot(s keyScheduleSnapshot) *keySchedule {
	return &keySchedule{
		epochSecret:      s.EpochSecret,
		encryptionSecret: s.EncryptionSecret,
		confirmationKey:  s.ConfirmationKey,
		exporterSecret:   s.ExporterSecret,
		senderDataSecret: s.SenderDataSecret,
	}
}

// groupSnapshot is Group's serializable form, the plaintext payload that
// SaveToFile seals into an EncryptedGroupBlob.
type groupSnapshot struct {
	ID          identity.GroupId
	Status      GroupStatus
	Epoch       uint64
	Tree        *TreeSnapshot
	OwnLeaf     LeafIndex
	IdentPub    []byte
	OwnHPKEPriv []byte

	Schedule     keyScheduleSnapshot
	History      map[uint64]keyScheduleSnapshot
	HistoryOrder []uint64

	ConfirmedTranscriptHash []byte
	InterimTranscriptHash   []byte

	SendGeneration  map[LeafIndex]uint32
	SeenGenerations map[LeafIndex]map[uint32]bool
	LookaheadWindow uint32
}

// ToBytes gob-encodes the group's full live state.
func (g *Group) ToBytes() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	history := make(map[uint64]keyScheduleSnapshot, len(g.history.schedules))
	for epoch, ks := range g.history.schedules {
		history[epoch] = ks.snapshot()
	}

	snap := groupSnapshot{
		ID:                      g.id,
		Status:                  g.status,
		Epoch:                   g.epoch,
		Tree:                    g.tree.Export(),
		OwnLeaf:                 g.ownLeaf,
		IdentPub:                g.identPub,
		OwnHPKEPriv:             g.ownHPKEPriv,
		Schedule:                g.schedule.snapshot(),
		History:                 history,
		HistoryOrder:            append([]uint64(nil), g.history.order...),
		ConfirmedTranscriptHash: g.confirmedTranscriptHash,
		InterimTranscriptHash:   g.interimTranscriptHash,
		SendGeneration:          g.sendGeneration,
		SeenGenerations:         g.seenGenerations,
		LookaheadWindow:         g.lookaheadWindow,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return nil, errSerializationInvalid("mlsgroup.ToBytes", err)
	}
	return buf.Bytes(), nil
}

// FromBytes reconstructs a Group from the payload produced by ToBytes.
// The caller must supply a signer for subsequent Propose*/Commit calls;
// it is not itself persisted.
func FromBytes(data []byte, s signer) (*Group, error) {
	var snap groupSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, errSerializationInvalid("mlsgroup.FromBytes", err)
	}

	history := newEpochRing(epochRetentionSize)
	for _, epoch := range snap.HistoryOrder {
		if ks, ok := snap.History[epoch]; ok {
			history.put(epoch, keyScheduleFromSnapshot(ks))
		}
	}

	g := &Group{
		id:                      snap.ID,
		status:                  snap.Status,
		epoch:                   snap.Epoch,
		tree:                    TreeFromSnapshot(snap.Tree),
		ownLeaf:                 snap.OwnLeaf,
		identPub:                snap.IdentPub,
		ownHPKEPriv:             snap.OwnHPKEPriv,
		signer:                  s,
		schedule:                keyScheduleFromSnapshot(snap.Schedule),
		history:                 history,
		confirmedTranscriptHash: snap.ConfirmedTranscriptHash,
		interimTranscriptHash:   snap.InterimTranscriptHash,
		sendGeneration:          snap.SendGeneration,
		seenGenerations:         snap.SeenGenerations,
		lookaheadWindow:         snap.LookaheadWindow,
	}
	if g.sendGeneration == nil {
		g.sendGeneration = make(map[LeafIndex]uint32)
	}
	if g.seenGenerations == nil {
		g.seenGenerations = make(map[LeafIndex]map[uint32]bool)
	}
	return g, nil
}

// deriveFileKey derives an AES-256 key from passphrase via Argon2id,
// matching identity.FileKeystore's at-rest KDF tuning.
func deriveFileKey(passphrase, salt []byte) []byte {
	params := identity.DefaultArgon2Params()
	return argon2.IDKey(passphrase, salt, params.TimeCost, params.MemoryKiB, params.Parallelism, 32)
}

// SaveToFile seals the group's current state to path, encrypted with a
// passphrase-derived key, written atomically (write-temp, fsync, rename).
func (g *Group) SaveToFile(path string, passphrase []byte) error {
	plain, err := g.ToBytes()
	if err != nil {
		return err
	}

	var salt [16]byte
	if _, err := crand.Read(salt[:]); err != nil {
		return errPersistenceFailed("mlsgroup.SaveToFile", err)
	}
	key := deriveFileKey(passphrase, salt[:])
	block, err := aes.NewCipher(key)
	if err != nil {
		return errPersistenceFailed("mlsgroup.SaveToFile", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return errPersistenceFailed("mlsgroup.SaveToFile", err)
	}
	var nonce [12]byte
	if _, err := crand.Read(nonce[:]); err != nil {
		return errPersistenceFailed("mlsgroup.SaveToFile", err)
	}

	g.mu.RLock()
	epoch := g.epoch
	groupID := g.id
	g.mu.RUnlock()

	aad := append(append([]byte(nil), groupID[:]...), epochBytes(epoch)...)
	sealed := aead.Seal(nil, nonce[:], plain, aad)
	ct := sealed[:len(sealed)-16]
	var tag [16]byte
	copy(tag[:], sealed[len(sealed)-16:])

	blob := &EncryptedGroupBlob{
		Version:    wireVersion,
		GroupID:    groupID,
		Epoch:      epoch,
		Salt:       salt,
		Nonce:      nonce,
		AAD:        aad,
		Ciphertext: ct,
		Tag:        tag,
	}

	return writeFileAtomic(path, EncodeGroupBlob(blob))
}

// LoadFromFile reverses SaveToFile: parse, derive key, decrypt. Any
// decryption/auth failure is a hard error; callers must not proceed with
// partial state.
func LoadFromFile(path string, passphrase []byte, s signer) (*Group, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errPersistenceFailed("mlsgroup.LoadFromFile", err)
	}
	blob, err := DecodeGroupBlob(raw)
	if err != nil {
		return nil, err
	}
	if blob.Version != wireVersion {
		return nil, errSerializationInvalid("mlsgroup.LoadFromFile", fmt.Errorf("unknown version %d", blob.Version))
	}

	key := deriveFileKey(passphrase, blob.Salt[:])
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errPersistenceFailed("mlsgroup.LoadFromFile", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errPersistenceFailed("mlsgroup.LoadFromFile", err)
	}
	sealed := append(append([]byte(nil), blob.Ciphertext...), blob.Tag[:]...)
	plain, err := aead.Open(nil, blob.Nonce[:], sealed, blob.AAD)
	if err != nil {
		return nil, errDecryptionFailed("mlsgroup.LoadFromFile", err)
	}

	return FromBytes(plain, s)
}

func epochBytes(epoch uint64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(epoch >> (8 * i))
	}
	return buf
}

// writeFileAtomic writes data to path via a temp file, fsync, and rename,
// so a crash mid-write never leaves a corrupt group file on disk.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errPersistenceFailed("mlsgroup.writeFileAtomic", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errPersistenceFailed("mlsgroup.writeFileAtomic", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errPersistenceFailed("mlsgroup.writeFileAtomic", err)
	}
	if err := tmp.Close(); err != nil {
		return errPersistenceFailed("mlsgroup.writeFileAtomic", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errPersistenceFailed("mlsgroup.writeFileAtomic", err)
	}
	return nil
}
