package mlsgroup

import (
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/spacepanda/core/identity"
)

// ApplicationMessage is one ciphertext exchanged inside an active epoch.
// Nonce and AAD bind the ciphertext to its group, epoch, sender leaf, and
// generation so a swapped envelope fails to decrypt.
type ApplicationMessage struct {
	GroupID    identity.GroupId
	Epoch      uint64
	SenderLeaf LeafIndex
	Generation uint32
	Ciphertext []byte
}

func (g *Group) aad(epoch uint64, sender LeafIndex, generation uint32) []byte {
	buf := make([]byte, 32+8+4+4)
	copy(buf[:32], g.id[:])
	binary.BigEndian.PutUint64(buf[32:40], epoch)
	binary.BigEndian.PutUint32(buf[40:44], uint32(sender))
	binary.BigEndian.PutUint32(buf[44:48], generation)
	return buf
}

// EncryptApplication seals plaintext under the current epoch's ratcheting
// message key for the caller's own leaf, advancing the send generation
// counter.
func (g *Group) EncryptApplication(plaintext []byte) (*ApplicationMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusActive {
		return nil, errInvariantViolation("mlsgroup.EncryptApplication", fmt.Errorf("group is %s", g.status))
	}
	generation := g.sendGeneration[g.ownLeaf]
	key, nonce, err := messageNonceAndKey(g.schedule.encryptionSecret, g.ownLeaf, generation)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: init gcm: %w", err)
	}
	aad := g.aad(g.epoch, g.ownLeaf, generation)
	ct := aead.Seal(nil, nonce, plaintext, aad)
	g.sendGeneration[g.ownLeaf] = generation + 1

	return &ApplicationMessage{
		GroupID:    g.id,
		Epoch:      g.epoch,
		SenderLeaf: g.ownLeaf,
		Generation: generation,
		Ciphertext: ct,
	}, nil
}

// DecryptApplication opens an ApplicationMessage, rejecting messages from
// an epoch outside the retained window, generations outside the bounded
// lookahead, and exact-duplicate (group_id, epoch, sender, generation)
// tuples.
func (g *Group) DecryptApplication(msg *ApplicationMessage) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if msg.GroupID != g.id {
		return nil, errInvariantViolation("mlsgroup.DecryptApplication", fmt.Errorf("message targets a different group"))
	}

	var schedule *keySchedule
	if msg.Epoch == g.epoch {
		schedule = g.schedule
	} else {
		var ok bool
		schedule, ok = g.history.get(msg.Epoch)
		if !ok {
			return nil, errEpochMismatch("mlsgroup.DecryptApplication", g.epoch, msg.Epoch)
		}
	}

	seen, ok := g.seenGenerations[msg.SenderLeaf]
	if !ok {
		return nil, errInvariantViolation("mlsgroup.DecryptApplication", fmt.Errorf("sender leaf %d is not a known member", msg.SenderLeaf))
	}
	if seen[msg.Generation] {
		return nil, errInvariantViolation("mlsgroup.DecryptApplication", fmt.Errorf("duplicate generation %d from leaf %d", msg.Generation, msg.SenderLeaf))
	}
	highWatermark := g.sendGeneration[msg.SenderLeaf]
	if msg.Generation > highWatermark+g.lookaheadWindow {
		return nil, errInvariantViolation("mlsgroup.DecryptApplication", fmt.Errorf("generation %d exceeds lookahead window", msg.Generation))
	}

	key, nonce, err := messageNonceAndKey(schedule.encryptionSecret, msg.SenderLeaf, msg.Generation)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: init gcm: %w", err)
	}
	aad := g.aad(msg.Epoch, msg.SenderLeaf, msg.Generation)
	plain, err := aead.Open(nil, nonce, msg.Ciphertext, aad)
	if err != nil {
		return nil, errDecryptionFailed("mlsgroup.DecryptApplication", err)
	}

	seen[msg.Generation] = true
	if msg.Generation >= highWatermark {
		g.sendGeneration[msg.SenderLeaf] = msg.Generation + 1
	}
	return plain, nil
}

// SealedMessage is an ApplicationMessage whose sender leaf is hidden,
// protected instead by the epoch's sealed-sender key.
type SealedMessage struct {
	GroupID    identity.GroupId
	Epoch      uint64
	Ciphertext []byte // random GCM nonce || AEAD-sealed (SenderLeaf || Generation || inner ApplicationMessage.Ciphertext)
}

// SealSender hides msg's sender leaf behind the epoch's sealed-sender key,
// derived fresh per epoch via identity.DeriveSealedSenderKey so unsealing
// under a different epoch's key fails.
func (g *Group) SealSender(msg *ApplicationMessage) (*SealedMessage, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	key, err := identity.DeriveSealedSenderKey(g.schedule.exporterSecret, msg.Epoch)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: init sealed-sender cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: init sealed-sender gcm: %w", err)
	}
	header := EncodeSenderData(&SenderData{SenderLeaf: msg.SenderLeaf, Generation: msg.Generation})
	inner := append(header, msg.Ciphertext...)

	nonce := make([]byte, aead.NonceSize())
	if _, err := crand.Read(nonce); err != nil {
		return nil, fmt.Errorf("mlsgroup: generate sealed-sender nonce: %w", err)
	}
	ct := aead.Seal(nonce, nonce, inner, g.id[:])
	return &SealedMessage{GroupID: g.id, Epoch: msg.Epoch, Ciphertext: ct}, nil
}

// UnsealSender recovers the inner ApplicationMessage from a SealedMessage,
// using the key schedule for sealed.Epoch (current or retained).
func (g *Group) UnsealSender(sealed *SealedMessage) (*ApplicationMessage, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if sealed.GroupID != g.id {
		return nil, errInvariantViolation("mlsgroup.UnsealSender", fmt.Errorf("sealed message targets a different group"))
	}
	var schedule *keySchedule
	if sealed.Epoch == g.epoch {
		schedule = g.schedule
	} else {
		var ok bool
		schedule, ok = g.history.get(sealed.Epoch)
		if !ok {
			return nil, errEpochMismatch("mlsgroup.UnsealSender", g.epoch, sealed.Epoch)
		}
	}

	key, err := identity.DeriveSealedSenderKey(schedule.exporterSecret, sealed.Epoch)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: init sealed-sender cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("mlsgroup: init sealed-sender gcm: %w", err)
	}
	if len(sealed.Ciphertext) < aead.NonceSize() {
		return nil, errSerializationInvalid("mlsgroup.UnsealSender", fmt.Errorf("sealed message too short"))
	}
	nonce := sealed.Ciphertext[:aead.NonceSize()]
	inner, err := aead.Open(nil, nonce, sealed.Ciphertext[aead.NonceSize():], g.id[:])
	if err != nil {
		return nil, errDecryptionFailed("mlsgroup.UnsealSender", err)
	}
	senderData, err := DecodeSenderData(inner)
	if err != nil {
		return nil, err
	}
	return &ApplicationMessage{
		GroupID:    sealed.GroupID,
		Epoch:      sealed.Epoch,
		SenderLeaf: senderData.SenderLeaf,
		Generation: senderData.Generation,
		Ciphertext: inner[8:],
	}, nil
}
