package mlsgroup

import (
	"crypto/ed25519"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/spacepanda/core/identity"
)

// JoinFromWelcome reconstructs group state for a newly added member from a
// Welcome message: the joiner's init key unseals the new epoch's
// epoch_secret, and the member list in the Welcome rebuilds a local
// ratchet tree without replaying any earlier epoch.
func JoinFromWelcome(welcome *WelcomeMessage, joinerInit *identity.InitKey, joinerIdentPub ed25519.PublicKey, s signer) (*Group, error) {
	epochSecret, err := hpkeOpen(joinerInit.Private(), welcome.sealedSecret, leafInfo("welcome", welcome.JoinerLeaf))
	if err != nil {
		return nil, errDecryptionFailed("mlsgroup.JoinFromWelcome", err)
	}
	schedule, err := deriveFanoutFromEpochSecret(epochSecret)
	if err != nil {
		return nil, err
	}

	joinerFound := false
	for _, m := range welcome.Members {
		if bytes32Equal(m.IdentityPub, joinerIdentPub) {
			joinerFound = true
			break
		}
	}
	if !joinerFound {
		return nil, errInvariantViolation("mlsgroup.JoinFromWelcome", fmt.Errorf("joiner identity not present in welcome's member list"))
	}

	tree := NewRatchetTree()
	for i, m := range welcome.Members {
		placeholderSecret := make([]byte, 32)
		tree.SetLeaf(LeafIndex(i), m, placeholderSecret)
	}

	g := &Group{
		id:                      welcome.GroupID,
		status:                  StatusActive,
		epoch:                   welcome.Epoch,
		tree:                    tree,
		ownLeaf:                 welcome.JoinerLeaf,
		identPub:                joinerIdentPub,
		ownHPKEPriv:             joinerInit.Private(),
		signer:                  s,
		schedule:                schedule,
		history:                 newEpochRing(epochRetentionSize),
		confirmedTranscriptHash: append([]byte(nil), welcome.ConfirmedTranscriptHash...),
		interimTranscriptHash:   append([]byte(nil), welcome.InterimTranscriptHash...),
		sendGeneration:          make(map[LeafIndex]uint32),
		seenGenerations:         make(map[LeafIndex]map[uint32]bool),
		lookaheadWindow:         defaultLookaheadWindow,
	}
	for i := range welcome.Members {
		g.sendGeneration[LeafIndex(i)] = 0
		g.seenGenerations[LeafIndex(i)] = make(map[uint32]bool)
	}
	g.history.put(welcome.Epoch, schedule)

	log.Debugf("mlsgroup: joined group %s at epoch %d as leaf %d", welcome.GroupID, welcome.Epoch, welcome.JoinerLeaf)
	return g, nil
}

func bytes32Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
