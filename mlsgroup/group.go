package mlsgroup

import (
	"bytes"
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/spacepanda/core/identity"
)

// GroupStatus is the group's coarse lifecycle state: Uninitialized ->
// Active(epoch) -> ... -> Terminated.
type GroupStatus int

const (
	StatusUninitialized GroupStatus = iota
	StatusActive
	StatusTerminated
)

func (s GroupStatus) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusTerminated:
		return "Terminated"
	default:
		return "Uninitialized"
	}
}

// signer is anything that can sign on behalf of the local member: both
// identity.IdentityKey and identity.DeviceKey satisfy it.
type signer interface {
	Sign(msg []byte) []byte
}

// CommitMessage carries a batch of resolved proposals, the sender's
// UpdatePath, the new confirmed transcript hash, and a confirmation tag
// proving knowledge of the new epoch's confirmation_key.
type CommitMessage struct {
	GroupID                 identity.GroupId
	Epoch                   uint64 // the epoch this commit transitions INTO
	SenderLeaf              LeafIndex
	Proposals               []*Proposal
	ConfirmedTranscriptHash []byte
	ConfirmationTag         []byte
	Signature               []byte // over everything above except Signature itself

	// EncryptedPathSecrets delivers commit_secret to every remaining
	// member other than the committer, each HPKE-sealed to that member's
	// current leaf HPKE public key — per-member sealing rather than a full
	// copath resolution.
	EncryptedPathSecrets map[LeafIndex]*sealedEnvelope
}

func (c *CommitMessage) signingBytes() []byte {
	var buf bytes.Buffer
	buf.Write(c.GroupID[:])
	var epochBuf [8]byte
	binary.BigEndian.PutUint64(epochBuf[:], c.Epoch)
	buf.Write(epochBuf[:])
	var leafBuf [4]byte
	binary.BigEndian.PutUint32(leafBuf[:], uint32(c.SenderLeaf))
	buf.Write(leafBuf[:])
	for _, p := range c.Proposals {
		ref := p.Ref()
		buf.Write(ref[:])
	}
	buf.Write(c.ConfirmedTranscriptHash)
	buf.Write(c.ConfirmationTag)
	return buf.Bytes()
}

// WelcomeMessage lets a newly added member bootstrap group state without
// replaying history. GroupSecrets is HPKE-sealed to the joiner's
// published init key.
type WelcomeMessage struct {
	GroupID                 identity.GroupId
	Epoch                   uint64
	JoinerLeaf              LeafIndex
	Members                 []*LeafNode
	ConfirmedTranscriptHash []byte
	InterimTranscriptHash   []byte
	sealedSecret            *sealedEnvelope
}

// Group is one MLS-style secure group's live state: the ratchet tree,
// current epoch's key schedule, transcript hash chain, and a bounded
// window of retired epoch schedules kept for late-arriving messages.
type Group struct {
	mu sync.RWMutex

	id     identity.GroupId
	status GroupStatus
	epoch  uint64

	tree        *RatchetTree
	ownLeaf     LeafIndex
	identPub    ed25519.PublicKey
	ownHPKEPriv []byte
	signer      signer

	schedule *keySchedule
	history  *epochRing

	confirmedTranscriptHash []byte
	interimTranscriptHash   []byte

	pending []*Proposal

	// generation tracks the next send generation per sender leaf, for
	// message-key ratcheting and replay/duplicate detection.
	sendGeneration  map[LeafIndex]uint32
	seenGenerations map[LeafIndex]map[uint32]bool
	lookaheadWindow uint32
}

const defaultLookaheadWindow = 1024

// epochRetentionSize bounds how many retired epoch schedules are kept for
// decrypting messages from a slightly-behind peer. The ring enforces only
// this count bound; retained schedules are not pruned by age.
const epochRetentionSize = 8

// epochRing is a small fixed-capacity ring of retired key schedules keyed
// by epoch number.
type epochRing struct {
	capacity  int
	schedules map[uint64]*keySchedule
	order     []uint64
}

func newEpochRing(capacity int) *epochRing {
	return &epochRing{capacity: capacity, schedules: make(map[uint64]*keySchedule)}
}

func (r *epochRing) put(epoch uint64, ks *keySchedule) {
	if _, exists := r.schedules[epoch]; exists {
		r.schedules[epoch] = ks
		return
	}
	r.schedules[epoch] = ks
	r.order = append(r.order, epoch)
	for len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.schedules, oldest)
	}
}

func (r *epochRing) get(epoch uint64) (*keySchedule, bool) {
	ks, ok := r.schedules[epoch]
	return ks, ok
}

// Create founds a new group with the caller as its sole member at leaf 0.
// signer authenticates subsequent commits sent by this member.
func Create(groupID identity.GroupId, founder *identity.KeyPackage, founderInit *identity.InitKey, s signer) (*Group, error) {
	if !founder.Verify() {
		return nil, errSignatureInvalid("mlsgroup.Create", nil)
	}
	if !bytes.Equal(founderInit.Pub, founder.HPKEPub) {
		return nil, errInvariantViolation("mlsgroup.Create", fmt.Errorf("init key does not match key package HPKE public key"))
	}
	founderSecret := make([]byte, 32)
	if _, err := crand.Read(founderSecret); err != nil {
		return nil, fmt.Errorf("mlsgroup: generate founder secret: %w", err)
	}
	ks, err := deriveEpoch0(founderSecret)
	if err != nil {
		return nil, err
	}

	tree := NewRatchetTree()
	leafSecret := make([]byte, 32)
	if _, err := crand.Read(leafSecret); err != nil {
		return nil, fmt.Errorf("mlsgroup: generate leaf secret: %w", err)
	}
	tree.SetLeaf(0, &LeafNode{
		IdentityPub: founder.IdentityPub,
		HPKEPub:     founder.HPKEPub,
		Credential:  founder.Credential,
		Signature:   founder.Signature,
	}, leafSecret)

	g := &Group{
		id:                      groupID,
		status:                  StatusActive,
		epoch:                   0,
		tree:                    tree,
		ownLeaf:                 0,
		identPub:                founder.IdentityPub,
		ownHPKEPriv:             founderInit.Private(),
		signer:                  s,
		schedule:                ks,
		history:                 newEpochRing(epochRetentionSize),
		confirmedTranscriptHash: sha256.New().Sum(nil),
		sendGeneration:          make(map[LeafIndex]uint32),
		seenGenerations:         make(map[LeafIndex]map[uint32]bool),
		lookaheadWindow:         defaultLookaheadWindow,
	}
	g.sendGeneration[0] = 0
	g.seenGenerations[0] = make(map[uint32]bool)
	g.history.put(0, ks)
	log.Debugf("mlsgroup: created group %s at epoch 0 with founder leaf 0", groupID)
	return g, nil
}

// Epoch returns the group's current epoch number.
func (g *Group) Epoch() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.epoch
}

// Status returns the group's lifecycle status.
func (g *Group) Status() GroupStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// MemberCount returns the number of currently occupied leaves.
func (g *Group) MemberCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tree.MemberCount()
}

// OwnLeafIndex returns the caller's own leaf position in the tree.
func (g *Group) OwnLeafIndex() LeafIndex {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ownLeaf
}

// ID returns the group's identifier.
func (g *Group) ID() identity.GroupId {
	return g.id
}

// ExportEpochSecret derives an application-specific secret from the
// current epoch's exporter_secret, generalizing MLS's "exporter" concept
// to this implementation's label/context scheme.
func (g *Group) ExportEpochSecret(label string, context []byte, length int) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r := newExporter(g.schedule.exporterSecret, label, context)
	out := make([]byte, length)
	if _, err := r.Read(out); err != nil {
		return nil, fmt.Errorf("mlsgroup: export epoch secret: %w", err)
	}
	return out, nil
}

// ProposeAdd validates kp and queues an Add proposal for the next commit.
func (g *Group) ProposeAdd(kp *identity.KeyPackage) (*Proposal, error) {
	p, err := NewAddProposal(kp)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusActive {
		return nil, errInvariantViolation("mlsgroup.ProposeAdd", fmt.Errorf("group is %s", g.status))
	}
	g.pending = append(g.pending, p)
	return p, nil
}

// ProposeUpdate queues an Update proposal replacing the caller's own leaf
// material.
func (g *Group) ProposeUpdate(newLeaf *LeafNode) (*Proposal, error) {
	p := NewUpdateProposal(newLeaf)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusActive {
		return nil, errInvariantViolation("mlsgroup.ProposeUpdate", fmt.Errorf("group is %s", g.status))
	}
	g.pending = append(g.pending, p)
	return p, nil
}

// ProposeRemove queues a Remove proposal targeting leafIdx.
func (g *Group) ProposeRemove(leafIdx LeafIndex) (*Proposal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusActive {
		return nil, errInvariantViolation("mlsgroup.ProposeRemove", fmt.Errorf("group is %s", g.status))
	}
	if g.tree.Leaf(leafIdx) == nil {
		return nil, errInvariantViolation("mlsgroup.ProposeRemove", fmt.Errorf("leaf %d already blank", leafIdx))
	}
	p := NewRemoveProposal(leafIdx)
	g.pending = append(g.pending, p)
	return p, nil
}

// Commit resolves every pending proposal, advances the tree and key
// schedule to a new epoch, and returns the CommitMessage to broadcast plus
// one Welcome per Add proposal.
func (g *Group) Commit() (*CommitMessage, []*WelcomeMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusActive {
		return nil, nil, errInvariantViolation("mlsgroup.Commit", fmt.Errorf("group is %s", g.status))
	}
	if len(g.pending) == 0 {
		return nil, nil, errInvariantViolation("mlsgroup.Commit", fmt.Errorf("no pending proposals"))
	}

	proposals := g.pending
	g.pending = nil

	var welcomes []*WelcomeMessage
	var addedLeaves []LeafIndex

	for _, p := range proposals {
		switch p.Type {
		case ProposalRemove:
			g.tree.BlankLeaf(p.RemoveLeaf)
			delete(g.sendGeneration, p.RemoveLeaf)
			delete(g.seenGenerations, p.RemoveLeaf)
		case ProposalUpdate:
			leafSecret := make([]byte, 32)
			if _, err := crand.Read(leafSecret); err != nil {
				return nil, nil, fmt.Errorf("mlsgroup: generate update leaf secret: %w", err)
			}
			g.tree.SetLeaf(g.ownLeaf, p.NewLeaf, leafSecret)
		case ProposalAdd:
			leafIdx := g.tree.FirstFreeLeaf()
			leafSecret := make([]byte, 32)
			if _, err := crand.Read(leafSecret); err != nil {
				return nil, nil, fmt.Errorf("mlsgroup: generate add leaf secret: %w", err)
			}
			g.tree.SetLeaf(leafIdx, &LeafNode{
				IdentityPub: p.KeyPackage.IdentityPub,
				HPKEPub:     p.KeyPackage.HPKEPub,
				Credential:  p.KeyPackage.Credential,
				Signature:   p.KeyPackage.Signature,
			}, leafSecret)
			addedLeaves = append(addedLeaves, leafIdx)
		}
	}

	commitSecret := make([]byte, 32)
	if _, err := crand.Read(commitSecret); err != nil {
		return nil, nil, fmt.Errorf("mlsgroup: generate commit secret: %w", err)
	}
	// The tree's own path secrets still ratchet forward for local forward
	// secrecy bookkeeping; the key schedule's actual input is commitSecret,
	// delivered to every other member below, since only the committer can
	// compute the updated path hashes derived from its prior leaf secret.
	if err := g.tree.UpdatePathSecret(g.ownLeaf, func(prev []byte) []byte {
		h := sha256.New()
		h.Write(prev)
		h.Write(commitSecret)
		return h.Sum(nil)
	}); err != nil {
		return nil, nil, err
	}

	newEpoch := g.epoch + 1
	newSchedule, err := deriveNextEpoch(g.schedule.epochSecret, commitSecret)
	if err != nil {
		return nil, nil, err
	}

	interim := sha256.New()
	interim.Write(g.interimTranscriptHash)
	for _, p := range proposals {
		ref := p.Ref()
		interim.Write(ref[:])
	}
	confirmedHash := interim.Sum(nil)
	tag := confirmationTag(newSchedule.confirmationKey, confirmedHash)

	sealed := make(map[LeafIndex]*sealedEnvelope)
	for i := 0; i < g.tree.LeafCount(); i++ {
		leafIdx := LeafIndex(i)
		if leafIdx == g.ownLeaf {
			continue
		}
		member := g.tree.Leaf(leafIdx)
		if member == nil {
			continue
		}
		env, err := hpkeSeal(member.HPKEPub, commitSecret, leafInfo("commit", leafIdx))
		if err != nil {
			return nil, nil, err
		}
		sealed[leafIdx] = env
	}

	commit := &CommitMessage{
		GroupID:                 g.id,
		Epoch:                   newEpoch,
		SenderLeaf:              g.ownLeaf,
		Proposals:               proposals,
		ConfirmedTranscriptHash: confirmedHash,
		ConfirmationTag:         tag,
		EncryptedPathSecrets:    sealed,
	}
	commit.Signature = g.signer.Sign(commit.signingBytes())

	finalInterim := sha256.New()
	finalInterim.Write(confirmedHash)
	finalInterim.Write(tag)

	g.epoch = newEpoch
	g.schedule = newSchedule
	g.confirmedTranscriptHash = confirmedHash
	g.interimTranscriptHash = finalInterim.Sum(nil)
	g.history.put(newEpoch, newSchedule)
	for _, l := range addedLeaves {
		g.sendGeneration[l] = 0
		g.seenGenerations[l] = make(map[uint32]bool)
	}

	for _, leafIdx := range addedLeaves {
		env, err := hpkeSeal(g.tree.Leaf(leafIdx).HPKEPub, newSchedule.epochSecret, leafInfo("welcome", leafIdx))
		if err != nil {
			return nil, nil, err
		}
		welcomes = append(welcomes, &WelcomeMessage{
			GroupID:                 g.id,
			Epoch:                   newEpoch,
			JoinerLeaf:              leafIdx,
			Members:                 g.tree.Members(),
			ConfirmedTranscriptHash: append([]byte(nil), confirmedHash...),
			InterimTranscriptHash:   append([]byte(nil), g.interimTranscriptHash...),
			sealedSecret:            env,
		})
	}

	log.Debugf("mlsgroup: group %s committed to epoch %d (%d proposals, %d adds)", g.id, newEpoch, len(proposals), len(addedLeaves))
	return commit, welcomes, nil
}

// ValidateCommit checks an incoming commit without mutating group state:
// epoch continuity, sender membership, signature validity, and the
// commit's confirmed transcript hash against the one recomputed from the
// local interim hash and the commit's proposals. The confirmation tag is
// checked by ApplyCommit, once the commit secret has been opened.
func (g *Group) ValidateCommit(commit *CommitMessage) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if commit.GroupID != g.id {
		return errInvariantViolation("mlsgroup.ValidateCommit", fmt.Errorf("commit targets a different group"))
	}
	if commit.Epoch != g.epoch+1 {
		return errEpochMismatch("mlsgroup.ValidateCommit", g.epoch+1, commit.Epoch)
	}
	sender := g.tree.Leaf(commit.SenderLeaf)
	if sender == nil {
		return errInvariantViolation("mlsgroup.ValidateCommit", fmt.Errorf("sender leaf %d is not a member", commit.SenderLeaf))
	}
	if !ed25519.Verify(sender.IdentityPub, commit.signingBytes(), commit.Signature) {
		return errSignatureInvalid("mlsgroup.ValidateCommit", nil)
	}

	interim := sha256.New()
	interim.Write(g.interimTranscriptHash)
	for _, p := range commit.Proposals {
		ref := p.Ref()
		interim.Write(ref[:])
	}
	expectedConfirmed := interim.Sum(nil)
	if !bytes.Equal(expectedConfirmed, commit.ConfirmedTranscriptHash) {
		return errInvariantViolation("mlsgroup.ValidateCommit", fmt.Errorf("transcript hash mismatch"))
	}
	return nil
}

// ApplyCommit validates then atomically applies an incoming commit,
// advancing tree, key schedule, and transcript hash together so the group
// never observes a partially-applied epoch. Every mutation is staged
// against clones of the tree and generation maps; nothing touches g
// itself until the sealed path secret opens and the confirmation tag
// matches, so a failure anywhere in that chain leaves g exactly as it
// was before the call. A commit that removes the local member's own leaf
// is the exception: its staged tree is swapped in and the group marked
// Terminated without opening a path secret or checking the tag.
func (g *Group) ApplyCommit(commit *CommitMessage) error {
	if err := g.ValidateCommit(commit); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	stagedTree := TreeFromSnapshot(g.tree.Export())
	stagedSendGen := make(map[LeafIndex]uint32, len(g.sendGeneration))
	for k, v := range g.sendGeneration {
		stagedSendGen[k] = v
	}
	stagedSeenGen := make(map[LeafIndex]map[uint32]bool, len(g.seenGenerations))
	for k, v := range g.seenGenerations {
		seen := make(map[uint32]bool, len(v))
		for gen, ok := range v {
			seen[gen] = ok
		}
		stagedSeenGen[k] = seen
	}
	terminated := false

	for _, p := range commit.Proposals {
		switch p.Type {
		case ProposalRemove:
			stagedTree.BlankLeaf(p.RemoveLeaf)
			delete(stagedSendGen, p.RemoveLeaf)
			delete(stagedSeenGen, p.RemoveLeaf)
			if p.RemoveLeaf == g.ownLeaf {
				terminated = true
			}
		case ProposalUpdate:
			leafSecret := make([]byte, 32)
			if _, err := crand.Read(leafSecret); err != nil {
				return fmt.Errorf("mlsgroup: generate applied-update leaf secret: %w", err)
			}
			stagedTree.SetLeaf(commit.SenderLeaf, p.NewLeaf, leafSecret)
		case ProposalAdd:
			leafIdx := stagedTree.FirstFreeLeaf()
			leafSecret := make([]byte, 32)
			if _, err := crand.Read(leafSecret); err != nil {
				return fmt.Errorf("mlsgroup: generate applied-add leaf secret: %w", err)
			}
			stagedTree.SetLeaf(leafIdx, &LeafNode{
				IdentityPub: p.KeyPackage.IdentityPub,
				HPKEPub:     p.KeyPackage.HPKEPub,
				Credential:  p.KeyPackage.Credential,
				Signature:   p.KeyPackage.Signature,
			}, leafSecret)
			stagedSendGen[leafIdx] = 0
			stagedSeenGen[leafIdx] = make(map[uint32]bool)
		}
	}

	if terminated {
		g.tree = stagedTree
		g.sendGeneration = stagedSendGen
		g.seenGenerations = stagedSeenGen
		g.status = StatusTerminated
		log.Debugf("mlsgroup: group %s terminated for local member at commit epoch %d", g.id, commit.Epoch)
		return nil
	}

	sealedSecret, ok := commit.EncryptedPathSecrets[g.ownLeaf]
	if !ok {
		return errInvariantViolation("mlsgroup.ApplyCommit", fmt.Errorf("commit carries no sealed path secret for leaf %d", g.ownLeaf))
	}
	commitSecret, err := hpkeOpen(g.ownHPKEPriv, sealedSecret, leafInfo("commit", g.ownLeaf))
	if err != nil {
		return err
	}
	newSchedule, err := deriveNextEpoch(g.schedule.epochSecret, commitSecret)
	if err != nil {
		return err
	}
	expectedTag := confirmationTag(newSchedule.confirmationKey, commit.ConfirmedTranscriptHash)
	if !bytes.Equal(expectedTag, commit.ConfirmationTag) {
		return errInvariantViolation("mlsgroup.ApplyCommit", fmt.Errorf("confirmation tag mismatch"))
	}

	finalInterim := sha256.New()
	finalInterim.Write(commit.ConfirmedTranscriptHash)
	finalInterim.Write(commit.ConfirmationTag)

	g.tree = stagedTree
	g.sendGeneration = stagedSendGen
	g.seenGenerations = stagedSeenGen
	g.epoch = commit.Epoch
	g.schedule = newSchedule
	g.confirmedTranscriptHash = commit.ConfirmedTranscriptHash
	g.interimTranscriptHash = finalInterim.Sum(nil)
	g.history.put(commit.Epoch, newSchedule)

	log.Debugf("mlsgroup: group %s applied commit to epoch %d", g.id, commit.Epoch)
	return nil
}
