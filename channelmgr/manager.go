package channelmgr

import (
	"context"
	"crypto/ed25519"
	crand "crypto/rand"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/spacepanda/core/crdt"
	"github.com/spacepanda/core/identity"
	"github.com/spacepanda/core/mlsgroup"
)

// signer is anything that can sign on behalf of the local member;
// identity.IdentityKey and identity.DeviceKey both satisfy it (mirrors
// mlsgroup's own signer interface, since ChannelManager signs both
// invites and passes the same signer through to Create/JoinFromWelcome).
type signer interface {
	Sign(msg []byte) []byte
}

// MessageHandler is invoked for every successfully decrypted application
// message. It runs on the channel's own mailbox goroutine, so it must
// not block.
type MessageHandler func(channelID identity.ChannelId, sender mlsgroup.LeafIndex, plaintext []byte)

// channelActor owns one channel's secure group and CRDT state, serialized
// through a single mailbox goroutine so every operation against a channel
// is a single logical mutator: envelopes for a channel are serialized
// per-channel, while cross-channel operations proceed in parallel.
type channelActor struct {
	id      identity.ChannelId
	channel *Channel
	group   *mlsgroup.Group
	mailbox chan func()
	cancel  context.CancelFunc
}

func newChannelActor(id identity.ChannelId, channel *Channel, group *mlsgroup.Group, capacity int) *channelActor {
	ctx, cancel := context.WithCancel(context.Background())
	a := &channelActor{id: id, channel: channel, group: group, mailbox: make(chan func(), capacity), cancel: cancel}
	go a.run(ctx)
	return a
}

func (a *channelActor) run(ctx context.Context) {
	for {
		select {
		case job := <-a.mailbox:
			job()
		case <-ctx.Done():
			return
		}
	}
}

// do submits job to the actor's mailbox and blocks for its result, so
// callers see ChannelManager's public methods as synchronous even though
// the actual work runs on the channel's dedicated goroutine.
func (a *channelActor) do(ctx context.Context, job func() (any, error)) (any, error) {
	type result struct {
		val any
		err error
	}
	resultCh := make(chan result, 1)
	wrapped := func() {
		val, err := job()
		resultCh <- result{val, err}
	}
	select {
	case a.mailbox <- wrapped:
	case <-ctx.Done():
		return nil, errTimeout("channelmgr.channelActor.do", ctx.Err())
	}
	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-ctx.Done():
		return nil, errTimeout("channelmgr.channelActor.do", ctx.Err())
	}
}

func (a *channelActor) close() { a.cancel() }

// ChannelManager is the top-level orchestrator: it owns every
// locally-joined channel's actor, the shared Store and Transport, and a
// keystore-style RWMutex guarding its own registry, shared behind a
// read/write lock.
type ChannelManager struct {
	mu     sync.RWMutex
	actors map[identity.ChannelId]*channelActor

	spacesMu sync.RWMutex
	spaces   map[identity.SpaceId]*Space

	invitesMu   sync.Mutex
	usedInvites map[[16]byte]struct{}

	selfUser   identity.UserId
	selfIdent  ed25519.PublicKey
	signer     signer
	transport  Transport
	store      Store
	metrics    *Metrics
	onMessage  MessageHandler
	onMsgMu    sync.RWMutex

	mailboxCapacity int
	inviteTTL       time.Duration
}

// NewChannelManager builds a ChannelManager for the local user.
func NewChannelManager(selfUser identity.UserId, selfIdent ed25519.PublicKey, s signer, transport Transport, store Store, metrics *Metrics, mailboxCapacity int, inviteTTL time.Duration) *ChannelManager {
	if mailboxCapacity <= 0 {
		mailboxCapacity = 64
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	return &ChannelManager{
		actors:          make(map[identity.ChannelId]*channelActor),
		spaces:          make(map[identity.SpaceId]*Space),
		usedInvites:     make(map[[16]byte]struct{}),
		selfUser:        selfUser,
		selfIdent:       selfIdent,
		signer:          s,
		transport:       transport,
		store:           store,
		metrics:         metrics,
		mailboxCapacity: mailboxCapacity,
		inviteTTL:       inviteTTL,
	}
}

// SetMessageHandler installs the callback invoked for every decrypted
// application message.
func (m *ChannelManager) SetMessageHandler(h MessageHandler) {
	m.onMsgMu.Lock()
	defer m.onMsgMu.Unlock()
	m.onMessage = h
}

func (m *ChannelManager) handler() MessageHandler {
	m.onMsgMu.RLock()
	defer m.onMsgMu.RUnlock()
	return m.onMessage
}

func (m *ChannelManager) lookup(id identity.ChannelId) (*channelActor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actors[id]
	if !ok {
		return nil, errNotFound("channelmgr.ChannelManager", "channel", id.String())
	}
	return a, nil
}

func (m *ChannelManager) register(a *channelActor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[a.id] = a
}

func randomChannelID() (identity.ChannelId, error) {
	var id identity.ChannelId
	if _, err := crand.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

// CreateChannel founds a new channel: a fresh CRDT Channel plus a
// founding secure group at epoch 0, persisted and subscribed to
// transport.
func (m *ChannelManager) CreateChannel(ctx context.Context, name string, typ ChannelType, founderKP *identity.KeyPackage, founderInit *identity.InitKey, now int64) (identity.ChannelId, error) {
	id, err := randomChannelID()
	if err != nil {
		return id, errInvariantViolation("channelmgr.CreateChannel", err)
	}

	group, err := mlsgroup.Create(identity.GroupId(id), founderKP, founderInit, m.signer)
	if err != nil {
		return id, err
	}
	channel := NewChannel(id, typ, name, m.selfUser, now)
	channel.GroupStateRef = id.String()

	if err := m.persist(channel, group); err != nil {
		return id, err
	}

	actor := newChannelActor(id, channel, group, m.mailboxCapacity)
	m.register(actor)

	if _, err := m.transport.Subscribe(ctx, id.String()); err != nil {
		log.Warnf("channelmgr: subscribe to channel %s failed: %v", id, err)
	}

	log.Debugf("channelmgr: created channel %s (%s)", id, name)
	return id, nil
}

func (m *ChannelManager) persist(channel *Channel, group *mlsgroup.Group) error {
	if err := m.store.SaveChannel(channel); err != nil {
		return err
	}
	blob, err := group.ToBytes()
	if err != nil {
		return err
	}
	return m.store.SaveGroupBlob(channel.ID, blob)
}

// CreateInvite builds an Add proposal for joinerKP, commits it, and
// returns an InviteToken bundling the resulting Welcome plus a signed
// peer-hint.
func (m *ChannelManager) CreateInvite(ctx context.Context, channelID identity.ChannelId, joinerKP *identity.KeyPackage, now int64) (*InviteToken, error) {
	actor, err := m.lookup(channelID)
	if err != nil {
		return nil, err
	}

	val, err := actor.do(ctx, func() (any, error) {
		if _, err := actor.group.ProposeAdd(joinerKP); err != nil {
			return nil, err
		}
		commit, welcomes, err := actor.group.Commit()
		if err != nil {
			return nil, err
		}
		if len(welcomes) != 1 {
			return nil, errInvariantViolation("channelmgr.CreateInvite", fmt.Errorf("expected exactly one welcome, got %d", len(welcomes)))
		}

		joinerUser := identity.DeriveUserID(joinerKP.IdentityPub)
		actor.channel.AddMember(joinerUser, crdt.AddID{NodeID: joinerUser.String(), Seq: actor.group.Epoch()})

		if err := m.persist(actor.channel, actor.group); err != nil {
			return nil, err
		}
		if err := m.broadcastCommit(ctx, channelID, commit); err != nil {
			log.Warnf("channelmgr: broadcast commit for channel %s failed: %v", channelID, err)
		}

		return welcomes[0], nil
	})
	if err != nil {
		return nil, err
	}
	welcome := val.(*mlsgroup.WelcomeMessage)

	return NewInviteToken(channelID, welcome, m.transport.Self(), m.selfIdent, m.signer, now, m.inviteTTL)
}

// JoinChannel redeems invite: validates it, processes the Welcome,
// initializes local group and channel state, persists, and subscribes to
// transport.
func (m *ChannelManager) JoinChannel(ctx context.Context, invite *InviteToken, joinerInit *identity.InitKey, joinerIdentPub ed25519.PublicKey, now int64) (identity.ChannelId, error) {
	if err := invite.Verify(now); err != nil {
		return invite.ChannelID, err
	}
	if err := m.consumeInvite(invite.Nonce); err != nil {
		return invite.ChannelID, err
	}

	welcome, err := invite.Welcome()
	if err != nil {
		return invite.ChannelID, err
	}
	group, err := mlsgroup.JoinFromWelcome(welcome, joinerInit, joinerIdentPub, m.signer)
	if err != nil {
		return invite.ChannelID, err
	}

	channel := NewChannel(invite.ChannelID, ChannelText, "", m.selfUser, now)
	channel.GroupStateRef = invite.ChannelID.String()
	for _, member := range welcome.Members {
		user := identity.DeriveUserID(member.IdentityPub)
		channel.AddMember(user, crdt.AddID{NodeID: user.String(), Seq: welcome.Epoch})
	}

	if err := m.persist(channel, group); err != nil {
		return invite.ChannelID, err
	}

	actor := newChannelActor(invite.ChannelID, channel, group, m.mailboxCapacity)
	m.register(actor)

	if _, err := m.transport.Subscribe(ctx, invite.ChannelID.String()); err != nil {
		log.Warnf("channelmgr: subscribe to channel %s failed: %v", invite.ChannelID, err)
	}

	log.Debugf("channelmgr: joined channel %s at epoch %d", invite.ChannelID, group.Epoch())
	return invite.ChannelID, nil
}

func (m *ChannelManager) consumeInvite(nonce [16]byte) error {
	m.invitesMu.Lock()
	defer m.invitesMu.Unlock()
	if _, used := m.usedInvites[nonce]; used {
		return errPermissionDenied("channelmgr.JoinChannel", fmt.Errorf("invite already used"))
	}
	m.usedInvites[nonce] = struct{}{}
	return nil
}

// SendMessage encrypts plaintext for channelID's current epoch, seals the
// sender, and publishes it to the channel's transport topic.
func (m *ChannelManager) SendMessage(ctx context.Context, channelID identity.ChannelId, plaintext []byte) (identity.MessageId, error) {
	actor, err := m.lookup(channelID)
	if err != nil {
		return identity.MessageId{}, err
	}

	val, err := actor.do(ctx, func() (any, error) {
		appMsg, err := actor.group.EncryptApplication(plaintext)
		if err != nil {
			return nil, err
		}
		sealed, err := actor.group.SealSender(appMsg)
		if err != nil {
			return nil, err
		}
		payload, err := sealed.MarshalBinary()
		if err != nil {
			return nil, err
		}
		env := &mlsgroup.MlsEnvelope{
			GroupID: identity.GroupId(channelID),
			Epoch:   sealed.Epoch,
			MsgType: mlsgroup.MsgApplication,
			Payload: payload,
		}
		copy(env.Signature[:], m.signer.Sign(env.SigningBytes()))

		if err := m.transport.Publish(ctx, channelID.String(), mlsgroup.EncodeMlsEnvelope(env)); err != nil {
			return nil, errTransportFailed("channelmgr.SendMessage", err)
		}
		m.metrics.EnvelopesOut.WithLabelValues("application").Inc()

		return identity.RandomMessageID(), nil
	})
	if err != nil {
		return identity.MessageId{}, err
	}
	return val.(identity.MessageId), nil
}

// broadcastCommit signs and publishes commit to channelID's topic so
// every other current member applies the same epoch transition.
func (m *ChannelManager) broadcastCommit(ctx context.Context, channelID identity.ChannelId, commit *mlsgroup.CommitMessage) error {
	payload, err := commit.MarshalBinary()
	if err != nil {
		return err
	}
	env := &mlsgroup.MlsEnvelope{
		GroupID: identity.GroupId(channelID),
		Epoch:   commit.Epoch,
		MsgType: mlsgroup.MsgCommit,
		Payload: payload,
	}
	sig := m.signer.Sign(env.SigningBytes())
	copy(env.Signature[:], sig)
	if err := m.transport.Publish(ctx, channelID.String(), mlsgroup.EncodeMlsEnvelope(env)); err != nil {
		return errTransportFailed("channelmgr.broadcastCommit", err)
	}
	m.metrics.EnvelopesOut.WithLabelValues("commit").Inc()
	return nil
}

// Receive dispatches one inbound wire envelope by msg_type: Application
// messages are decrypted and surfaced, Proposals are enqueued, and
// Commits are validated, applied, persisted, and turned into a
// membership delta.
func (m *ChannelManager) Receive(ctx context.Context, raw []byte) error {
	env, err := mlsgroup.DecodeMlsEnvelope(raw)
	if err != nil {
		return err
	}
	channelID := identity.ChannelId(env.GroupID)
	actor, err := m.lookup(channelID)
	if err != nil {
		return err
	}

	_, err = actor.do(ctx, func() (any, error) {
		switch env.MsgType {
		case mlsgroup.MsgApplication:
			m.metrics.EnvelopesIn.WithLabelValues("application").Inc()
			var sealed mlsgroup.SealedMessage
			if err := sealed.UnmarshalBinary(env.Payload); err != nil {
				return nil, err
			}
			appMsg, err := actor.group.UnsealSender(&sealed)
			if err != nil {
				m.metrics.DecryptFailures.Inc()
				return nil, err
			}
			plain, err := actor.group.DecryptApplication(appMsg)
			if err != nil {
				m.metrics.DecryptFailures.Inc()
				return nil, err
			}
			if h := m.handler(); h != nil {
				h(channelID, appMsg.SenderLeaf, plain)
			}
			return nil, nil

		case mlsgroup.MsgProposal:
			m.metrics.EnvelopesIn.WithLabelValues("proposal").Inc()
			var p mlsgroup.Proposal
			if err := p.UnmarshalBinary(env.Payload); err != nil {
				return nil, err
			}
			return nil, actor.group.QueueProposal(&p)

		case mlsgroup.MsgCommit:
			m.metrics.EnvelopesIn.WithLabelValues("commit").Inc()
			start := time.Now()
			var commit mlsgroup.CommitMessage
			if err := commit.UnmarshalBinary(env.Payload); err != nil {
				return nil, err
			}
			removed := make(map[mlsgroup.LeafIndex]identity.UserId)
			for _, p := range commit.Proposals {
				if p.Type == mlsgroup.ProposalRemove {
					if leaf := actor.group.LeafAt(p.RemoveLeaf); leaf != nil {
						removed[p.RemoveLeaf] = identity.DeriveUserID(leaf.IdentityPub)
					}
				}
			}
			if err := actor.group.ApplyCommit(&commit); err != nil {
				return nil, err
			}
			m.metrics.CommitLatency.Observe(time.Since(start).Seconds())
			applyMembershipDelta(actor.channel, &commit, removed)
			return nil, m.persist(actor.channel, actor.group)

		case mlsgroup.MsgWelcome:
			log.Warnf("channelmgr: unexpected Welcome received over channel %s transport; Welcome delivery is direct-peer only", channelID)
			return nil, nil

		default:
			return nil, errSerializationInvalid("channelmgr.Receive", fmt.Errorf("unknown msg_type %d", env.MsgType))
		}
	})
	return err
}

// applyMembershipDelta mirrors a successfully applied commit's Add/Remove
// proposals into the channel's membership CRDT.
func applyMembershipDelta(channel *Channel, commit *mlsgroup.CommitMessage, removed map[mlsgroup.LeafIndex]identity.UserId) {
	for _, p := range commit.Proposals {
		switch p.Type {
		case mlsgroup.ProposalAdd:
			user := identity.DeriveUserID(p.KeyPackage.IdentityPub)
			channel.AddMember(user, crdt.AddID{NodeID: user.String(), Seq: commit.Epoch})
		case mlsgroup.ProposalRemove:
			if user, ok := removed[p.RemoveLeaf]; ok {
				channel.RemoveMember(user)
			}
		}
	}
}

// RemoveMember issues a Remove proposal for target and commits it
// immediately, replicating the resulting membership change into the
// channel CRDT.
func (m *ChannelManager) RemoveMember(ctx context.Context, channelID identity.ChannelId, target identity.UserId, targetIdentityPub []byte) error {
	actor, err := m.lookup(channelID)
	if err != nil {
		return err
	}

	_, err = actor.do(ctx, func() (any, error) {
		leaf, ok := actor.group.FindLeaf(targetIdentityPub)
		if !ok {
			return nil, errNotFound("channelmgr.RemoveMember", "member", target.String())
		}
		if _, err := actor.group.ProposeRemove(leaf); err != nil {
			return nil, err
		}
		commit, _, err := actor.group.Commit()
		if err != nil {
			return nil, err
		}
		actor.channel.RemoveMember(target)
		if err := m.persist(actor.channel, actor.group); err != nil {
			return nil, err
		}
		if err := m.broadcastCommit(ctx, channelID, commit); err != nil {
			log.Warnf("channelmgr: broadcast commit for channel %s failed: %v", channelID, err)
		}
		return nil, nil
	})
	return err
}

// ListMembers returns the current membership of channelID as observed by
// the local replica's CRDT state.
func (m *ChannelManager) ListMembers(ctx context.Context, channelID identity.ChannelId) ([]identity.UserId, error) {
	actor, err := m.lookup(channelID)
	if err != nil {
		return nil, err
	}
	val, err := actor.do(ctx, func() (any, error) {
		return actor.channel.Members.Elements(), nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]identity.UserId), nil
}

func randomSpaceID() (identity.SpaceId, error) {
	var id identity.SpaceId
	if _, err := crand.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

func (m *ChannelManager) lookupSpace(id identity.SpaceId) (*Space, error) {
	m.spacesMu.RLock()
	defer m.spacesMu.RUnlock()
	sp, ok := m.spaces[id]
	if !ok {
		return nil, errNotFound("channelmgr.ChannelManager", "space", id.String())
	}
	return sp, nil
}

// CreateSpace founds a new Space CRDT with the local user as its sole
// Owner, and persists it as part of the replicated Space/Channel
// metadata.
func (m *ChannelManager) CreateSpace(name string, now int64) (identity.SpaceId, error) {
	id, err := randomSpaceID()
	if err != nil {
		return id, errInvariantViolation("channelmgr.CreateSpace", err)
	}
	sp := NewSpace(id, name, m.selfUser, now)
	if err := m.store.SaveSpace(sp); err != nil {
		return id, err
	}

	m.spacesMu.Lock()
	m.spaces[id] = sp
	m.spacesMu.Unlock()
	return id, nil
}

// AddChannelToSpace records channelID as belonging to spaceID.
func (m *ChannelManager) AddChannelToSpace(spaceID identity.SpaceId, channelID identity.ChannelId, now int64) error {
	sp, err := m.lookupSpace(spaceID)
	if err != nil {
		return err
	}
	m.spacesMu.Lock()
	defer m.spacesMu.Unlock()
	sp.AddChannel(channelID, crdt.AddID{NodeID: m.selfUser.String(), Seq: uint64(now)})
	return m.store.SaveSpace(sp)
}

// SpaceRoleOf returns user's current role within spaceID.
func (m *ChannelManager) SpaceRoleOf(spaceID identity.SpaceId, user identity.UserId) (SpaceRole, bool, error) {
	sp, err := m.lookupSpace(spaceID)
	if err != nil {
		return RoleMember, false, err
	}
	m.spacesMu.RLock()
	defer m.spacesMu.RUnlock()
	role, ok := sp.RoleOf(user)
	return role, ok, nil
}

// setRole assigns target's role within spaceID, checking that the caller
// (the local user) currently holds at least Admin. Unlike remove_member,
// promote/demote never touch the secure group: SpaceRole is Space-level
// CRDT metadata with no cryptographic membership meaning, so it only
// needs an LWW write, not a proposal+commit.
func (m *ChannelManager) setRole(spaceID identity.SpaceId, target identity.UserId, role SpaceRole, now int64) error {
	sp, err := m.lookupSpace(spaceID)
	if err != nil {
		return err
	}
	m.spacesMu.Lock()
	defer m.spacesMu.Unlock()

	actorRole, ok := sp.RoleOf(m.selfUser)
	if !ok || actorRole == RoleMember {
		return errPermissionDenied("channelmgr.setRole", fmt.Errorf("user %s lacks admin rights in space %s", m.selfUser, spaceID))
	}
	sp.SetRole(target, role, now, m.selfUser.String(), crdt.AddID{NodeID: m.selfUser.String(), Seq: uint64(now)})
	return m.store.SaveSpace(sp)
}

// Promote raises target to role within spaceID, replicating the
// resulting CRDT membership change.
func (m *ChannelManager) Promote(spaceID identity.SpaceId, target identity.UserId, role SpaceRole, now int64) error {
	return m.setRole(spaceID, target, role, now)
}

// Demote lowers target to role within spaceID.
func (m *ChannelManager) Demote(spaceID identity.SpaceId, target identity.UserId, role SpaceRole, now int64) error {
	return m.setRole(spaceID, target, role, now)
}

// Close tears down every channel actor this manager owns.
func (m *ChannelManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actors {
		a.close()
	}
}
