package channelmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/identity"
	"github.com/spacepanda/core/mlsgroup"
)

// memoryTransport is an in-process Transport double: Publish fans out to
// every Subscribe'd channel for the same topic, and Send is recorded for
// assertions rather than actually dialing a peer. A single instance can be
// shared between several ChannelManagers to simulate a connected network.
type memoryTransport struct {
	mu   sync.Mutex
	self string
	subs map[string][]chan []byte
	sent []sentMessage
}

type sentMessage struct {
	peer string
	data []byte
}

func newMemoryTransport(self string) *memoryTransport {
	return &memoryTransport{self: self, subs: make(map[string][]chan []byte)}
}

func (t *memoryTransport) Publish(ctx context.Context, topic string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs[topic] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

func (t *memoryTransport) Send(ctx context.Context, peer string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentMessage{peer: peer, data: data})
	return nil
}

func (t *memoryTransport) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan []byte, 16)
	t.subs[topic] = append(t.subs[topic], ch)
	return ch, nil
}

func (t *memoryTransport) Self() string { return t.self }

// memoryStore is an in-process Store double backed by plain maps.
type memoryStore struct {
	mu       sync.Mutex
	channels map[identity.ChannelId]*Channel
	blobs    map[identity.ChannelId][]byte
	spaces   map[identity.SpaceId]*Space
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		channels: make(map[identity.ChannelId]*Channel),
		blobs:    make(map[identity.ChannelId][]byte),
		spaces:   make(map[identity.SpaceId]*Space),
	}
}

func (s *memoryStore) SaveChannel(ch *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
	return nil
}

func (s *memoryStore) LoadChannel(id identity.ChannelId) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, errNotFound("memoryStore.LoadChannel", "channel", id.String())
	}
	return ch, nil
}

func (s *memoryStore) DeleteChannel(id identity.ChannelId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, id)
	return nil
}

func (s *memoryStore) SaveGroupBlob(channelID identity.ChannelId, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[channelID] = blob
	return nil
}

func (s *memoryStore) LoadGroupBlob(channelID identity.ChannelId) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[channelID]
	if !ok {
		return nil, errNotFound("memoryStore.LoadGroupBlob", "group", channelID.String())
	}
	return b, nil
}

func (s *memoryStore) DeleteGroupBlob(channelID identity.ChannelId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, channelID)
	return nil
}

func (s *memoryStore) SaveSpace(sp *Space) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spaces[sp.ID] = sp
	return nil
}

func (s *memoryStore) LoadSpace(id identity.SpaceId) (*Space, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spaces[id]
	if !ok {
		return nil, errNotFound("memoryStore.LoadSpace", "space", id.String())
	}
	return sp, nil
}

func (s *memoryStore) DeleteSpace(id identity.SpaceId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spaces, id)
	return nil
}

type testPeer struct {
	user      identity.UserId
	ident     *identity.IdentityKey
	init      *identity.InitKey
	kp        *identity.KeyPackage
	transport *memoryTransport
	mgr       *ChannelManager
}

func newTestPeer(t *testing.T, self string, transport *memoryTransport) *testPeer {
	t.Helper()
	ik, err := identity.NewIdentityKey()
	require.NoError(t, err)
	init, err := identity.NewInitKey()
	require.NoError(t, err)
	kp := identity.BuildKeyPackage(ik, init.Pub, []byte(self+"@spacepanda"))

	if transport == nil {
		transport = newMemoryTransport(self)
	}
	store := newMemoryStore()
	mgr := NewChannelManager(ik.UserID, ik.Public, ik, transport, store, NewNoopMetrics(), 16, time.Hour)

	return &testPeer{
		user:      ik.UserID,
		ident:     ik,
		init:      init,
		kp:        kp,
		transport: transport,
		mgr:       mgr,
	}
}

func TestChannelManagerCreateChannel(t *testing.T) {
	alice := newTestPeer(t, "alice", nil)

	channelID, err := alice.mgr.CreateChannel(context.Background(), "general", ChannelText, alice.kp, alice.init, 1000)
	require.NoError(t, err)

	actor, err := alice.mgr.lookup(channelID)
	require.NoError(t, err)
	require.True(t, actor.channel.HasMember(alice.user))
	require.Equal(t, uint64(0), actor.group.Epoch())
}

func TestChannelManagerInviteAndJoin(t *testing.T) {
	shared := newMemoryTransport("network")
	alice := newTestPeer(t, "alice", shared)
	bob := newTestPeer(t, "bob", shared)

	channelID, err := alice.mgr.CreateChannel(context.Background(), "general", ChannelText, alice.kp, alice.init, 1000)
	require.NoError(t, err)

	invite, err := alice.mgr.CreateInvite(context.Background(), channelID, bob.kp, 1000)
	require.NoError(t, err)

	encoded, err := invite.Encode()
	require.NoError(t, err)

	decoded, err := DecodeInviteToken(encoded)
	require.NoError(t, err)

	gotChannelID, err := bob.mgr.JoinChannel(context.Background(), decoded, bob.init, bob.ident.Public, 1000)
	require.NoError(t, err)
	require.Equal(t, channelID, gotChannelID)

	bobActor, err := bob.mgr.lookup(channelID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), bobActor.group.Epoch())
	require.True(t, bobActor.channel.HasMember(alice.user))
	require.True(t, bobActor.channel.HasMember(bob.user))
}

func TestChannelManagerJoinChannelRejectsReusedInvite(t *testing.T) {
	shared := newMemoryTransport("network")
	alice := newTestPeer(t, "alice", shared)
	bob := newTestPeer(t, "bob", shared)

	channelID, err := alice.mgr.CreateChannel(context.Background(), "general", ChannelText, alice.kp, alice.init, 1000)
	require.NoError(t, err)
	invite, err := alice.mgr.CreateInvite(context.Background(), channelID, bob.kp, 1000)
	require.NoError(t, err)

	_, err = bob.mgr.JoinChannel(context.Background(), invite, bob.init, bob.ident.Public, 1000)
	require.NoError(t, err)

	_, err = bob.mgr.JoinChannel(context.Background(), invite, bob.init, bob.ident.Public, 1000)
	require.Error(t, err)
}

func TestChannelManagerJoinChannelRejectsExpiredInvite(t *testing.T) {
	shared := newMemoryTransport("network")
	alice := newTestPeer(t, "alice", shared)
	bob := newTestPeer(t, "bob", shared)

	channelID, err := alice.mgr.CreateChannel(context.Background(), "general", ChannelText, alice.kp, alice.init, 1000)
	require.NoError(t, err)
	alice.mgr.inviteTTL = time.Second
	invite, err := alice.mgr.CreateInvite(context.Background(), channelID, bob.kp, 1000)
	require.NoError(t, err)

	_, err = bob.mgr.JoinChannel(context.Background(), invite, bob.init, bob.ident.Public, 1000+int64((2*time.Second).Seconds()))
	require.Error(t, err)
}

func TestChannelManagerSendAndReceiveApplicationMessage(t *testing.T) {
	shared := newMemoryTransport("network")
	alice := newTestPeer(t, "alice", shared)
	bob := newTestPeer(t, "bob", shared)
	ctx := context.Background()

	channelID, err := alice.mgr.CreateChannel(ctx, "general", ChannelText, alice.kp, alice.init, 1000)
	require.NoError(t, err)
	invite, err := alice.mgr.CreateInvite(ctx, channelID, bob.kp, 1000)
	require.NoError(t, err)
	_, err = bob.mgr.JoinChannel(ctx, invite, bob.init, bob.ident.Public, 1000)
	require.NoError(t, err)

	var mu sync.Mutex
	var gotPlaintext []byte
	var gotSender mlsgroup.LeafIndex
	received := make(chan struct{}, 1)
	bob.mgr.SetMessageHandler(func(_ identity.ChannelId, sender mlsgroup.LeafIndex, plaintext []byte) {
		mu.Lock()
		gotPlaintext = append([]byte(nil), plaintext...)
		gotSender = sender
		mu.Unlock()
		received <- struct{}{}
	})

	wire, err := shared.Subscribe(ctx, channelID.String())
	require.NoError(t, err)

	_, err = alice.mgr.SendMessage(ctx, channelID, []byte("hello bob"))
	require.NoError(t, err)

	select {
	case raw := <-wire:
		require.NoError(t, bob.mgr.Receive(ctx, raw))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published envelope")
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message handler")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "hello bob", string(gotPlaintext))
	require.Equal(t, mlsgroup.LeafIndex(0), gotSender, "alice founded the group at leaf 0")
}

func TestChannelManagerRemoveMember(t *testing.T) {
	shared := newMemoryTransport("network")
	alice := newTestPeer(t, "alice", shared)
	bob := newTestPeer(t, "bob", shared)
	ctx := context.Background()

	channelID, err := alice.mgr.CreateChannel(ctx, "general", ChannelText, alice.kp, alice.init, 1000)
	require.NoError(t, err)
	invite, err := alice.mgr.CreateInvite(ctx, channelID, bob.kp, 1000)
	require.NoError(t, err)
	_, err = bob.mgr.JoinChannel(ctx, invite, bob.init, bob.ident.Public, 1000)
	require.NoError(t, err)

	err = alice.mgr.RemoveMember(ctx, channelID, bob.user, bob.ident.Public)
	require.NoError(t, err)

	actor, err := alice.mgr.lookup(channelID)
	require.NoError(t, err)
	require.False(t, actor.channel.HasMember(bob.user))
	require.Equal(t, uint64(2), actor.group.Epoch())
}

func TestChannelManagerListMembers(t *testing.T) {
	shared := newMemoryTransport("network")
	alice := newTestPeer(t, "alice", shared)
	bob := newTestPeer(t, "bob", shared)
	ctx := context.Background()

	channelID, err := alice.mgr.CreateChannel(ctx, "general", ChannelText, alice.kp, alice.init, 1000)
	require.NoError(t, err)
	invite, err := alice.mgr.CreateInvite(ctx, channelID, bob.kp, 1000)
	require.NoError(t, err)
	_, err = bob.mgr.JoinChannel(ctx, invite, bob.init, bob.ident.Public, 1000)
	require.NoError(t, err)

	members, err := alice.mgr.ListMembers(ctx, channelID)
	require.NoError(t, err)
	require.ElementsMatch(t, []identity.UserId{alice.user, bob.user}, members)
}

func TestChannelManagerRemoveMemberRejectsUnknownMember(t *testing.T) {
	alice := newTestPeer(t, "alice", nil)
	ghost := newTestPeer(t, "ghost", nil)

	channelID, err := alice.mgr.CreateChannel(context.Background(), "general", ChannelText, alice.kp, alice.init, 1000)
	require.NoError(t, err)

	err = alice.mgr.RemoveMember(context.Background(), channelID, ghost.user, ghost.ident.Public)
	require.Error(t, err)
}

func TestChannelManagerPromoteDemote(t *testing.T) {
	alice := newTestPeer(t, "alice", nil)
	bob := newTestPeer(t, "bob", nil)

	spaceID, err := alice.mgr.CreateSpace("engineering", 1000)
	require.NoError(t, err)

	err = alice.mgr.Promote(spaceID, bob.user, RoleAdmin, 1100)
	require.NoError(t, err)
	role, ok, err := alice.mgr.SpaceRoleOf(spaceID, bob.user)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, RoleAdmin, role)

	err = alice.mgr.Demote(spaceID, bob.user, RoleMember, 1200)
	require.NoError(t, err)
	role, ok, err = alice.mgr.SpaceRoleOf(spaceID, bob.user)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, RoleMember, role)
}

func TestChannelManagerPromoteRejectsNonAdmin(t *testing.T) {
	bob := newTestPeer(t, "bob", nil)
	eve := newTestPeer(t, "eve", nil)

	spaceID, err := bob.mgr.CreateSpace("engineering", 1000)
	require.NoError(t, err)

	// eve's manager never observed the space, so she has no role there.
	err = eve.mgr.Promote(spaceID, bob.user, RoleOwner, 1100)
	require.Error(t, err)
}
