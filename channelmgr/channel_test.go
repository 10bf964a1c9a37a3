package channelmgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/crdt"
	"github.com/spacepanda/core/identity"
)

func newTestUser(t *testing.T) identity.UserId {
	t.Helper()
	ik, err := identity.NewIdentityKey()
	require.NoError(t, err)
	return ik.UserID
}

func addIDFor(user identity.UserId, seq uint64) crdt.AddID {
	return crdt.AddID{NodeID: user.String(), Seq: seq}
}

func TestNewChannelSeedsFounderAsMember(t *testing.T) {
	founder := newTestUser(t)
	id := identity.ChannelId{0x01}

	ch := NewChannel(id, ChannelText, "general", founder, 100)

	require.True(t, ch.HasMember(founder))
	require.Equal(t, "general", ch.Name.Value)
	require.Equal(t, ChannelText, ch.Type)
}

func TestChannelAddAndRemoveMember(t *testing.T) {
	founder := newTestUser(t)
	joiner := newTestUser(t)
	ch := NewChannel(identity.ChannelId{0x02}, ChannelText, "general", founder, 100)

	ch.AddMember(joiner, crdt.AddID{NodeID: joiner.String(), Seq: 1})
	require.True(t, ch.HasMember(joiner))

	ch.RemoveMember(joiner)
	require.False(t, ch.HasMember(joiner))
	require.True(t, ch.HasMember(founder), "removing joiner must not affect founder")
}

func TestChannelPinUnpin(t *testing.T) {
	founder := newTestUser(t)
	ch := NewChannel(identity.ChannelId{0x03}, ChannelText, "general", founder, 100)
	msg := identity.MessageId{0xAA}

	ch.Pin(msg, crdt.AddID{NodeID: founder.String(), Seq: 1})
	require.Contains(t, ch.PinnedMessages.Elements(), msg)

	ch.Unpin(msg)
	require.NotContains(t, ch.PinnedMessages.Elements(), msg)
}

func TestChannelMergeCombinesConcurrentMembership(t *testing.T) {
	founder := newTestUser(t)
	alice := newTestUser(t)
	bob := newTestUser(t)

	base := NewChannel(identity.ChannelId{0x04}, ChannelText, "general", founder, 100)

	replicaA := base.Merge(base)
	replicaA.AddMember(alice, crdt.AddID{NodeID: alice.String(), Seq: 1})

	replicaB := base.Merge(base)
	replicaB.AddMember(bob, crdt.AddID{NodeID: bob.String(), Seq: 1})

	merged := replicaA.Merge(replicaB)

	require.True(t, merged.HasMember(founder))
	require.True(t, merged.HasMember(alice))
	require.True(t, merged.HasMember(bob))
}

func TestChannelTypeString(t *testing.T) {
	require.Equal(t, "Text", ChannelText.String())
	require.Equal(t, "Voice", ChannelVoice.String())
}
