package channelmgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/identity"
)

func TestNewSpaceSeedsOwnerRole(t *testing.T) {
	owner := newTestUser(t)
	sp := NewSpace(identity.SpaceId{0x01}, "engineering", owner, 100)

	role, ok := sp.RoleOf(owner)
	require.True(t, ok)
	require.Equal(t, RoleOwner, role)
}

func TestSpaceSetRolePromotesMember(t *testing.T) {
	owner := newTestUser(t)
	member := newTestUser(t)
	sp := NewSpace(identity.SpaceId{0x02}, "engineering", owner, 100)

	sp.SetRole(member, RoleMember, 100, owner.String(), addIDFor(member, 1))
	role, ok := sp.RoleOf(member)
	require.True(t, ok)
	require.Equal(t, RoleMember, role)

	sp.SetRole(member, RoleAdmin, 200, owner.String(), addIDFor(member, 2))
	role, ok = sp.RoleOf(member)
	require.True(t, ok)
	require.Equal(t, RoleAdmin, role)
}

func TestSpaceSetRoleRespectsLWWOrdering(t *testing.T) {
	owner := newTestUser(t)
	member := newTestUser(t)
	sp := NewSpace(identity.SpaceId{0x03}, "engineering", owner, 100)
	sp.SetRole(member, RoleMember, 100, owner.String(), addIDFor(member, 1))

	// A concurrent, earlier-timestamped assignment must not overwrite the
	// later one once merged through the register's own LWW order.
	sp.SetRole(member, RoleOwner, 50, owner.String(), addIDFor(member, 2))

	role, ok := sp.RoleOf(member)
	require.True(t, ok)
	require.Equal(t, RoleMember, role, "later timestamp must win under LWW")
}

func TestSpaceAddChannelAndRemoveMember(t *testing.T) {
	owner := newTestUser(t)
	member := newTestUser(t)
	sp := NewSpace(identity.SpaceId{0x04}, "engineering", owner, 100)
	channelID := identity.ChannelId{0xFE}

	sp.AddChannel(channelID, addIDFor(owner, 1))
	require.Contains(t, sp.Channels.Elements(), channelID)

	sp.SetRole(member, RoleMember, 100, owner.String(), addIDFor(member, 1))
	sp.RemoveMember(member)
	_, ok := sp.RoleOf(member)
	require.False(t, ok)
}

func TestSpaceRoleString(t *testing.T) {
	require.Equal(t, "Owner", RoleOwner.String())
	require.Equal(t, "Admin", RoleAdmin.String())
	require.Equal(t, "Member", RoleMember.String())
}
