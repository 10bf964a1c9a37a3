package channelmgr

import (
	"github.com/spacepanda/core/crdt"
	"github.com/spacepanda/core/identity"
)

// SpaceRole is a member's role within a Space — Owner, Admin, or Member —
// resolved by last-writer-wins when two replicas assign different roles
// concurrently.
type SpaceRole uint8

const (
	RoleMember SpaceRole = iota
	RoleAdmin
	RoleOwner
)

func (r SpaceRole) String() string {
	switch r {
	case RoleOwner:
		return "Owner"
	case RoleAdmin:
		return "Admin"
	default:
		return "Member"
	}
}

// Space is the CRDT composite grouping related channels under shared
// membership and roles: a name and description as LWW registers, an
// OR-Set of member channels, and an OR-Map of members to their role.
type Space struct {
	ID          identity.SpaceId
	Name        *crdt.LWWRegister[string]
	Description *crdt.LWWRegister[string]
	Channels    *crdt.ORSet[identity.ChannelId]
	Members     *crdt.ORMap[identity.UserId, *crdt.LWWRegister[SpaceRole]]
}

// NewSpace founds a Space with owner as its sole Owner-role member.
func NewSpace(id identity.SpaceId, name string, owner identity.UserId, createdAt int64) *Space {
	members := crdt.NewORMap[identity.UserId, *crdt.LWWRegister[SpaceRole]]()
	members.Put(owner, crdt.AddID{NodeID: owner.String(), Seq: 0},
		crdt.NewLWWRegister(RoleOwner, createdAt, owner.String(), nil))

	return &Space{
		ID:          id,
		Name:        crdt.NewLWWRegister(name, createdAt, owner.String(), nil),
		Description: crdt.NewLWWRegister("", createdAt, owner.String(), nil),
		Channels:    crdt.NewORSet[identity.ChannelId](),
		Members:     members,
	}
}

// AddChannel records channelID as belonging to the space.
func (s *Space) AddChannel(channelID identity.ChannelId, id crdt.AddID) {
	s.Channels.Add(channelID, id)
}

// SetRole assigns or updates user's role, merging with any concurrently
// assigned role under LWW rather than overwriting it outright.
func (s *Space) SetRole(user identity.UserId, role SpaceRole, ts int64, nodeID string, id crdt.AddID) {
	s.Members.Put(user, id, crdt.NewLWWRegister(role, ts, nodeID, nil))
}

// RoleOf returns user's current role and whether user is an observed
// member at all.
func (s *Space) RoleOf(user identity.UserId) (SpaceRole, bool) {
	reg, ok := s.Members.Get(user)
	if !ok {
		return RoleMember, false
	}
	return reg.Value, true
}

// RemoveMember removes user from the space's membership entirely.
func (s *Space) RemoveMember(user identity.UserId) []crdt.AddID {
	return s.Members.Delete(user)
}

// Merge combines s with other through each field's own CRDT merge.
func (s *Space) Merge(other *Space) *Space {
	if other == nil {
		return s
	}
	return &Space{
		ID:          s.ID,
		Name:        s.Name.Merge(other.Name),
		Description: s.Description.Merge(other.Description),
		Channels:    s.Channels.Merge(other.Channels),
		Members:     s.Members.Merge(other.Members),
	}
}
