// Package channelmgr orchestrates crdt, identity, and mlsgroup behind the
// Channel Manager's abstract RPC contract: creating channels and invites,
// joining, sending, and dispatching inbound envelopes, one logical
// mutator per channel.
package channelmgr

import (
	"github.com/spacepanda/core/crdt"
	"github.com/spacepanda/core/identity"
)

// ChannelType distinguishes a channel's medium; only Text carries a
// secure-group engine today, matching the glossary's "Text, Voice, …"
// open-ended list.
type ChannelType uint8

const (
	ChannelText ChannelType = iota + 1
	ChannelVoice
)

func (t ChannelType) String() string {
	switch t {
	case ChannelVoice:
		return "Voice"
	default:
		return "Text"
	}
}

// Channel is the CRDT composite backing a single secure-messaging
// channel: immutable identity fields plus LWW/OR-Set fields that merge
// across replicas independent of the secure group's epoch state.
type Channel struct {
	ID             identity.ChannelId
	Type           ChannelType
	Name           *crdt.LWWRegister[string]
	Topic          *crdt.LWWRegister[string]
	Members        *crdt.ORSet[identity.UserId]
	PinnedMessages *crdt.ORSet[identity.MessageId]

	// GroupStateRef names the persisted secure-group snapshot backing
	// this channel; the channel's own group_id is always derived from
	// ID (one secure group per channel).
	GroupStateRef string
}

// NewChannel founds a new Channel CRDT for founder, with name and topic
// seeded at creation time under founder's clock.
func NewChannel(id identity.ChannelId, typ ChannelType, name string, founder identity.UserId, createdAt int64) *Channel {
	members := crdt.NewORSet[identity.UserId]()
	members.Add(founder, crdt.AddID{NodeID: founder.String(), Seq: 0})

	return &Channel{
		ID:             id,
		Type:           typ,
		Name:           crdt.NewLWWRegister(name, createdAt, founder.String(), nil),
		Topic:          crdt.NewLWWRegister("", createdAt, founder.String(), nil),
		Members:        members,
		PinnedMessages: crdt.NewORSet[identity.MessageId](),
	}
}

// AddMember records a new member observation — the membership delta an
// Add-proposal commit emits into the CRDT store.
func (c *Channel) AddMember(user identity.UserId, id crdt.AddID) {
	c.Members.Add(user, id)
}

// RemoveMember tombstones user's currently-observed add-ids.
func (c *Channel) RemoveMember(user identity.UserId) []crdt.AddID {
	return c.Members.Remove(user)
}

// HasMember reports whether user is currently observed as a member.
func (c *Channel) HasMember(user identity.UserId) bool {
	return c.Members.Observe(user)
}

// Pin records a message as pinned.
func (c *Channel) Pin(msg identity.MessageId, id crdt.AddID) {
	c.PinnedMessages.Add(msg, id)
}

// Unpin removes a message from the pinned set.
func (c *Channel) Unpin(msg identity.MessageId) []crdt.AddID {
	return c.PinnedMessages.Remove(msg)
}

// Merge combines c with other, delegating each field to its own CRDT
// merge; ID and Type are immutable and simply copied from c.
func (c *Channel) Merge(other *Channel) *Channel {
	if other == nil {
		return c
	}
	return &Channel{
		ID:             c.ID,
		Type:           c.Type,
		Name:           c.Name.Merge(other.Name),
		Topic:          c.Topic.Merge(other.Topic),
		Members:        c.Members.Merge(other.Members),
		PinnedMessages: c.PinnedMessages.Merge(other.PinnedMessages),
		GroupStateRef:  c.GroupStateRef,
	}
}
