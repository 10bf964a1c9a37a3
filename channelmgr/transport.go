package channelmgr

import (
	"context"

	"github.com/spacepanda/core/identity"
)

// Transport is the peer-delivery capability ChannelManager depends on: a
// libp2p host wrapped behind app-level Publish/Subscribe/Send methods,
// injected as an interface so channelmgr never imports libp2p directly.
// The default adapter wiring real gossipsub lives in package transport.
type Transport interface {
	// Publish broadcasts data to every current subscriber of topic. One
	// gossipsub topic per channel.
	Publish(ctx context.Context, topic string, data []byte) error
	// Send delivers data directly to a single peer, addressed by the
	// peer-hint string an InviteToken carries for dial-back.
	Send(ctx context.Context, peer string, data []byte) error
	// Subscribe returns a channel of inbound payloads published to topic.
	// The channel closes when the subscription ends.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	// Self returns this node's own dialable peer-hint, embedded in
	// invites so a joiner can connect back to the inviter.
	Self() string
}

// Store is the persistence capability ChannelManager depends on: CRDT
// channel state and the secure group's snapshot, kept under separate keys
// so either can be reloaded independently on restart. ChannelManager
// hands SaveGroupBlob the unencrypted mlsgroup.Group.ToBytes output.
type Store interface {
	SaveChannel(ch *Channel) error
	LoadChannel(id identity.ChannelId) (*Channel, error)
	DeleteChannel(id identity.ChannelId) error

	SaveGroupBlob(channelID identity.ChannelId, blob []byte) error
	LoadGroupBlob(channelID identity.ChannelId) ([]byte, error)
	DeleteGroupBlob(channelID identity.ChannelId) error

	SaveSpace(sp *Space) error
	LoadSpace(id identity.SpaceId) (*Space, error)
	DeleteSpace(id identity.SpaceId) error
}
