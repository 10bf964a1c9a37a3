// Package transport wires channelmgr.Transport onto a real libp2p host:
// gossipsub for per-channel replication, a direct stream protocol for
// out-of-band invite delivery, and mDNS for local peer discovery.
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	log "github.com/sirupsen/logrus"
)

// directProtocol carries InviteToken deliveries and anything else that
// must reach one specific peer rather than every channel subscriber.
const directProtocol = protocol.ID("/spacepanda/direct/1.0.0")

// Config mirrors the listen/bootstrap/discovery knobs a node needs to
// join the SpacePanda mesh.
type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

// DirectMessage is an inbound payload delivered over the direct-send
// protocol, e.g. an InviteToken a peer pushed straight at us.
type DirectMessage struct {
	From string
	Data []byte
}

// Node wraps a libp2p host behind channelmgr.Transport's Publish/Send/
// Subscribe/Self, built for application-level channel topics instead of
// block/tx gossip.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub

	topicLock sync.RWMutex
	topics    map[string]*pubsub.Topic

	subLock sync.RWMutex
	subs    map[string]*pubsub.Subscription

	peerLock sync.RWMutex
	peers    map[peer.ID]string

	direct chan DirectMessage

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates and bootstraps a SpacePanda libp2p node: host, gossipsub,
// the direct-message stream handler, bootstrap dials, and mDNS
// discovery tagged for this deployment.
func New(cfg Config) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[peer.ID]string),
		direct: make(chan DirectMessage, 64),
		ctx:    ctx,
		cancel: cancel,
	}

	h.SetStreamHandler(directProtocol, n.handleDirectStream)

	if err := n.DialSeed(cfg.BootstrapPeers); err != nil {
		log.Warnf("dial seed warning: %v", err)
	}

	mdns.NewMdnsService(h, cfg.DiscoveryTag, n)

	return n, nil
}

var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: dial peers discovered on the
// local network and remember their dialable address for direct sends.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}

	n.peerLock.RLock()
	_, known := n.peers[info.ID]
	n.peerLock.RUnlock()
	if known {
		return
	}

	if err := n.host.Connect(n.ctx, info); err != nil {
		log.Warnf("connect to discovered peer %s: %v", info.ID, err)
		return
	}

	n.peerLock.Lock()
	n.peers[info.ID] = info.String()
	n.peerLock.Unlock()
	log.Infof("connected to peer %s via mdns", info.ID)
}

// DialSeed connects to a list of bootstrap multiaddrs.
func (n *Node) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		n.peerLock.Lock()
		n.peers[pi.ID] = addr
		n.peerLock.Unlock()
		log.Infof("bootstrapped to %s", addr)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Publish implements channelmgr.Transport: gossipsub broadcast on the
// per-channel topic, joining it on first use.
func (n *Node) Publish(ctx context.Context, topic string, data []byte) error {
	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	if err := t.Publish(ctx, data); err != nil {
		return fmt.Errorf("publish topic %s: %w", topic, err)
	}
	return nil
}

func (n *Node) joinTopic(topic string) (*pubsub.Topic, error) {
	n.topicLock.Lock()
	defer n.topicLock.Unlock()
	if t, ok := n.topics[topic]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", topic, err)
	}
	n.topics[topic] = t
	return t, nil
}

// Subscribe implements channelmgr.Transport: returns a channel of raw
// payloads published to topic. The channel closes when the underlying
// subscription ends or ctx is cancelled.
func (n *Node) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	sub, err := n.subscription(topic)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				log.Debugf("subscription %s ended: %v", topic, err)
				return
			}
			select {
			case out <- msg.Data:
			case <-ctx.Done():
				return
			case <-n.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (n *Node) subscription(topic string) (*pubsub.Subscription, error) {
	n.subLock.Lock()
	defer n.subLock.Unlock()
	if sub, ok := n.subs[topic]; ok {
		return sub, nil
	}
	t, err := n.joinTopic(topic)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe topic %s: %w", topic, err)
	}
	n.subs[topic] = sub
	return sub, nil
}

// Send implements channelmgr.Transport: delivers data to a single peer
// over a dedicated stream rather than a gossipsub topic, used for
// out-of-band invite delivery to someone who isn't a channel member yet.
func (n *Node) Send(ctx context.Context, peerAddr string, data []byte) error {
	pi, err := peer.AddrInfoFromString(peerAddr)
	if err != nil {
		return fmt.Errorf("invalid peer address %s: %w", peerAddr, err)
	}
	if err := n.host.Connect(ctx, *pi); err != nil {
		return fmt.Errorf("connect %s: %w", peerAddr, err)
	}

	s, err := n.host.NewStream(ctx, pi.ID, directProtocol)
	if err != nil {
		return fmt.Errorf("open stream to %s: %w", peerAddr, err)
	}
	defer s.Close()

	if err := writeFrame(s, data); err != nil {
		return fmt.Errorf("write to %s: %w", peerAddr, err)
	}
	return nil
}

// Self implements channelmgr.Transport: our own dialable address, the
// peer-hint embedded in invites so a joiner can connect back to us.
func (n *Node) Self() string {
	addrs := n.host.Addrs()
	if len(addrs) == 0 {
		return n.host.ID().String()
	}
	return fmt.Sprintf("%s/p2p/%s", addrs[0], n.host.ID())
}

// Direct returns the channel of inbound direct-send payloads, e.g.
// invite tokens pushed at us outside of any gossipsub topic. Not part
// of channelmgr.Transport; callers that care about direct delivery
// (the CLI's invite/join flow) read it explicitly.
func (n *Node) Direct() <-chan DirectMessage {
	return n.direct
}

func (n *Node) handleDirectStream(s network.Stream) {
	defer s.Close()
	data, err := readFrame(s)
	if err != nil {
		log.Warnf("direct stream read from %s failed: %v", s.Conn().RemotePeer(), err)
		return
	}
	msg := DirectMessage{From: s.Conn().RemotePeer().String(), Data: data}
	select {
	case n.direct <- msg:
	case <-time.After(5 * time.Second):
		log.Warnf("dropping direct message from %s: receiver not draining", msg.From)
	}
}

// writeFrame/readFrame length-prefix a payload on a raw stream; gossipsub
// topics frame messages for us but direct streams are a bare io.ReadWriter.
func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var lenBuf [4]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Peers returns the dialable addresses of every peer we've bootstrapped
// to or discovered, for the CLI's network-status command.
func (n *Node) Peers() map[string]string {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	out := make(map[string]string, len(n.peers))
	for id, addr := range n.peers {
		out[id.String()] = addr
	}
	return out
}

// Close tears down pubsub subscriptions and the host.
func (n *Node) Close() error {
	n.cancel()
	n.subLock.Lock()
	for _, s := range n.subs {
		s.Cancel()
	}
	n.subLock.Unlock()
	return n.host.Close()
}
