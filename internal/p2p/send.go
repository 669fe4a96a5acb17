package p2p

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"p2p-overlay/internal/errs"
	"p2p-overlay/internal/peer"
	"p2p-overlay/internal/proto"
	"p2p-overlay/internal/transport"
)

const broadcastFanout = 16

// selectTransport picks the first configured transport whose kind the peer
// advertises. A peer advertising nothing gets the first transport.
func (n *Node) selectTransport(info proto.PeerInfo) (transport.Transport, error) {
	if len(n.transports) == 0 {
		return nil, ErrNoTransport
	}
	if len(info.Protocols) == 0 {
		return n.transports[0], nil
	}
	for _, tr := range n.transports {
		if info.HasProtocol(tr.Kind().String()) {
			return tr, nil
		}
	}
	return nil, fmt.Errorf("%w: %s advertises %v", ErrNoTransport, info.ID, info.Protocols)
}

// transmit encodes msg and hands it to the transport chosen for info.
func (n *Node) transmit(ctx context.Context, info proto.PeerInfo, msg proto.Message) error {
	if !info.HasAddress() {
		return errs.E(errs.KindNetwork, "send_to", fmt.Errorf("%w: %s", ErrNoAddress, info.ID))
	}
	tr, err := n.selectTransport(info)
	if err != nil {
		return errs.E(errs.KindNetwork, "send_to", err)
	}
	raw, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	err = tr.SendTo(ctx, info.Address, raw)
	n.metrics.IncSent(tr.Kind().String(), err == nil)
	return err
}

// deliver sends msg to a registered peer and tracks its status.
func (n *Node) deliver(ctx context.Context, p *peer.Peer, msg proto.Message) error {
	info := p.Info()
	if !info.HasAddress() {
		return errs.E(errs.KindNetwork, "send_to", fmt.Errorf("%w: %s", ErrNoAddress, info.ID))
	}
	if p.Status() != peer.Connected {
		p.SetStatus(peer.Connecting)
	}
	if err := n.transmit(ctx, info, msg); err != nil {
		n.markFailed(p, err)
		return err
	}
	n.markAlive(p)
	return nil
}

// SendTo wraps data in a Data message for id and sends it on one
// transport. Errors are returned as-is; there is no retry.
func (n *Node) SendTo(ctx context.Context, id proto.NodeID, data []byte) error {
	p, ok := n.lookupPeer(id)
	if !ok {
		return errs.E(errs.KindNetwork, "send_to", fmt.Errorf("%w: %s", ErrPeerNotFound, id))
	}
	return n.deliver(ctx, p, proto.NewData(n.self, id, data))
}

// Broadcast sends one broadcast message to every known peer. It is best
// effort: per-peer failures are logged and the call still succeeds.
func (n *Node) Broadcast(ctx context.Context, data []byte) error {
	n.fanout(ctx, proto.NewBroadcast(n.self, data))
	return nil
}

// Announce tells every known peer how to reach this node.
func (n *Node) Announce(ctx context.Context) error {
	local := n.LocalInfo()
	if !local.HasAddress() {
		return errs.E(errs.KindNetwork, "announce", ErrNoAddress)
	}
	msg := proto.NewMessage(n.self, nil, proto.TypeAnnounce, proto.MustMarshal(proto.DHTWire{Origin: &local}))
	n.fanout(ctx, msg)
	return nil
}

func (n *Node) fanout(ctx context.Context, msg proto.Message) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastFanout)
	for _, p := range n.registry() {
		g.Go(func() error {
			if err := n.deliver(gctx, p, msg); err != nil {
				n.Logf("%s to %s failed: %v", msg.Type, p.ID(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// SendMessage lets the DHT reach peers that may not be registered.
func (n *Node) SendMessage(ctx context.Context, to proto.PeerInfo, msg proto.Message) error {
	if p, ok := n.lookupPeer(to.ID); ok && p.Info().Address == to.Address {
		return n.deliver(ctx, p, msg)
	}
	return n.transmit(ctx, to, msg)
}
