package dht

import (
	"context"
	"errors"
	"fmt"

	"p2p-overlay/internal/errs"
	"p2p-overlay/internal/proto"
)

type rpcReply struct {
	typ proto.MessageType
	w   proto.DHTWire
}

// request sends typ to peer and waits for the reply carrying the same RPCID.
// The waiter is registered before the send so a fast reply is never lost.
func (d *DHT) request(ctx context.Context, to proto.PeerInfo, typ proto.MessageType, w proto.DHTWire) (rpcReply, error) {
	kind := typ.String()
	if d.sender == nil {
		return rpcReply{}, errs.E(errs.KindDHT, kind, ErrNoNetwork)
	}
	if !to.HasAddress() {
		return rpcReply{}, errs.E(errs.KindDHT, kind, fmt.Errorf("%w: %s", ErrNoAddress, to.ID))
	}

	id := proto.NewMessageID()
	rpcid := id.String()
	ch := make(chan rpcReply, 1)

	d.pendingMu.Lock()
	d.pending[rpcid] = ch
	d.pendingMu.Unlock()
	defer d.dropPending(rpcid)

	origin := d.sender.LocalInfo()
	w.RPCID = rpcid
	w.Origin = &origin

	dst := to.ID
	msg := proto.NewMessage(d.self, &dst, typ, proto.MustMarshal(w))
	msg.ID = id

	ctx, cancel := context.WithTimeout(ctx, d.cfg.RPCTimeout)
	defer cancel()

	if err := d.sender.SendMessage(ctx, to, msg); err != nil {
		d.metrics.IncRPC(kind, false)
		return rpcReply{}, errs.E(errs.KindDHT, kind, err)
	}

	select {
	case r := <-ch:
		d.metrics.IncRPC(kind, true)
		return r, nil
	case <-ctx.Done():
		d.metrics.IncRPC(kind, false)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return rpcReply{}, errs.E(errs.KindDHT, kind, fmt.Errorf("%w: %s", ErrRPCTimeout, to.ID))
		}
		return rpcReply{}, errs.E(errs.KindDHT, kind, ctx.Err())
	}
}

func (d *DHT) dropPending(rpcid string) {
	d.pendingMu.Lock()
	delete(d.pending, rpcid)
	d.pendingMu.Unlock()
}

// deliver hands a reply to its waiter. Unknown or late replies are dropped.
func (d *DHT) deliver(typ proto.MessageType, w proto.DHTWire) bool {
	if w.RPCID == "" {
		return false
	}
	d.pendingMu.Lock()
	ch := d.pending[w.RPCID]
	if ch != nil {
		delete(d.pending, w.RPCID)
	}
	d.pendingMu.Unlock()

	if ch == nil {
		return false
	}
	select {
	case ch <- rpcReply{typ: typ, w: w}:
	default:
	}
	return true
}

func (d *DHT) Ping(ctx context.Context, to proto.PeerInfo) error {
	r, err := d.request(ctx, to, proto.TypePing, proto.DHTWire{})
	if err != nil {
		return err
	}
	if r.typ != proto.TypePong {
		return fmt.Errorf("%w: %s to ping", ErrBadReply, r.typ)
	}
	return nil
}

func (d *DHT) findNode(ctx context.Context, to proto.PeerInfo, target proto.NodeID) ([]proto.PeerInfo, error) {
	r, err := d.request(ctx, to, proto.TypeFindNode, proto.DHTWire{Target: &target})
	if err != nil {
		return nil, err
	}
	if r.typ != proto.TypeNodeResponse {
		return nil, fmt.Errorf("%w: %s to find_node", ErrBadReply, r.typ)
	}
	return r.w.Nodes, nil
}

func (d *DHT) getValue(ctx context.Context, to proto.PeerInfo, key []byte) (proto.DHTWire, error) {
	r, err := d.request(ctx, to, proto.TypeGet, proto.DHTWire{Key: key})
	if err != nil {
		return proto.DHTWire{}, err
	}
	if r.typ != proto.TypeValue {
		return proto.DHTWire{}, fmt.Errorf("%w: %s to get", ErrBadReply, r.typ)
	}
	return r.w, nil
}

func (d *DHT) storeValue(ctx context.Context, to proto.PeerInfo, key, value []byte) error {
	r, err := d.request(ctx, to, proto.TypeStore, proto.DHTWire{Key: key, Value: value})
	if err != nil {
		return err
	}
	if r.typ != proto.TypeValue {
		return fmt.Errorf("%w: %s to store", ErrBadReply, r.typ)
	}
	if !r.w.OK {
		return fmt.Errorf("%w: %s", ErrRPCFailed, r.w.Error)
	}
	return nil
}
