package dht

import (
	"context"
	"time"

	"p2p-overlay/internal/proto"
)

const replyTimeout = 5 * time.Second

// HandleMessage processes one inbound DHT message. source is the transport
// address it arrived from; it is used when the sender advertised none.
func (d *DHT) HandleMessage(msg proto.Message, source string) {
	if !msg.IsDHT() || msg.From == d.self {
		return
	}
	if !d.limiter.allow(msg.From, d.clk.Now()) {
		d.logf("rate limited %s", msg.From)
		return
	}

	w, err := proto.DecodeDHT(msg)
	if err != nil {
		d.logf("bad payload from %s: %v", msg.From, err)
		return
	}

	from := proto.PeerInfo{ID: msg.From, Address: source}
	if w.Origin != nil && w.Origin.ID == msg.From {
		from = w.Origin.Clone()
		if from.Address == "" {
			from.Address = source
		}
	}

	// Any DHT traffic refreshes the sender's routing entry.
	d.AddPeer(from)

	switch msg.Type {
	case proto.TypePong, proto.TypeNodeResponse, proto.TypeValue:
		if !d.deliver(msg.Type, w) {
			d.logf("late or unknown %s reply from %s", msg.Type, msg.From)
		}
		return
	case proto.TypeAnnounce:
		return
	}

	// Requests need a concrete recipient to answer as.
	if msg.To == nil || *msg.To != d.self {
		return
	}

	var (
		typ   proto.MessageType
		reply proto.DHTWire
	)
	switch msg.Type {
	case proto.TypePing:
		typ = proto.TypePong

	case proto.TypeFindNode:
		typ = proto.TypeNodeResponse
		if w.Target != nil {
			reply.Target = w.Target
			reply.Nodes = d.closestExcept(*w.Target, msg.From)
		}

	case proto.TypeStore:
		typ = proto.TypeValue
		reply.Key = w.Key
		if err := d.values.Put(w.Key, w.Value); err != nil {
			reply.Error = err.Error()
		} else {
			reply.OK = true
		}

	case proto.TypeGet:
		typ = proto.TypeValue
		reply.Key = w.Key
		if v, ok := d.values.Get(w.Key); ok {
			reply.Value = v
			reply.Found = true
		} else if len(w.Key) > 0 {
			// Not found: return closest nodes instead.
			reply.Nodes = d.closestExcept(KeyTarget(w.Key), msg.From)
		}

	default:
		return
	}

	if d.sender == nil {
		return
	}
	// Replies never run on the caller's receive loop.
	started := d.spawn(func(ctx context.Context) {
		d.reply(ctx, msg, from, typ, reply, w.RPCID)
	})
	if !started {
		d.logf("reply pool full, dropping %s from %s", msg.Type, msg.From)
	}
}

func (d *DHT) reply(ctx context.Context, req proto.Message, to proto.PeerInfo, typ proto.MessageType, w proto.DHTWire, rpcid string) {
	w.RPCID = rpcid
	origin := d.sender.LocalInfo()
	w.Origin = &origin

	resp, err := proto.CreateResponse(req, typ, proto.MustMarshal(w))
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if err := d.sender.SendMessage(ctx, to, resp); err != nil {
		d.logf("reply %s to %s failed: %v", typ, to.ID, err)
	}
}

func (d *DHT) closestExcept(target, skip proto.NodeID) []proto.PeerInfo {
	nodes := d.rt.Closest(target, d.cfg.K+1)
	out := nodes[:0]
	for _, n := range nodes {
		if n.ID != skip {
			out = append(out, n)
		}
	}
	if len(out) > d.cfg.K {
		out = out[:d.cfg.K]
	}
	return out
}
