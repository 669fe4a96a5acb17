package proto

import "encoding/json"

// DHTWire is the single payload for all DHT traffic; it travels JSON-encoded
// in Message.Data. Which fields are set depends on the message type.
type DHTWire struct {
	// RPC correlation: the request's message id, echoed by the reply.
	RPCID string `json:"rpc_id,omitempty"`

	// Origin is the sender's advertised contact info, so the receiver can
	// route back to it and add it to its table.
	Origin *PeerInfo `json:"origin,omitempty"`

	// FIND_NODE target
	Target *NodeID `json:"target,omitempty"`

	// STORE / GET / VALUE
	Key   []byte `json:"key,omitempty"`
	Value []byte `json:"value,omitempty"`
	Found bool   `json:"found,omitempty"`

	// NODE_RESPONSE, and VALUE misses (closest nodes instead of the value)
	Nodes []PeerInfo `json:"nodes,omitempty"`

	// STORE acknowledgement
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func DecodeDHT(m Message) (DHTWire, error) {
	var w DHTWire
	if len(m.Data) == 0 {
		return w, nil
	}
	err := json.Unmarshal(m.Data, &w)
	return w, err
}
