package proto

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType is one of the built-in kinds below, or Custom(code).
type MessageType uint16

const (
	TypeData MessageType = iota
	TypeFindNode
	TypeNodeResponse
	TypePing
	TypePong
	TypeAnnounce
	TypeStore
	TypeGet
	TypeValue

	customBase MessageType = 0x100
)

// Custom returns the application-defined type with the given code.
func Custom(code uint8) MessageType { return customBase | MessageType(code) }

func (t MessageType) IsCustom() bool { return t&customBase != 0 }

// CustomCode is only meaningful when IsCustom is true.
func (t MessageType) CustomCode() uint8 { return uint8(t) }

func (t MessageType) Valid() bool {
	if t.IsCustom() {
		return t <= customBase|0xff
	}
	return t <= TypeValue
}

func (t MessageType) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypeFindNode:
		return "find_node"
	case TypeNodeResponse:
		return "node_response"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	case TypeAnnounce:
		return "announce"
	case TypeStore:
		return "store"
	case TypeGet:
		return "get"
	case TypeValue:
		return "value"
	}
	if t.IsCustom() {
		return fmt.Sprintf("custom(%d)", t.CustomCode())
	}
	return fmt.Sprintf("invalid(%d)", uint16(t))
}

// MessageID is a random 128-bit token.
type MessageID [16]byte

func NewMessageID() MessageID { return MessageID(uuid.New()) }

func (id MessageID) String() string { return uuid.UUID(id).String() }

func ParseMessageID(s string) (MessageID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return MessageID{}, err
	}
	return MessageID(u), nil
}

var ErrResponseToBroadcast = errors.New("proto: cannot respond to a broadcast message")

// Message is the unit exchanged between nodes. Treat it as immutable once
// built.
type Message struct {
	From      NodeID
	To        *NodeID // nil = broadcast
	Type      MessageType
	Data      []byte
	Timestamp int64 // ms since epoch
	ID        MessageID
}

func NewMessage(from NodeID, to *NodeID, typ MessageType, data []byte) Message {
	m := Message{
		From:      from,
		Type:      typ,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now().UnixMilli(),
		ID:        NewMessageID(),
	}
	if to != nil {
		dst := *to
		m.To = &dst
	}
	return m
}

func NewData(from, to NodeID, data []byte) Message {
	return NewMessage(from, &to, TypeData, data)
}

func NewBroadcast(from NodeID, data []byte) Message {
	return NewMessage(from, nil, TypeData, data)
}

// CreateResponse builds a reply to original with from/to swapped. A broadcast
// has no concrete recipient to answer as, so it is rejected.
func CreateResponse(original Message, typ MessageType, data []byte) (Message, error) {
	if original.To == nil {
		return Message{}, ErrResponseToBroadcast
	}
	to := original.From
	return NewMessage(*original.To, &to, typ, data), nil
}

func (m Message) IsBroadcast() bool { return m.To == nil }

// IsDHT reports whether the message belongs to the DHT protocol.
func (m Message) IsDHT() bool {
	switch m.Type {
	case TypeFindNode, TypeNodeResponse, TypePing, TypePong, TypeAnnounce, TypeStore, TypeGet, TypeValue:
		return true
	}
	return false
}

func (m Message) Time() time.Time { return time.UnixMilli(m.Timestamp) }
