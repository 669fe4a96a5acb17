package proto

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestNewBroadcast_HasNoRecipient(t *testing.T) {
	from := RandomNodeID()
	m := NewBroadcast(from, []byte("hi"))

	if m.To != nil {
		t.Fatalf("expected broadcast to have no recipient")
	}
	if !m.IsBroadcast() {
		t.Fatalf("IsBroadcast false for broadcast")
	}
	if m.Type != TypeData {
		t.Fatalf("expected data type, got %s", m.Type)
	}
}

func TestCreateResponse_RejectsBroadcast(t *testing.T) {
	m := NewBroadcast(RandomNodeID(), []byte("hi"))

	_, err := CreateResponse(m, TypePong, nil)
	if !errors.Is(err, ErrResponseToBroadcast) {
		t.Fatalf("expected ErrResponseToBroadcast, got %v", err)
	}
}

func TestCreateResponse_SwapsEndpoints(t *testing.T) {
	a, b := RandomNodeID(), RandomNodeID()
	req := NewMessage(a, &b, TypePing, nil)

	resp, err := CreateResponse(req, TypePong, []byte("ok"))
	if err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if resp.From != b {
		t.Fatalf("reply from should be original recipient")
	}
	if resp.To == nil || *resp.To != a {
		t.Fatalf("reply should be addressed to original sender")
	}
	if resp.ID == req.ID {
		t.Fatalf("reply must carry a fresh id")
	}
}

func TestNewMessage_StampsTimeAndCopiesData(t *testing.T) {
	data := []byte("payload")
	before := time.Now().UnixMilli()
	m := NewData(RandomNodeID(), RandomNodeID(), data)
	after := time.Now().UnixMilli()

	if m.Timestamp < before || m.Timestamp > after {
		t.Fatalf("timestamp %d outside [%d,%d]", m.Timestamp, before, after)
	}
	data[0] = 'X'
	if !bytes.Equal(m.Data, []byte("payload")) {
		t.Fatalf("message data aliased caller buffer")
	}
	if m.ID == (MessageID{}) {
		t.Fatalf("expected random id")
	}
}

func TestNewMessage_DistinctIDs(t *testing.T) {
	from := RandomNodeID()
	seen := make(map[MessageID]bool)
	for i := 0; i < 1000; i++ {
		id := NewBroadcast(from, nil).ID
		if seen[id] {
			t.Fatalf("duplicate id after %d messages", i)
		}
		seen[id] = true
	}
}

func TestMessageType_Custom(t *testing.T) {
	ct := Custom(42)
	if !ct.IsCustom() || ct.CustomCode() != 42 {
		t.Fatalf("custom type lost its code: %v", ct)
	}
	if !ct.Valid() {
		t.Fatalf("custom type should be valid")
	}
	if TypeValue.IsCustom() {
		t.Fatalf("builtin type reported as custom")
	}
	if got := ct.String(); got != "custom(42)" {
		t.Fatalf("unexpected string %q", got)
	}
}

func TestMessage_IsDHT(t *testing.T) {
	to := RandomNodeID()
	if NewMessage(RandomNodeID(), &to, TypeData, nil).IsDHT() {
		t.Fatalf("data message is not a DHT message")
	}
	if NewMessage(RandomNodeID(), &to, Custom(1), nil).IsDHT() {
		t.Fatalf("custom message is not a DHT message")
	}
	for _, typ := range []MessageType{TypeFindNode, TypeNodeResponse, TypePing, TypePong, TypeStore, TypeGet, TypeValue, TypeAnnounce} {
		if !NewMessage(RandomNodeID(), &to, typ, nil).IsDHT() {
			t.Fatalf("%s should be a DHT message", typ)
		}
	}
}
