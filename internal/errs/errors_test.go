package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestE_NilPassthrough(t *testing.T) {
	if err := E(KindDHT, "store", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("outer: %w", E(KindTransport, "send_to", base))

	if got := KindOf(err); got != KindTransport {
		t.Fatalf("expected transport kind, got %s", got)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected chain to contain base error")
	}
	if KindOf(base) != KindUnknown {
		t.Fatalf("plain error should be unknown kind")
	}
}

func TestIs_NestedKinds(t *testing.T) {
	inner := E(KindSerialization, "decode", errors.New("short buffer"))
	outer := E(KindNetwork, "inbound", inner)

	if !Is(outer, KindNetwork) || !Is(outer, KindSerialization) {
		t.Fatalf("expected both kinds in chain")
	}
	if Is(outer, KindStorage) {
		t.Fatalf("unexpected storage kind")
	}
}

func TestError_Message(t *testing.T) {
	err := E(KindDiscovery, "mdns", errors.New("not started"))
	if got, want := err.Error(), "discovery: mdns: not started"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
