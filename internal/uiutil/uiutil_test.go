package uiutil

import (
	"strings"
	"testing"

	"p2p-overlay/internal/proto"
)

func TestFormatName(t *testing.T) {
	id := proto.RandomNodeID()
	got := FormatName("", id)
	if !strings.Contains(got, id.Hex()[:8]) || !strings.HasSuffix(got, AnsiReset) {
		t.Fatalf("FormatName without name = %q", got)
	}
	if PickColor(id) != PickColor(id) {
		t.Fatalf("color not stable")
	}
	if !strings.HasPrefix(FormatName("bob", id), PickColor(id)+"bob") {
		t.Fatalf("name not colored by id")
	}
}

func TestStripANSI(t *testing.T) {
	id := proto.RandomNodeID()
	if got := StripANSI(FormatName("bob", id) + AnsiDim + " joined" + AnsiReset); got != "bob joined" {
		t.Fatalf("StripANSI = %q", got)
	}
}
