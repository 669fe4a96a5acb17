package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"p2p-overlay/internal/proto"
)

// DefaultSeeds is the built-in bootstrap list. Empty until public seeds
// exist.
var DefaultSeeds = []string{}

// Static returns a fixed bootstrap list.
type Static struct {
	Label string
	Peers []proto.PeerInfo
}

// NewStatic parses entries of the form "tcp://<hex id>@host:port". The
// scheme becomes the peer's only advertised protocol; "overlay://" leaves
// protocols empty.
func NewStatic(label string, entries []string) (*Static, error) {
	s := &Static{Label: label}
	for _, e := range entries {
		p, err := ParsePeerURL(e)
		if err != nil {
			return nil, err
		}
		s.Peers = append(s.Peers, p)
	}
	return s, nil
}

func (s *Static) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "static"
}

func (s *Static) Start() error { return nil }
func (s *Static) Stop() error  { return nil }

func (s *Static) Discover(ctx context.Context) ([]proto.PeerInfo, error) {
	out := make([]proto.PeerInfo, 0, len(s.Peers))
	for _, p := range s.Peers {
		out = append(out, p.Clone())
	}
	return out, nil
}

func ParsePeerURL(entry string) (proto.PeerInfo, error) {
	u, err := url.Parse(strings.TrimSpace(entry))
	if err != nil {
		return proto.PeerInfo{}, fmt.Errorf("%w: %q: %v", ErrBadEntry, entry, err)
	}
	if u.User == nil || u.Host == "" || u.Scheme == "" {
		return proto.PeerInfo{}, fmt.Errorf("%w: %q: want scheme://id@host:port", ErrBadEntry, entry)
	}
	id, err := proto.ParseNodeIDHex(u.User.Username())
	if err != nil {
		return proto.PeerInfo{}, fmt.Errorf("%w: %q: %v", ErrBadEntry, entry, err)
	}
	info := proto.PeerInfo{ID: id, Address: u.Host}
	if u.Scheme != "overlay" {
		info.Protocols = []string{u.Scheme}
	}
	return info, nil
}

// PeerURL is the inverse of ParsePeerURL for the first advertised protocol.
func PeerURL(p proto.PeerInfo) string {
	scheme := "overlay"
	if len(p.Protocols) > 0 {
		scheme = p.Protocols[0]
	}
	return scheme + "://" + p.ID.Hex() + "@" + p.Address
}
