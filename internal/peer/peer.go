// Package peer holds per-remote-node state: connection status, contact
// timestamps and the failure counter.
package peer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"p2p-overlay/internal/proto"
)

type Status uint8

const (
	Disconnected Status = iota
	Connecting
	Connected
	Unknown
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Peer is owned by the node's registry. Its methods are safe for concurrent
// use; readers get a point-in-time answer.
type Peer struct {
	clk clock.Clock

	mu             sync.Mutex
	info           proto.PeerInfo
	status         Status
	firstSeen      time.Time
	lastSeen       time.Time
	failedAttempts int
}

func New(info proto.PeerInfo) *Peer {
	return NewWithClock(info, clock.New())
}

func NewWithClock(info proto.PeerInfo, clk clock.Clock) *Peer {
	now := clk.Now()
	return &Peer{
		clk:       clk,
		info:      info.Clone(),
		status:    Disconnected,
		firstSeen: now,
		lastSeen:  now,
	}
}

func (p *Peer) ID() proto.NodeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info.ID
}

func (p *Peer) Info() proto.PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info.Clone()
}

// SetInfo replaces the contact details. The id never changes.
func (p *Peer) SetInfo(info proto.PeerInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.info.ID
	p.info = info.Clone()
	p.info.ID = id
}

func (p *Peer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SetStatus is the only status mutator. Connected clears the failure count.
func (p *Peer) SetStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
	if s == Connected {
		p.failedAttempts = 0
	}
}

func (p *Peer) IncrementFailedAttempts() {
	p.mu.Lock()
	p.failedAttempts++
	p.mu.Unlock()
}

func (p *Peer) FailedAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failedAttempts
}

func (p *Peer) UpdateLastSeen() {
	now := p.clk.Now()
	p.mu.Lock()
	p.lastSeen = now
	p.mu.Unlock()
}

func (p *Peer) FirstSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstSeen
}

func (p *Peer) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

// IsStale reports now - lastSeen > timeout.
func (p *Peer) IsStale(timeout time.Duration) bool {
	now := p.clk.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.lastSeen) > timeout
}
