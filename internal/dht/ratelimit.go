package dht

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"p2p-overlay/internal/proto"
)

const (
	rateLimitPerSec = 20
	rateLimitBurst  = 40
	rateLimitPeers  = 4096
)

// senderLimiter keeps one token bucket per remote node. The LRU bounds
// memory when many ids show up.
type senderLimiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[proto.NodeID, *rate.Limiter]
}

func newSenderLimiter() *senderLimiter {
	c, _ := lru.New[proto.NodeID, *rate.Limiter](rateLimitPeers)
	return &senderLimiter{buckets: c}
}

func (s *senderLimiter) allow(from proto.NodeID, now time.Time) bool {
	s.mu.Lock()
	l, ok := s.buckets.Get(from)
	if !ok {
		l = rate.NewLimiter(rateLimitPerSec, rateLimitBurst)
		s.buckets.Add(from, l)
	}
	s.mu.Unlock()
	return l.AllowN(now, 1)
}
