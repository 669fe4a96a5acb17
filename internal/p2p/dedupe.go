package p2p

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"p2p-overlay/internal/proto"
)

const seenCacheSize = 8192

// seenCache remembers recent message ids so a message reaching us over
// several paths is handled once.
type seenCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[proto.MessageID, struct{}]
}

func newSeenCache(ttl time.Duration) *seenCache {
	return &seenCache{lru: expirable.NewLRU[proto.MessageID, struct{}](seenCacheSize, nil, ttl)}
}

// Seen returns true if id was seen recently. If not, it records it and
// returns false.
func (s *seenCache) Seen(id proto.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lru.Get(id); ok {
		return true
	}
	s.lru.Add(id, struct{}{})
	return false
}

func (s *seenCache) close() { s.lru.Purge() }
