package dht

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const DefaultValueTTL = 24 * time.Hour

var valuePrefix = []byte("dht/v/")

// ValueBackend persists values beyond the in-memory map. storage.Storage
// satisfies it.
type ValueBackend interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	KeysWithPrefix(prefix []byte) ([][]byte, error)
}

type valueEntry struct {
	value  []byte
	stored time.Time
}

// ValueStore maps opaque keys to values. Expired entries stay until Sweep
// runs but are never returned.
type ValueStore struct {
	clk clock.Clock
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]valueEntry

	backend ValueBackend
}

func NewValueStore(clk clock.Clock, ttl time.Duration, backend ValueBackend) *ValueStore {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultValueTTL
	}
	return &ValueStore{
		clk:     clk,
		ttl:     ttl,
		entries: make(map[string]valueEntry),
		backend: backend,
	}
}

// Put inserts or overwrites key with the current time.
func (s *ValueStore) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	e := valueEntry{value: append([]byte(nil), value...), stored: s.clk.Now()}

	s.mu.Lock()
	s.entries[string(key)] = e
	s.mu.Unlock()

	if s.backend != nil {
		return s.backend.Put(backendKey(key), encodeEntry(e))
	}
	return nil
}

func (s *ValueStore) Get(key []byte) ([]byte, bool) {
	now := s.clk.Now()

	s.mu.Lock()
	e, ok := s.entries[string(key)]
	s.mu.Unlock()

	if !ok && s.backend != nil {
		raw, err := s.backend.Get(backendKey(key))
		if err == nil {
			if de, derr := decodeEntry(raw); derr == nil {
				e, ok = de, true
				s.mu.Lock()
				s.entries[string(key)] = e
				s.mu.Unlock()
			}
		}
	}
	if !ok || s.expired(e, now) {
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

func (s *ValueStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops entries older than the TTL and returns how many were removed.
func (s *ValueStore) Sweep() (int, error) {
	now := s.clk.Now()

	s.mu.Lock()
	var dead []string
	for k, e := range s.entries {
		if s.expired(e, now) {
			dead = append(dead, k)
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()

	if s.backend == nil {
		return len(dead), nil
	}

	for _, k := range dead {
		if err := s.backend.Delete(backendKey([]byte(k))); err != nil {
			return len(dead), err
		}
	}

	// Entries written by an earlier process are only on disk.
	keys, err := s.backend.KeysWithPrefix(valuePrefix)
	if err != nil {
		return len(dead), err
	}
	n := len(dead)
	for _, bk := range keys {
		raw, err := s.backend.Get(bk)
		if err != nil {
			continue
		}
		e, err := decodeEntry(raw)
		if err != nil || s.expired(e, now) {
			if err := s.backend.Delete(bk); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (s *ValueStore) expired(e valueEntry, now time.Time) bool {
	return now.Sub(e.stored) > s.ttl
}

func backendKey(key []byte) []byte {
	out := make([]byte, 0, len(valuePrefix)+len(key))
	out = append(out, valuePrefix...)
	return append(out, key...)
}

// stored time (unix nanos, big-endian) followed by the value
func encodeEntry(e valueEntry) []byte {
	out := make([]byte, 8+len(e.value))
	binary.BigEndian.PutUint64(out, uint64(e.stored.UnixNano()))
	copy(out[8:], e.value)
	return out
}

func decodeEntry(b []byte) (valueEntry, error) {
	if len(b) < 8 {
		return valueEntry{}, ErrCorruptValue
	}
	ts := int64(binary.BigEndian.Uint64(b))
	return valueEntry{
		value:  append([]byte(nil), b[8:]...),
		stored: time.Unix(0, ts),
	}, nil
}
