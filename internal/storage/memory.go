package storage

import (
	"bytes"
	"sync"

	"p2p-overlay/internal/errs"
)

type memState struct {
	mu     sync.Mutex
	m      map[string][]byte
	closed bool
}

// Memory is an in-process store. Clones share the same data.
type Memory struct {
	st *memState
}

func NewMemory() *Memory {
	return &Memory{st: &memState{m: make(map[string][]byte)}}
}

// Clone returns a handle onto the same underlying map.
func (s *Memory) Clone() *Memory { return &Memory{st: s.st} }

func (s *Memory) Name() string { return "memory" }

func (s *Memory) Put(key, value []byte) error {
	if len(key) == 0 {
		return errs.E(errs.KindStorage, "put", ErrEmptyKey)
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.st.closed {
		return errs.E(errs.KindStorage, "put", ErrClosed)
	}
	s.st.m[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *Memory) Get(key []byte) ([]byte, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.st.closed {
		return nil, errs.E(errs.KindStorage, "get", ErrClosed)
	}
	v, ok := s.st.m[string(key)]
	if !ok {
		return nil, errs.E(errs.KindStorage, "get", ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

func (s *Memory) Delete(key []byte) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.st.closed {
		return errs.E(errs.KindStorage, "delete", ErrClosed)
	}
	delete(s.st.m, string(key))
	return nil
}

func (s *Memory) Has(key []byte) (bool, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.st.closed {
		return false, errs.E(errs.KindStorage, "has", ErrClosed)
	}
	_, ok := s.st.m[string(key)]
	return ok, nil
}

func (s *Memory) KeysWithPrefix(prefix []byte) ([][]byte, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.st.closed {
		return nil, errs.E(errs.KindStorage, "keys", ErrClosed)
	}
	var out [][]byte
	for k := range s.st.m {
		if bytes.HasPrefix([]byte(k), prefix) {
			out = append(out, []byte(k))
		}
	}
	return sortKeys(out), nil
}

// Close closes every clone.
func (s *Memory) Close() error {
	s.st.mu.Lock()
	s.st.closed = true
	s.st.mu.Unlock()
	return nil
}
