// Package storage provides the byte key/value stores used for persisted
// peers and DHT values.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrClosed   = errors.New("storage: store is closed")
	ErrEmptyKey = errors.New("storage: empty key")
)

// Storage is a flat byte-keyed store. Returned slices are owned by the
// caller.
type Storage interface {
	Name() string
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	KeysWithPrefix(prefix []byte) ([][]byte, error)
	Close() error
}

// Open returns the backend named by kind: "memory", "bolt" or "leveldb".
// path is ignored for memory.
func Open(kind, path string) (Storage, error) {
	switch kind {
	case "", "memory":
		return NewMemory(), nil
	case "bolt":
		return OpenBolt(path)
	case "leveldb":
		return OpenLevel(path)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", kind)
	}
}

func sortKeys(keys [][]byte) [][]byte {
	slices.SortFunc(keys, func(a, b []byte) int { return bytes.Compare(a, b) })
	return keys
}
