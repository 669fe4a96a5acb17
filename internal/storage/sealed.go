package storage

import (
	"p2p-overlay/internal/crypto"
	"p2p-overlay/internal/errs"
)

// Sealed encrypts values at rest with XChaCha20-Poly1305. Keys stay in the
// clear; each value is bound to its key.
type Sealed struct {
	Storage
	key crypto.SealKey
}

func NewSealed(inner Storage, key crypto.SealKey) *Sealed {
	return &Sealed{Storage: inner, key: key}
}

func (s *Sealed) Name() string { return "sealed-" + s.Storage.Name() }

func (s *Sealed) Put(key, value []byte) error {
	ct, err := crypto.Seal(s.key, value, key)
	if err != nil {
		return errs.E(errs.KindStorage, "put", err)
	}
	return s.Storage.Put(key, ct)
}

func (s *Sealed) Get(key []byte) ([]byte, error) {
	ct, err := s.Storage.Get(key)
	if err != nil {
		return nil, err
	}
	pt, err := crypto.Open(s.key, ct, key)
	if err != nil {
		return nil, errs.E(errs.KindStorage, "get", err)
	}
	return pt, nil
}
