package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"p2p-overlay/internal/errs"
)

const (
	bKV       = "kv"
	defaultTO = 2 * time.Second
)

// Bolt is a BoltDB-backed store with a single bucket.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) a BoltDB database at path.
func OpenBolt(path string) (*Bolt, error) {
	if path == "" {
		return nil, errs.E(errs.KindStorage, "open bolt", errors.New("empty db path"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.E(errs.KindStorage, "open bolt", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, errs.E(errs.KindStorage, "open bolt", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bKV))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errs.E(errs.KindStorage, "open bolt", err)
	}
	return &Bolt{db: db}, nil
}

func (s *Bolt) Name() string { return "bolt" }

func (s *Bolt) Close() error { return s.db.Close() }

func (s *Bolt) Put(key, value []byte) error {
	if len(key) == 0 {
		return errs.E(errs.KindStorage, "put", ErrEmptyKey)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bKV)).Put(key, value)
	})
	return s.wrap("put", err)
}

func (s *Bolt) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bKV)).Get(key)
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction
		out = append([]byte{}, v...)
		return nil
	})
	return out, s.wrap("get", err)
}

func (s *Bolt) Delete(key []byte) error {
	if len(key) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bKV)).Delete(key)
	})
	return s.wrap("delete", err)
}

func (s *Bolt) Has(key []byte) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket([]byte(bKV)).Get(key) != nil
		return nil
	})
	return ok, s.wrap("has", err)
}

func (s *Bolt) KeysWithPrefix(prefix []byte) ([][]byte, error) {
	var out [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bKV)).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			out = append(out, append([]byte(nil), k...))
		}
		return nil
	})
	return out, s.wrap("keys", err)
}

func (s *Bolt) wrap(op string, err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		err = ErrClosed
	}
	return errs.E(errs.KindStorage, op, err)
}
