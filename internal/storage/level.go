package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"p2p-overlay/internal/errs"
)

// Level is a LevelDB-backed store.
type Level struct {
	db *leveldb.DB
}

func OpenLevel(path string) (*Level, error) {
	if path == "" {
		return nil, errs.E(errs.KindStorage, "open leveldb", errors.New("empty db path"))
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errs.E(errs.KindStorage, "open leveldb", err)
	}
	return &Level{db: db}, nil
}

func (s *Level) Name() string { return "leveldb" }

func (s *Level) Close() error { return s.db.Close() }

func (s *Level) Put(key, value []byte) error {
	if len(key) == 0 {
		return errs.E(errs.KindStorage, "put", ErrEmptyKey)
	}
	return s.wrap("put", s.db.Put(key, value, nil))
}

func (s *Level) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err != nil {
		return nil, s.wrap("get", err)
	}
	return v, nil
}

func (s *Level) Delete(key []byte) error {
	return s.wrap("delete", s.db.Delete(key, nil))
}

func (s *Level) Has(key []byte) (bool, error) {
	ok, err := s.db.Has(key, nil)
	return ok, s.wrap("has", err)
}

func (s *Level) KeysWithPrefix(prefix []byte) ([][]byte, error) {
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out [][]byte
	for it.Next() {
		out = append(out, append([]byte(nil), it.Key()...))
	}
	return out, s.wrap("keys", it.Error())
}

func (s *Level) wrap(op string, err error) error {
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		err = ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		err = ErrClosed
	}
	return errs.E(errs.KindStorage, op, err)
}
