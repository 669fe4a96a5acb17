package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"p2p-overlay/internal/errs"
	"p2p-overlay/internal/proto"
	"p2p-overlay/internal/storage"
)

var peerPrefix = []byte("peers/")

type peerRecord struct {
	Info         proto.PeerInfo `json:"info"`
	LastSeen     time.Time      `json:"last_seen"`
	LastSuccess  time.Time      `json:"last_success"`
	FailureCount int            `json:"failures"`
}

// PeerStore remembers peers across restarts. It is also a Discovery that
// replays the remembered peers with few recent failures.
type PeerStore struct {
	db          storage.Storage
	MaxFailures int
	Limit       int

	mu  sync.Mutex
	now func() time.Time
}

func NewPeerStore(db storage.Storage) *PeerStore {
	return &PeerStore{db: db, MaxFailures: 5, now: time.Now}
}

func peerKey(id proto.NodeID) []byte {
	return append(slices.Clone(peerPrefix), id.Hex()...)
}

func (ps *PeerStore) load(id proto.NodeID) (*peerRecord, error) {
	raw, err := ps.db.Get(peerKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r peerRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errs.E(errs.KindSerialization, "peerstore decode", err)
	}
	return &r, nil
}

func (ps *PeerStore) save(r *peerRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errs.E(errs.KindSerialization, "peerstore encode", err)
	}
	return ps.db.Put(peerKey(r.Info.ID), data)
}

// update applies f to the record for info.ID, creating it if needed.
// A non-empty address in info replaces the stored one.
func (ps *PeerStore) update(info proto.PeerInfo, f func(*peerRecord)) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	r, err := ps.load(info.ID)
	if err != nil {
		return err
	}
	if r == nil {
		r = &peerRecord{Info: info.Clone()}
	} else if info.HasAddress() {
		r.Info = info.Clone()
	}
	f(r)
	return ps.save(r)
}

// NoteSeen records that info was heard of.
func (ps *PeerStore) NoteSeen(info proto.PeerInfo) error {
	return ps.update(info, func(r *peerRecord) { r.LastSeen = ps.now() })
}

func (ps *PeerStore) NoteSuccess(info proto.PeerInfo) error {
	return ps.update(info, func(r *peerRecord) {
		now := ps.now()
		r.LastSeen = now
		r.LastSuccess = now
		r.FailureCount = 0
	})
}

func (ps *PeerStore) NoteFailure(info proto.PeerInfo) error {
	return ps.update(info, func(r *peerRecord) {
		r.FailureCount++
		r.LastSeen = ps.now()
	})
}

func (ps *PeerStore) Failures(id proto.NodeID) (int, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	r, err := ps.load(id)
	if err != nil || r == nil {
		return 0, err
	}
	return r.FailureCount, nil
}

func (ps *PeerStore) Forget(id proto.NodeID) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.db.Delete(peerKey(id))
}

// Candidates returns stored peers with at most maxFailures failures, most
// recently successful first. limit <= 0 means no limit.
func (ps *PeerStore) Candidates(maxFailures, limit int) ([]proto.PeerInfo, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	keys, err := ps.db.KeysWithPrefix(peerPrefix)
	if err != nil {
		return nil, err
	}
	recs := make([]*peerRecord, 0, len(keys))
	for _, k := range keys {
		raw, err := ps.db.Get(k)
		if err != nil {
			continue
		}
		var r peerRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		if r.FailureCount > maxFailures || !r.Info.HasAddress() {
			continue
		}
		recs = append(recs, &r)
	}
	slices.SortStableFunc(recs, func(a, b *peerRecord) int {
		return b.LastSuccess.Compare(a.LastSuccess)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]proto.PeerInfo, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Info)
	}
	return out, nil
}

func (ps *PeerStore) Name() string { return "peerstore" }
func (ps *PeerStore) Start() error { return nil }
func (ps *PeerStore) Stop() error  { return nil }

func (ps *PeerStore) Discover(ctx context.Context) ([]proto.PeerInfo, error) {
	out, err := ps.Candidates(ps.MaxFailures, ps.Limit)
	if err != nil {
		return nil, errs.E(errs.KindDiscovery, "peerstore", fmt.Errorf("candidates: %w", err))
	}
	return out, nil
}
