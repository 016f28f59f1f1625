package arke

import (
	"context"
	"slices"

	"github.com/cockroachdb/pebble"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Arke-Institute/arke-ipfs-api-sub001/arke_errors"
)

// ObjectStore is the content-addressed arena of immutable objects.
// Put is idempotent: the same bytes always land under the same CID.
// The production deployment backs this with an IPFS gateway; the
// implementations here serve embedded stores and tests.
type ObjectStore interface {
	Put(ctx context.Context, data []byte) (CID, error)
	Get(ctx context.Context, cid CID) ([]byte, error)
}

// MemObjectStore keeps objects in process memory.
type MemObjectStore struct {
	objs *xsync.MapOf[CID, []byte]
}

func NewMemObjectStore() *MemObjectStore {
	return &MemObjectStore{objs: xsync.NewMapOf[CID, []byte]()}
}

func (s *MemObjectStore) Put(_ context.Context, data []byte) (CID, error) {
	cid := SumCID(data)
	s.objs.LoadOrStore(cid, slices.Clone(data))
	return cid, nil
}

func (s *MemObjectStore) Get(_ context.Context, cid CID) ([]byte, error) {
	data, ok := s.objs.Load(cid)
	if !ok {
		return nil, arke_errors.ErrObjectUnknown
	}
	return slices.Clone(data), nil
}

// PebbleObjectStore persists objects under 'O'-prefixed keys.
type PebbleObjectStore struct {
	db *pebble.DB
}

func NewPebbleObjectStore(db *pebble.DB) *PebbleObjectStore {
	return &PebbleObjectStore{db: db}
}

func objKey(cid CID) []byte {
	key := make([]byte, 0, 1+len(cid))
	key = append(key, 'O')
	return append(key, cid...)
}

func (s *PebbleObjectStore) Put(_ context.Context, data []byte) (CID, error) {
	cid := SumCID(data)
	// Objects are immutable; rewriting the same key is a no-op.
	if err := s.db.Set(objKey(cid), data, pebble.NoSync); err != nil {
		return NoCID, err
	}
	return cid, nil
}

func (s *PebbleObjectStore) Get(_ context.Context, cid CID) ([]byte, error) {
	val, closer, err := s.db.Get(objKey(cid))
	if err == pebble.ErrNotFound {
		return nil, arke_errors.ErrObjectUnknown
	}
	if err != nil {
		return nil, err
	}
	data := slices.Clone(val)
	_ = closer.Close()
	return data, nil
}
