package arke

import (
	"context"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/cockroachdb/pebble"
	"github.com/learn-decentralized-systems/toytlv"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/arke_errors"
)

// TipStore holds the single mutable pointer per entity: id -> CID of
// the current manifest. All coordination is optimistic; the only write
// primitives are create-if-absent and compare-and-swap.
type TipStore interface {
	// Load returns the current tip, ErrEntityUnknown if none.
	Load(ctx context.Context, id aid.ID) (CID, error)
	// Create installs the version-1 pointer, ErrEntityExists if present.
	Create(ctx context.Context, id aid.ID, cid CID) error
	// CompareAndSwap replaces the pointer iff it still equals old.
	// On failure it reports the actual pointer so callers can rebase.
	CompareAndSwap(ctx context.Context, id aid.ID, old, new CID) (actual CID, swapped bool, err error)
}

// MemTipStore is a lock-free in-memory tip store.
type MemTipStore struct {
	tips *xsync.MapOf[aid.ID, CID]
}

func NewMemTipStore() *MemTipStore {
	return &MemTipStore{tips: xsync.NewMapOf[aid.ID, CID]()}
}

func (t *MemTipStore) Load(_ context.Context, id aid.ID) (CID, error) {
	cid, ok := t.tips.Load(id)
	if !ok {
		return NoCID, arke_errors.ErrEntityUnknown
	}
	return cid, nil
}

func (t *MemTipStore) Create(_ context.Context, id aid.ID, cid CID) error {
	if _, loaded := t.tips.LoadOrStore(id, cid); loaded {
		return arke_errors.ErrEntityExists
	}
	return nil
}

func (t *MemTipStore) CompareAndSwap(_ context.Context, id aid.ID, old, new CID) (CID, bool, error) {
	var swapped, missing bool
	var actual CID
	t.tips.Compute(id, func(cur CID, loaded bool) (CID, bool) {
		if !loaded {
			missing = true
			return cur, true
		}
		if cur == old {
			swapped = true
			actual = new
			return new, false
		}
		actual = cur
		return cur, false
	})
	if missing {
		return NoCID, false, arke_errors.ErrEntityUnknown
	}
	return actual, swapped, nil
}

const tipStripes = 256

// tipLocks stripes per-entity mutexes. Pebble has no conditional
// write, so the read-compare-set sequence runs under the entity's
// stripe lock.
type tipLocks [tipStripes]sync.Mutex

func (l *tipLocks) stripe(id aid.ID) *sync.Mutex {
	return &l[xxhash.Sum64String(string(id))%tipStripes]
}

// PebbleTipStore persists tips under 'T'-prefixed keys. The key
// carries the network tag and the two shard buckets ahead of the id,
// so the on-disk ordering mirrors the sharded directory layout and
// the two networks never share a key range.
type PebbleTipStore struct {
	db    *pebble.DB
	locks tipLocks
}

func NewPebbleTipStore(db *pebble.DB) *PebbleTipStore {
	return &PebbleTipStore{db: db}
}

func tipKey(id aid.ID) []byte {
	b1, b2 := id.ShardPath()
	key := make([]byte, 0, 2+4+len(id))
	key = append(key, 'T')
	if id.Network() == aid.Test {
		key = append(key, 't')
	} else {
		key = append(key, 'm')
	}
	key = append(key, b1...)
	key = append(key, b2...)
	return append(key, id...)
}

func tipRecord(cid CID) []byte {
	return toytlv.Record('C', []byte(cid))
}

func tipRecordCID(val []byte) CID {
	body, _ := toytlv.Take('C', val)
	return CID(body)
}

func (t *PebbleTipStore) load(id aid.ID) (CID, error) {
	val, closer, err := t.db.Get(tipKey(id))
	if err == pebble.ErrNotFound {
		return NoCID, arke_errors.ErrEntityUnknown
	}
	if err != nil {
		return NoCID, err
	}
	cid := tipRecordCID(val)
	_ = closer.Close()
	return cid, nil
}

func (t *PebbleTipStore) Load(_ context.Context, id aid.ID) (CID, error) {
	return t.load(id)
}

func (t *PebbleTipStore) Create(_ context.Context, id aid.ID, cid CID) error {
	lock := t.locks.stripe(id)
	lock.Lock()
	defer lock.Unlock()
	_, err := t.load(id)
	if err == nil {
		return arke_errors.ErrEntityExists
	}
	if err != arke_errors.ErrEntityUnknown {
		return err
	}
	return t.db.Set(tipKey(id), tipRecord(cid), pebble.Sync)
}

func (t *PebbleTipStore) CompareAndSwap(_ context.Context, id aid.ID, old, new CID) (CID, bool, error) {
	lock := t.locks.stripe(id)
	lock.Lock()
	defer lock.Unlock()
	cur, err := t.load(id)
	if err != nil {
		return NoCID, false, err
	}
	if cur != old {
		return cur, false, nil
	}
	if err = t.db.Set(tipKey(id), tipRecord(new), pebble.Sync); err != nil {
		return cur, false, err
	}
	return new, true, nil
}
