package arke

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/arke_errors"
)

// FileTipStore keeps one tip file per entity under the sharded layout
//
//	root/{main|test}/{b1}/{b2}/{id}
//
// The shard buckets come from the id's last four characters; the first
// characters are a timestamp and would pile everything created in the
// same hour into one directory. Networks get disjoint subtrees.
//
// A cross-process file lock guards the read-compare-rename sequence.
// The swap itself is a rename, so a crashed writer never leaves a
// half-written tip behind.
type FileTipStore struct {
	root  string
	locks tipLocks
}

func NewFileTipStore(root string) (*FileTipStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileTipStore{root: root}, nil
}

func (t *FileTipStore) tipPath(id aid.ID) string {
	b1, b2 := id.ShardPath()
	return filepath.Join(t.root, string(id.Network()), b1, b2, string(id))
}

func (t *FileTipStore) lockPath(id aid.ID) string {
	return t.tipPath(id) + ".lock"
}

func (t *FileTipStore) read(path string) (CID, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NoCID, arke_errors.ErrEntityUnknown
	}
	if err != nil {
		return NoCID, err
	}
	return CID(strings.TrimSpace(string(data))), nil
}

func (t *FileTipStore) write(path string, cid CID) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(cid), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (t *FileTipStore) Load(_ context.Context, id aid.ID) (CID, error) {
	return t.read(t.tipPath(id))
}

func (t *FileTipStore) Create(_ context.Context, id aid.ID, cid CID) error {
	path := t.tipPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	mu := t.locks.stripe(id)
	mu.Lock()
	defer mu.Unlock()
	fl := flock.New(t.lockPath(id))
	if err := fl.Lock(); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()
	if _, err := t.read(path); err == nil {
		return arke_errors.ErrEntityExists
	} else if err != arke_errors.ErrEntityUnknown {
		return err
	}
	return t.write(path, cid)
}

func (t *FileTipStore) CompareAndSwap(_ context.Context, id aid.ID, old, new CID) (CID, bool, error) {
	path := t.tipPath(id)
	mu := t.locks.stripe(id)
	mu.Lock()
	defer mu.Unlock()
	// An entity that was never created has no shard directory to place
	// the flock file in; check before locking.
	if _, err := t.read(path); err != nil {
		return NoCID, false, err
	}
	fl := flock.New(t.lockPath(id))
	if err := fl.Lock(); err != nil {
		return NoCID, false, err
	}
	defer func() { _ = fl.Unlock() }()
	cur, err := t.read(path)
	if err != nil {
		return NoCID, false, err
	}
	if cur != old {
		return cur, false, nil
	}
	if err = t.write(path, new); err != nil {
		return cur, false, err
	}
	return new, true, nil
}
