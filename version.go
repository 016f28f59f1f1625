package arke

import (
	"context"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/arke_errors"
)

// Mutation is a field-level change request against some base version.
// Nil/empty fields are left untouched. Mutations are re-expressible
// against any base, which is what lets the write coordinator replay
// them on a fresh tip after losing a race. Status transitions (merge,
// unmerge) are not mutations; they are committed single-shot.
type Mutation struct {
	Type        *string
	Label       *string
	Description *string
	Note        *string
	ParentID    *aid.ID

	SetComponents    map[string]CID
	RemoveComponents []string

	AddChildren    []aid.ID
	RemoveChildren []aid.ID
}

func (mut *Mutation) Empty() bool {
	return mut.Type == nil && mut.Label == nil && mut.Description == nil &&
		mut.Note == nil && mut.ParentID == nil &&
		len(mut.SetComponents) == 0 && len(mut.RemoveComponents) == 0 &&
		len(mut.AddChildren) == 0 && len(mut.RemoveChildren) == 0
}

// ValidateLinks rejects cross-namespace ids referenced by the mutation.
func (mut *Mutation) ValidateLinks(network aid.Network) error {
	if mut.ParentID != nil && *mut.ParentID != aid.BadID {
		if err := aid.ValidateNetwork(*mut.ParentID, network); err != nil {
			return err
		}
	}
	for _, ch := range mut.AddChildren {
		if err := aid.ValidateNetwork(ch, network); err != nil {
			return err
		}
	}
	return nil
}

// conflictsWith reports whether replaying the mutation on newBase
// would silently overwrite a change made since callerBase: true when
// any field the mutation touches differs between the two bases.
// Child add/remove are set operations and never conflict.
func (mut *Mutation) conflictsWith(callerBase, newBase *Manifest) bool {
	if mut.Type != nil && callerBase.Type != newBase.Type {
		return true
	}
	if mut.Label != nil && callerBase.Label != newBase.Label {
		return true
	}
	if mut.Description != nil && callerBase.Description != newBase.Description {
		return true
	}
	if mut.Note != nil && callerBase.Note != newBase.Note {
		return true
	}
	if mut.ParentID != nil && callerBase.ParentID != newBase.ParentID {
		return true
	}
	for name := range mut.SetComponents {
		if callerBase.Components[name] != newBase.Components[name] {
			return true
		}
	}
	for _, name := range mut.RemoveComponents {
		if callerBase.Components[name] != newBase.Components[name] {
			return true
		}
	}
	return false
}

func (mut *Mutation) apply(next *Manifest) {
	if mut.Type != nil {
		next.Type = *mut.Type
	}
	if mut.Label != nil {
		next.Label = *mut.Label
	}
	if mut.Description != nil {
		next.Description = *mut.Description
	}
	if mut.Note != nil {
		next.Note = *mut.Note
	}
	if mut.ParentID != nil {
		next.ParentID = *mut.ParentID
	}
	if len(mut.SetComponents) > 0 && next.Components == nil {
		next.Components = make(map[string]CID, len(mut.SetComponents))
	}
	for name, cid := range mut.SetComponents {
		next.Components[name] = cid
	}
	for _, name := range mut.RemoveComponents {
		delete(next.Components, name)
	}
	for _, ch := range mut.AddChildren {
		if !slices.Contains(next.Children, ch) {
			next.Children = append(next.Children, ch)
		}
	}
	for _, ch := range mut.RemoveChildren {
		if i := slices.Index(next.Children, ch); i >= 0 {
			next.Children = slices.Delete(next.Children, i, i+1)
		}
	}
}

// buildNextVersion computes the candidate manifest for a mutation on
// top of base. Pure: base is never touched, so losing the subsequent
// CAS costs nothing but the recompute.
func buildNextVersion(base *Manifest, baseCID CID, mut *Mutation, now, createdAt time.Time) *Manifest {
	next := base.Clone()
	next.Version = base.Version + 1
	next.Previous = baseCID
	next.Timestamp = now
	next.CreatedAt = createdAt
	mut.apply(next)
	return next
}

// walkLimit bounds previous-link traversals. A chain longer than this
// is taken as evidence of corruption, not a legitimate history.
const walkLimit = 1 << 20

// chain reads manifests out of the object store, walking previous
// links. Manifests are immutable, so the cache never invalidates.
type chain struct {
	objects ObjectStore
	cache   *lru.Cache[CID, *Manifest]
}

func newChain(objects ObjectStore, cacheSize int) *chain {
	cache, _ := lru.New[CID, *Manifest](cacheSize)
	return &chain{objects: objects, cache: cache}
}

func (c *chain) manifest(ctx context.Context, cid CID) (*Manifest, error) {
	if m, ok := c.cache.Get(cid); ok {
		return m, nil
	}
	data, err := c.objects.Get(ctx, cid)
	if err != nil {
		return nil, err
	}
	m, err := DecodeManifest(data)
	if err != nil {
		return nil, err
	}
	c.cache.Add(cid, m)
	return m, nil
}

// at walks back from a manifest to the requested version number.
// ErrUnknownVersion if the version is not on the chain.
func (c *chain) at(ctx context.Context, from *Manifest, fromCID CID, version uint64) (*Manifest, CID, error) {
	if version == 0 || version > from.Version {
		return nil, NoCID, arke_errors.ErrUnknownVersion
	}
	m, cid := from, fromCID
	seen := make(map[CID]struct{})
	for steps := 0; steps < walkLimit; steps++ {
		if m.Version == version {
			return m, cid, nil
		}
		if m.Previous == NoCID {
			return nil, NoCID, arke_errors.ErrUnknownVersion
		}
		if _, dup := seen[m.Previous]; dup {
			return nil, NoCID, arke_errors.ErrChainBroken
		}
		seen[m.Previous] = struct{}{}
		prev, err := c.manifest(ctx, m.Previous)
		if err != nil {
			return nil, NoCID, err
		}
		if prev.Version >= m.Version {
			return nil, NoCID, arke_errors.ErrChainBroken
		}
		m, cid = prev, m.Previous
	}
	return nil, NoCID, arke_errors.ErrChainBroken
}

// createdAt answers the entity's original creation time. Normally it
// is carried forward on every version; a zero value means a chain
// written before that invariant held, so walk back to version 1.
func (c *chain) createdAt(ctx context.Context, m *Manifest, cid CID) (time.Time, error) {
	if !m.CreatedAt.IsZero() {
		return m.CreatedAt, nil
	}
	genesis, _, err := c.at(ctx, m, cid, 1)
	if err != nil {
		return time.Time{}, err
	}
	return genesis.CreatedAt, nil
}
