package arke

import (
	"context"
	"slices"

	"github.com/cespare/xxhash"

	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/arke_errors"
)

// redirectDepthLimit bounds merged_into traversals. Redirect chains
// flatten on every retried merge, so a deep chain means corruption.
const redirectDepthLimit = 64

type MergeResult struct {
	SourceVersion uint64
	SourceCID     CID
	// ResolvedTarget is the live terminus actually merged into. It
	// differs from the requested target when that target was itself
	// merged away between the caller's read and this commit.
	ResolvedTarget aid.ID
}

type UnmergeResult struct {
	RestoredFrom uint64
	NewVersion   uint64
	CID          CID
	Manifest     *Manifest
}

func stripeOf(id aid.ID) int {
	return int(xxhash.Sum64String(string(id)) % tipStripes)
}

// lockStripes acquires the distinct stripe locks covering ids, in
// stripe-index order. One global acquisition order means two merges
// whose entity sets overlap always serialize: exactly one validates
// first and the loser observes the winner's commit.
func (s *Store) lockStripes(ids ...aid.ID) (unlock func()) {
	stripes := make([]int, 0, len(ids))
	for _, id := range ids {
		if st := stripeOf(id); !slices.Contains(stripes, st) {
			stripes = append(stripes, st)
		}
	}
	slices.Sort(stripes)
	for _, st := range stripes {
		s.mlocks[st].Lock()
	}
	return func() {
		for i := len(stripes) - 1; i >= 0; i-- {
			s.mlocks[stripes[i]].Unlock()
		}
	}
}

func stripeHeld(held []aid.ID, id aid.ID) bool {
	st := stripeOf(id)
	for _, h := range held {
		if stripeOf(h) == st {
			return true
		}
	}
	return false
}

// resolveTerminus follows merged_into links from target to the
// current live entity. Reaching src means the merge would close a
// redirect cycle and must be rejected.
func (s *Store) resolveTerminus(ctx context.Context, target, src aid.ID) (aid.ID, error) {
	cur := target
	seen := map[aid.ID]struct{}{}
	for depth := 0; depth < redirectDepthLimit; depth++ {
		if cur == src {
			return aid.BadID, arke_errors.ErrMergeCycleRejected
		}
		if _, dup := seen[cur]; dup {
			return aid.BadID, arke_errors.ErrChainBroken
		}
		seen[cur] = struct{}{}
		cid, err := s.tips.Load(ctx, cur)
		if err != nil {
			return aid.BadID, err
		}
		m, err := s.chain.manifest(ctx, cid)
		if err != nil {
			return aid.BadID, err
		}
		if m.Status != StatusMerged {
			return cur, nil
		}
		cur = m.MergedInto
	}
	return aid.BadID, arke_errors.ErrChainBroken
}

// Merge consolidates src into target: a new source version with
// status merged and a merged_into edge pointing at the target's live
// terminus. Legal only while src is active.
//
// Merge is a non-mergeable state transition, so unlike field
// mutations a lost CAS is never replayed: two merges of the same
// source cannot both win, and the loser gets the conflict.
func (s *Store) Merge(ctx context.Context, src, target aid.ID, expect CID, note string) (*MergeResult, error) {
	if err := aid.ValidateNetwork(src, s.opts.Network); err != nil {
		return nil, err
	}
	if err := aid.ValidateNetwork(target, s.opts.Network); err != nil {
		return nil, err
	}
	if src == target {
		s.metrics.cycleRejects.Inc()
		return nil, arke_errors.ErrMergeCycleRejected
	}

	// The terminus stripe must be held too: committing an edge to an
	// unlocked terminus lets a concurrent merge point the terminus back
	// at src between validation and commit, closing a cycle. The
	// terminus is only known after resolution, so the lock set widens
	// and validation reruns until the resolved terminus is covered.
	held := []aid.ID{src, target}
	for attempt := 0; attempt < redirectDepthLimit; attempt++ {
		res, terminus, err := s.mergeUnder(ctx, src, target, expect, note, held)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
		held = []aid.ID{src, target, terminus}
	}
	return nil, arke_errors.ErrChainBroken
}

// mergeUnder runs one merge attempt with the stripes of held locked.
// A terminus outside that set cannot be trusted; it is returned so the
// caller widens the lock set and revalidates.
func (s *Store) mergeUnder(ctx context.Context, src, target aid.ID, expect CID, note string, held []aid.ID) (*MergeResult, aid.ID, error) {
	unlock := s.lockStripes(held...)
	defer unlock()

	srcCID, err := s.tips.Load(ctx, src)
	if err != nil {
		return nil, aid.BadID, err
	}
	srcTip, err := s.chain.manifest(ctx, srcCID)
	if err != nil {
		return nil, aid.BadID, err
	}
	if srcTip.Status == StatusMerged {
		return nil, aid.BadID, arke_errors.ErrAlreadyMerged
	}
	if srcCID != expect {
		s.metrics.casMismatches.Inc()
		return nil, aid.BadID, &arke_errors.CasError{Expected: string(expect), Actual: string(srcCID)}
	}

	terminus, err := s.resolveTerminus(ctx, target, src)
	if err != nil {
		if err == arke_errors.ErrMergeCycleRejected {
			s.metrics.cycleRejects.Inc()
		}
		return nil, aid.BadID, err
	}
	if !stripeHeld(held, terminus) {
		return nil, terminus, nil
	}
	if terminus != target {
		s.metrics.mergeRedirects.Inc()
		s.log.DebugCtx(ctx, "merge target re-resolved",
			"src", src, "target", target, "terminus", terminus)
	}

	createdAt, err := s.chain.createdAt(ctx, srcTip, srcCID)
	if err != nil {
		return nil, aid.BadID, err
	}
	next := srcTip.Clone()
	next.Version = srcTip.Version + 1
	next.Previous = srcCID
	next.Timestamp = s.opts.Clock()
	next.CreatedAt = createdAt
	next.Status = StatusMerged
	next.MergedInto = terminus
	if note != "" {
		next.Note = note
	}

	nextCID, err := s.commitManifest(ctx, src, expect, next)
	if err != nil {
		return nil, aid.BadID, err
	}
	s.metrics.merges.Inc()
	s.log.InfoCtx(ctx, "entity merged", "src", src, "into", terminus, "version", next.Version)
	s.broadcast(Event{ID: src, Op: "merge", Version: next.Version, CID: nextCID})
	return &MergeResult{
		SourceVersion:  next.Version,
		SourceCID:      nextCID,
		ResolvedTarget: terminus,
	}, terminus, nil
}

// Unmerge reverses a merge: a new active version restored from a
// historical one. restoreFrom zero means the version immediately
// preceding the merge. The version counter always advances, so a
// merge/unmerge pair moves it by exactly two.
func (s *Store) Unmerge(ctx context.Context, id aid.ID, expect CID, restoreFrom uint64, note string) (*UnmergeResult, error) {
	if err := aid.ValidateNetwork(id, s.opts.Network); err != nil {
		return nil, err
	}
	cid, err := s.tips.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	tip, err := s.chain.manifest(ctx, cid)
	if err != nil {
		return nil, err
	}
	if tip.Status != StatusMerged {
		return nil, arke_errors.ErrNotMerged
	}
	if cid != expect {
		s.metrics.casMismatches.Inc()
		return nil, &arke_errors.CasError{Expected: string(expect), Actual: string(cid)}
	}

	if restoreFrom == 0 {
		restoreFrom = tip.Version - 1
	}
	restored, _, err := s.chain.at(ctx, tip, cid, restoreFrom)
	if err != nil {
		return nil, err
	}
	createdAt, err := s.chain.createdAt(ctx, tip, cid)
	if err != nil {
		return nil, err
	}

	next := restored.Clone()
	next.Version = tip.Version + 1
	next.Previous = cid
	next.Timestamp = s.opts.Clock()
	next.CreatedAt = createdAt
	next.Status = StatusActive
	next.MergedInto = aid.BadID
	if note != "" {
		next.Note = note
	}

	nextCID, err := s.commitManifest(ctx, id, expect, next)
	if err != nil {
		return nil, err
	}
	s.metrics.unmerges.Inc()
	s.log.InfoCtx(ctx, "entity unmerged",
		"id", id, "restored_from", restoreFrom, "version", next.Version)
	s.broadcast(Event{ID: id, Op: "unmerge", Version: next.Version, CID: nextCID})
	return &UnmergeResult{
		RestoredFrom: restoreFrom,
		NewVersion:   next.Version,
		CID:          nextCID,
		Manifest:     next,
	}, nil
}
