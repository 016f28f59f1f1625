package arke

import (
	"context"
	"math/rand"
	"time"

	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/arke_errors"
)

// CommitMutation is the race-resolving write path. The caller names
// the tip it computed the mutation against (expect); the coordinator
// content-addresses the candidate and swaps the pointer.
//
// When the tip has moved past expect — before the call or mid-race —
// the mutation is not simply failed. If it is still independently
// applicable against the actual tip (nothing it touches was changed
// by the interleaving writers), it is replayed on the new base and
// the swap retried, bounded by MaxWriteAttempts and the context
// deadline. Two concurrent updates to distinct components both
// survive this way. A mutation that overlaps the interleaved changes
// gets CasError instead: only the caller can resolve that.
func (s *Store) CommitMutation(ctx context.Context, id aid.ID, expect CID, mut *Mutation) (*Manifest, CID, error) {
	if err := aid.ValidateNetwork(id, s.opts.Network); err != nil {
		return nil, NoCID, err
	}
	if mut.Empty() {
		return nil, NoCID, arke_errors.ErrEmptyMutation
	}
	if err := mut.ValidateLinks(s.opts.Network); err != nil {
		return nil, NoCID, err
	}

	cur, err := s.tips.Load(ctx, id)
	if err != nil {
		return nil, NoCID, err
	}
	callerBase, err := s.chain.manifest(ctx, expect)
	if err != nil {
		// The expected cid names nothing we know; the view is not
		// just stale, it is foreign. Refresh and resubmit.
		s.metrics.casMismatches.Inc()
		return nil, NoCID, &arke_errors.CasError{Expected: string(expect), Actual: string(cur)}
	}
	base := callerBase
	if cur != expect {
		if base, err = s.rebase(ctx, mut, callerBase, expect, cur); err != nil {
			return nil, NoCID, err
		}
	}

	attempts := s.opts.MaxWriteAttempts
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err = s.backoff(ctx, attempt); err != nil {
				s.metrics.races.Inc()
				return nil, NoCID, &arke_errors.RaceError{Attempts: attempt, LastSeen: string(cur)}
			}
		}
		createdAt, err := s.chain.createdAt(ctx, base, cur)
		if err != nil {
			return nil, NoCID, err
		}
		next := buildNextVersion(base, cur, mut, s.opts.Clock(), createdAt)
		nextCID, err := s.putManifest(ctx, next)
		if err != nil {
			return nil, NoCID, err
		}
		actual, swapped, err := s.tips.CompareAndSwap(ctx, id, cur, nextCID)
		if err != nil {
			return nil, NoCID, err
		}
		if swapped {
			s.metrics.commits.Inc()
			s.metrics.commitAttempts.Observe(float64(attempt + 1))
			s.log.DebugCtx(ctx, "mutation committed",
				"id", id, "version", next.Version, "cid", nextCID, "attempt", attempt+1)
			s.broadcast(Event{ID: id, Op: "update", Version: next.Version, CID: nextCID})
			return next, nextCID, nil
		}
		// Another writer won; replay the mutation on its version.
		s.log.DebugCtx(ctx, "tip moved, rebasing", "id", id, "expected", cur, "actual", actual)
		if base, err = s.rebase(ctx, mut, callerBase, cur, actual); err != nil {
			return nil, NoCID, err
		}
		cur = actual
	}
	s.metrics.races.Inc()
	return nil, NoCID, &arke_errors.RaceError{Attempts: attempts, LastSeen: string(cur)}
}

// rebase decides whether a mutation computed against callerBase can
// be replayed on the actual tip. It can unless one of the fields it
// touches was changed by whoever moved the tip; semantic last-write-
// wins on the same field is exactly what this layer must not do
// silently.
func (s *Store) rebase(ctx context.Context, mut *Mutation, callerBase *Manifest, expect, actual CID) (*Manifest, error) {
	newBase, err := s.chain.manifest(ctx, actual)
	if err != nil {
		return nil, err
	}
	if mut.conflictsWith(callerBase, newBase) {
		s.metrics.casMismatches.Inc()
		return nil, &arke_errors.CasError{Expected: string(expect), Actual: string(actual)}
	}
	s.metrics.retries.Inc()
	return newBase, nil
}

// commitManifest is the single-shot variant for status transitions.
// Merge and unmerge cannot be replayed on a different base, so a lost
// CAS surfaces as a conflict instead of a retry.
func (s *Store) commitManifest(ctx context.Context, id aid.ID, expect CID, next *Manifest) (CID, error) {
	nextCID, err := s.putManifest(ctx, next)
	if err != nil {
		return NoCID, err
	}
	actual, swapped, err := s.tips.CompareAndSwap(ctx, id, expect, nextCID)
	if err != nil {
		return NoCID, err
	}
	if !swapped {
		s.metrics.casMismatches.Inc()
		return NoCID, &arke_errors.CasError{Expected: string(expect), Actual: string(actual)}
	}
	return nextCID, nil
}

// backoff sleeps before a retry: base delay doubling per attempt,
// capped, with uniform jitter so colliding writers desynchronize.
func (s *Store) backoff(ctx context.Context, attempt int) error {
	delay := s.opts.RetryBaseDelay << (attempt - 1)
	if delay > s.opts.RetryMaxDelay {
		delay = s.opts.RetryMaxDelay
	}
	delay += time.Duration(rand.Int63n(int64(delay) + 1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
