// Provides common arke errors definitions.
package arke_errors

import (
	"errors"
	"fmt"
)

var (
	ErrEntityUnknown   = errors.New("arke: unknown entity")
	ErrEntityExists    = errors.New("arke: entity already exists")
	ErrObjectUnknown   = errors.New("arke: unknown object")
	ErrUnknownVersion  = errors.New("arke: version not present in chain")
	ErrNetworkMismatch = errors.New("arke: identifier does not belong to the network")

	ErrNotMerged          = errors.New("arke: entity is not merged")
	ErrAlreadyMerged      = errors.New("arke: entity is already merged")
	ErrMergeCycleRejected = errors.New("arke: merge would create a redirect cycle")
	ErrChainBroken        = errors.New("arke: version chain is cyclic or truncated")

	ErrCasMismatch   = errors.New("arke: tip moved, refresh and resubmit")
	ErrTipWriteRace  = errors.New("arke: tip write lost the race, retries exhausted")
	ErrEmptyMutation = errors.New("arke: mutation changes nothing")

	ErrClosed = errors.New("arke: store is closed")
)

// CasError is a stale-view conflict: the caller's expected tip no longer
// matches. Not retryable server-side; the client must reload the tip.
type CasError struct {
	Expected string
	Actual   string
}

func (e *CasError) Error() string {
	return fmt.Sprintf("%s (expected %s, actual %s)", ErrCasMismatch, e.Expected, e.Actual)
}

func (e *CasError) Unwrap() error { return ErrCasMismatch }

// RaceError is a transient-race conflict: the coordinator ran out of
// retry attempts. LastSeen is the tip observed on the final attempt so
// the caller can rebase and retry at its own level.
type RaceError struct {
	Attempts int
	LastSeen string
}

func (e *RaceError) Error() string {
	return fmt.Sprintf("%s (attempts %d, last seen %s)", ErrTipWriteRace, e.Attempts, e.LastSeen)
}

func (e *RaceError) Unwrap() error { return ErrTipWriteRace }
