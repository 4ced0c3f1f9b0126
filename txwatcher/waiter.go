package txwatcher

import (
	"context"
	"time"

	"github.com/roschler/ethereum-band-battles-sub001/bandgame"
)

// ConfirmFunc checks whether the awaited ledger fact has become true.
// A false result with nil error means "not yet"; an error means the check
// itself could not run and will be retried on the next tick.
type ConfirmFunc func(ctx context.Context) (bool, error)

// OnSuccessFunc runs once after confirmation, before the result is
// broadcast. If it fails the broadcast is suppressed but the waiter is
// still retired; see Poller.
type OnSuccessFunc func(ctx context.Context) error

// State is the lifecycle position of a waiter.
type State int

const (
	StateActive State = iota
	StateConfirmed
	StateTimedOut
	// StateDeleted marks a slot free for reuse. A deleted waiter's
	// predicate and context are cleared and must never be read.
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateConfirmed:
		return "confirmed"
	case StateTimedOut:
		return "timedout"
	case StateDeleted:
		return "deleted"
	}
	return "unknown"
}

// Waiter tracks one outstanding confirmation request against the ledger.
// All state mutation happens under the owning pool's lock; callers hand the
// waiter to Pool.Add and then only touch it through handles.
type Waiter struct {
	ID            string
	Kind          string
	CorrelationID string
	Context       bandgame.EventContext

	Confirm   ConfirmFunc
	OnSuccess OnSuccessFunc

	Timeout time.Duration
	Elapsed time.Duration
	State   State
}

// Handle identifies a waiter slot. The id guards against the slot having
// been reused by a newer waiter by the time the handle is acted on.
type Handle struct {
	idx int
	id  string
}

// ID returns the waiter id the handle refers to.
func (h Handle) ID() string { return h.id }

// Result is the terminal outcome of a waiter (or of any correlated
// operation), broadcast to every interested party.
type Result struct {
	Success       bool
	Reason        string
	CorrelationID string
	Kind          string
	Context       bandgame.EventContext
	At            time.Time
}

// ReasonTimeout is the Reason carried by a timed-out waiter's result.
const ReasonTimeout = "timeout"
