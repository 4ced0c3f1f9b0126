package txwatcher

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roschler/ethereum-band-battles-sub001/bandgame"
)

// ErrInvalidWaiter is returned by Add when the waiter has no confirm
// predicate.
var ErrInvalidWaiter = errors.New("waiter needs a confirm predicate")

// Pool holds the set of outstanding waiters. Slots of retired waiters are
// reused via a free list instead of shrinking the slice, so sustained
// create/retire churn doesn't grow memory. There is no capacity bound;
// concurrency is bounded by however many confirmations callers keep open.
type Pool struct {
	mu    sync.Mutex
	slots []*Waiter
	free  []int // indices of deleted slots, reused LIFO
}

func NewPool() *Pool {
	return &Pool{}
}

// Add registers a waiter, reusing a deleted slot when one is free. The
// waiter is owned by the pool from here on.
func (p *Pool) Add(w *Waiter) (Handle, error) {
	if w == nil || w.Confirm == nil {
		return Handle{}, ErrInvalidWaiter
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.State = StateActive
	w.Elapsed = 0

	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		p.slots[idx] = w
		return Handle{idx: idx, id: w.ID}, nil
	}
	p.slots = append(p.slots, w)
	return Handle{idx: len(p.slots) - 1, id: w.ID}, nil
}

type entry struct {
	idx int
	w   *Waiter
}

// snapshot returns the slots as of now. Waiters added during a tick are
// picked up on the next one; waiters retired during the tick are skipped
// by their state.
func (p *Pool) snapshot() []entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]entry, 0, len(p.slots))
	for i, w := range p.slots {
		if w == nil {
			continue
		}
		out = append(out, entry{idx: i, w: w})
	}
	return out
}

func (p *Pool) stateOf(w *Waiter) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return w.State
}

// transition moves w from one state to another, reporting whether w was in
// the expected from state. A false return means something else (a cancel,
// typically) got there first.
func (p *Pool) transition(w *Waiter, from, to State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.State != from {
		return false
	}
	w.State = to
	return true
}

// bumpElapsed charges one poll interval to the waiter and returns the new
// elapsed time.
func (p *Pool) bumpElapsed(w *Waiter, interval time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.Elapsed += interval
	return w.Elapsed
}

// retire frees the slot. The predicate and context are cleared so a stale
// waiter can never be evaluated through a reused slot. Idempotent.
func (p *Pool) retire(idx int, w *Waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.slots) || p.slots[idx] != w {
		return
	}
	if w.State != StateDeleted {
		w.State = StateDeleted
		p.free = append(p.free, idx)
	}
	w.Confirm = nil
	w.OnSuccess = nil
	w.Context = bandgame.EventContext{}
}

// cancel marks the handle's waiter deleted if it is still the active waiter
// in that slot. Best effort: a tick already evaluating the waiter may still
// complete it normally. Only the state flips here — a tick past its state
// check may be about to invoke the waiter's closures, so clearing them is
// retire's job, never cancel's.
func (p *Pool) cancel(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.idx < 0 || h.idx >= len(p.slots) {
		return false
	}
	w := p.slots[h.idx]
	if w == nil || w.ID != h.id || w.State != StateActive {
		return false
	}
	w.State = StateDeleted
	p.free = append(p.free, h.idx)
	return true
}

// ActiveCount returns how many waiters are not deleted.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.slots {
		if w != nil && w.State != StateDeleted {
			n++
		}
	}
	return n
}
