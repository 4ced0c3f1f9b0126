// Package events matches later-arriving broadcast results to the code that
// asked for them. A correlation id is registered with a one-shot
// continuation; when a result tagged with that id is delivered the
// continuation runs exactly once and the entry is gone.
package events

import (
	"errors"
	"runtime/debug"
	"sync"

	"github.com/decred/slog"

	"github.com/roschler/ethereum-band-battles-sub001/txwatcher"
)

// ErrDuplicateCorrelation is returned by Register while an entry for the
// same id is still pending. A caller error: ids are single-use until
// delivered.
var ErrDuplicateCorrelation = errors.New("correlation id already registered")

// Continuation runs on the first delivery for its id. Its error is logged,
// never propagated to the deliverer.
type Continuation func(res txwatcher.Result) error

// Registry is a map of pending correlation ids to one-shot continuations.
type Registry struct {
	log slog.Logger

	mu      sync.Mutex
	entries map[string]Continuation
}

func NewRegistry(log slog.Logger) *Registry {
	return &Registry{
		log:     log,
		entries: make(map[string]Continuation),
	}
}

// Register arms a continuation for the given id.
func (r *Registry) Register(correlationID string, cont Continuation) error {
	if correlationID == "" {
		return errors.New("empty correlation id")
	}
	if cont == nil {
		return errors.New("nil continuation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[correlationID]; ok {
		return ErrDuplicateCorrelation
	}
	r.entries[correlationID] = cont
	r.log.Debugf("events: registered correlation %s (%d pending)", correlationID, len(r.entries))
	return nil
}

// Deliver hands a result to the continuation registered for its id, if any.
// The entry is removed before the continuation runs, so a second delivery
// (duplicate broadcast, or the continuation re-entering Deliver) is a
// logged no-op. An unknown id is normal: every party sees every broadcast
// but only the originator registered a continuation.
func (r *Registry) Deliver(correlationID string, res txwatcher.Result) error {
	r.mu.Lock()
	cont, ok := r.entries[correlationID]
	if ok {
		delete(r.entries, correlationID)
	}
	r.mu.Unlock()

	if !ok {
		r.log.Warnf("events: no matching entry for correlation %s; ignoring", correlationID)
		return nil
	}
	r.dispatch(correlationID, cont, res)
	return nil
}

// Pending returns how many continuations are armed.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) dispatch(correlationID string, cont Continuation, res txwatcher.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("events: continuation for %s panicked: %v\n%s", correlationID, rec, debug.Stack())
		}
	}()
	if err := cont(res); err != nil {
		r.log.Errorf("events: continuation for %s failed: %v", correlationID, err)
	}
}
