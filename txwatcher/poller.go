package txwatcher

import (
	"context"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/roschler/ethereum-band-battles-sub001/bandgame"
)

// DefaultPollInterval is how often waiters are checked when no interval is
// configured.
const DefaultPollInterval = time.Second

// Broadcaster publishes a terminal result to everyone interested in the
// channel. Delivery is best effort: the returned flag/error are only
// logged, a confirmation stands whether or not anyone heard about it.
type Broadcaster interface {
	Publish(channelID string, res Result) (bool, error)
}

// Poller drives every live waiter toward a terminal state on a fixed
// interval. Each tick charges the interval to the waiter, times it out if
// its budget is spent, and otherwise evaluates its confirm predicate.
// Exactly one tick runs at a time.
type Poller struct {
	log      slog.Logger
	bcast    Broadcaster
	interval time.Duration

	tickMu sync.Mutex
	pool   *Pool
	quit   chan struct{}
}

func NewPoller(log slog.Logger, bcast Broadcaster, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		log:      log,
		bcast:    bcast,
		interval: interval,
		pool:     NewPool(),
		quit:     make(chan struct{}),
	}
}

// Interval returns the configured poll interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// ActiveCount returns how many waiters are still being polled.
func (p *Poller) ActiveCount() int { return p.pool.ActiveCount() }

// StartWaiting registers a confirmation request. The predicate is evaluated
// every tick until it reports true or timeout of the budget; onSuccess (may be
// nil) runs once, before the success broadcast.
func (p *Poller) StartWaiting(confirm ConfirmFunc, onSuccess OnSuccessFunc,
	timeout time.Duration, correlationID string, evCtx bandgame.EventContext,
	kind string) (Handle, error) {

	w := &Waiter{
		Kind:          kind,
		CorrelationID: correlationID,
		Context:       evCtx,
		Confirm:       confirm,
		OnSuccess:     onSuccess,
		Timeout:       timeout,
	}
	h, err := p.pool.Add(w)
	if err != nil {
		return Handle{}, err
	}
	p.log.Debugf("watcher: waiter %s added (kind=%s corr=%s timeout=%v)",
		w.ID, kind, correlationID, timeout)
	return h, nil
}

// Cancel marks the waiter deleted before the next tick observes it. Best
// effort and idempotent; a tick already in flight may still complete the
// waiter normally.
func (p *Poller) Cancel(h Handle) {
	if p.pool.cancel(h) {
		p.log.Debugf("watcher: waiter %s cancelled", h.id)
	}
}

func (p *Poller) Stop() { close(p.quit) }

// Run polls on the configured interval until the context is done or Stop
// is called.
func (p *Poller) Run(ctx context.Context) {
	p.log.Infof("watcher: started (interval=%v)", p.interval)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	defer p.log.Infof("watcher: stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case <-t.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single tick over every live waiter. Exported so tests and
// callers with their own scheduling can drive time explicitly.
func (p *Poller) PollOnce(ctx context.Context) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	entries := p.pool.snapshot()
	if len(entries) == 0 {
		return
	}
	p.log.Debugf("watcher: poll tick; slots=%d active=%d", len(entries), p.pool.ActiveCount())
	for _, e := range entries {
		p.evalWaiter(ctx, e.idx, e.w)
	}
}

// evalWaiter advances one waiter by one tick. Nothing that goes wrong here
// may abort the rest of the tick: predicate errors leave the waiter active
// for retry, onSuccess and broadcast failures are logged and the waiter is
// retired anyway.
func (p *Poller) evalWaiter(ctx context.Context, idx int, w *Waiter) {
	switch p.pool.stateOf(w) {
	case StateDeleted:
		return
	case StateConfirmed, StateTimedOut:
		// Terminal but not yet cleaned up (an earlier tick was
		// interrupted between transition and retire). Just free it.
		p.pool.retire(idx, w)
		return
	}

	elapsed := p.pool.bumpElapsed(w, p.interval)
	if elapsed >= w.Timeout {
		if !p.pool.transition(w, StateActive, StateTimedOut) {
			return
		}
		p.log.Infof("watcher: waiter %s (kind=%s) timed out after %v", w.ID, w.Kind, elapsed)
		p.publish(w, Result{
			Success:       false,
			Reason:        ReasonTimeout,
			CorrelationID: w.CorrelationID,
			Kind:          w.Kind,
			Context:       w.Context,
			At:            time.Now(),
		})
		p.pool.retire(idx, w)
		return
	}

	confirmed, err := w.Confirm(ctx)
	if err != nil {
		// Transient: the check didn't run, so it proves nothing either
		// way. Retry next tick.
		p.log.Warnf("watcher: confirm check for waiter %s failed (will retry): %v", w.ID, err)
		return
	}
	if !confirmed {
		return
	}

	if !p.pool.transition(w, StateActive, StateConfirmed) {
		return
	}
	p.log.Infof("watcher: waiter %s (kind=%s) confirmed after %v", w.ID, w.Kind, elapsed)

	if w.OnSuccess != nil {
		if err := w.OnSuccess(ctx); err != nil {
			// The confirmation stands, but the follow-up didn't run, so
			// don't tell the world it all worked. Operators reconcile
			// these from the logs / store out of band.
			p.log.Errorf("watcher: onSuccess for waiter %s failed; suppressing broadcast: %v", w.ID, err)
			p.pool.retire(idx, w)
			return
		}
	}

	p.publish(w, Result{
		Success:       true,
		CorrelationID: w.CorrelationID,
		Kind:          w.Kind,
		Context:       w.Context,
		At:            time.Now(),
	})
	p.pool.retire(idx, w)
}

func (p *Poller) publish(w *Waiter, res Result) {
	if p.bcast == nil {
		return
	}
	delivered, err := p.bcast.Publish(w.Context.ChannelID, res)
	if err != nil {
		p.log.Warnf("watcher: broadcast for waiter %s failed: %v", w.ID, err)
		return
	}
	if !delivered {
		p.log.Debugf("watcher: broadcast for waiter %s reached no listeners", w.ID)
	}
}
