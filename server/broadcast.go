package server

import (
	"sync"

	"github.com/decred/slog"

	"github.com/roschler/ethereum-band-battles-sub001/txwatcher"
)

// resultHub fans terminal results out to subscribers. A subscriber watches
// one channel id, or every channel with the empty id. Sends are
// non-blocking best effort: a slow receiver drops updates rather than
// stalling the poller.
type resultHub struct {
	log slog.Logger

	mu   sync.RWMutex
	subs map[string]map[chan txwatcher.Result]struct{} // channelID -> set(chan)
}

func newResultHub(log slog.Logger) *resultHub {
	return &resultHub{
		log:  log,
		subs: make(map[string]map[chan txwatcher.Result]struct{}),
	}
}

// Subscribe adds a listener for channelID ("" for all channels) and returns
// the channel plus an unsubscribe func. First data arrives on the next
// publish.
func (h *resultHub) Subscribe(channelID string) (<-chan txwatcher.Result, func()) {
	ch := make(chan txwatcher.Result, 8)

	h.mu.Lock()
	if _, ok := h.subs[channelID]; !ok {
		h.subs[channelID] = make(map[chan txwatcher.Result]struct{})
	}
	h.subs[channelID][ch] = struct{}{}
	n := len(h.subs[channelID])
	h.mu.Unlock()
	h.log.Debugf("hub: subscribed channel=%q (subs=%d)", channelID, n)

	unsub := func() {
		h.mu.Lock()
		if set, ok := h.subs[channelID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, channelID)
			}
		}
		h.mu.Unlock()
		// Do not close(ch): a publish may still try to send; receivers
		// stop via their own context.
	}
	return ch, unsub
}

// publish snapshots the listeners for the result's channel (plus the
// all-channels listeners), then best-effort sends. Reports whether at least
// one listener got it.
func (h *resultHub) publish(channelID string, res txwatcher.Result) bool {
	h.mu.RLock()
	chs := make([]chan txwatcher.Result, 0, len(h.subs[channelID])+len(h.subs[""]))
	for ch := range h.subs[channelID] {
		chs = append(chs, ch)
	}
	if channelID != "" {
		for ch := range h.subs[""] {
			chs = append(chs, ch)
		}
	}
	h.mu.RUnlock()

	delivered := false
	for _, ch := range chs {
		select {
		case ch <- res:
			delivered = true
		default:
			// Drop if receiver is slow.
		}
	}
	h.log.Debugf("hub: publish channel=%q corr=%s success=%t listeners=%d",
		channelID, res.CorrelationID, res.Success, len(chs))
	return delivered
}
