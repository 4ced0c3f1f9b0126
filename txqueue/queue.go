// Package txqueue serializes outbound ledger writes. The ledger requires a
// strictly increasing, gapless nonce per sender, so writes must reach it in
// submission order with at most one in flight at a time. The queue is the
// only component allowed to invoke submit closures.
package txqueue

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// DefaultDriveInterval is how often the queue head is inspected when no
// interval is configured.
const DefaultDriveInterval = time.Second

// Status is the lifecycle position of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "inprogress"
	StatusResolved   Status = "resolved"
	StatusRejected   Status = "rejected"
)

// Receipt is what a successful submission hands back, typically the ledger
// transaction hash the caller will then wait on.
type Receipt struct {
	TxHash string
}

// SubmitFunc performs the actual ledger write. It runs off the driver
// goroutine; a panic is caught and recorded as a rejection.
type SubmitFunc func(ctx context.Context) (Receipt, error)

// Job is one queued ledger write.
type Job struct {
	ID   string
	Desc string

	submit  SubmitFunc
	status  atomic.String
	receipt atomic.String // tx hash once resolved
	subErr  atomic.Error
}

// Status returns the job's current lifecycle position.
func (j *Job) Status() Status { return Status(j.status.Load()) }

// Receipt returns the tx hash recorded on resolution, empty until then.
func (j *Job) Receipt() Receipt { return Receipt{TxHash: j.receipt.Load()} }

// Err returns the rejection error, nil unless the job was rejected.
func (j *Job) Err() error { return j.subErr.Load() }

// Queue is a strict FIFO of ledger writes. Only the head job is ever acted
// on: the driver promotes it to inprogress, lets the submission settle in
// the background, and removes it once settled. A later job is never
// submitted before an earlier one has left the queue.
type Queue struct {
	log      slog.Logger
	interval time.Duration

	driveMu sync.Mutex // exactly one drive step runs at a time

	mu   sync.Mutex
	jobs []*Job // head at jobs[0]
	quit chan struct{}

	enqueued atomic.Uint64
	resolved atomic.Uint64
	rejected atomic.Uint64
}

func New(log slog.Logger, interval time.Duration) *Queue {
	if interval <= 0 {
		interval = DefaultDriveInterval
	}
	return &Queue{
		log:      log,
		interval: interval,
		quit:     make(chan struct{}),
	}
}

// Enqueue appends a write to the tail. desc is free text for the logs.
func (q *Queue) Enqueue(submit SubmitFunc, desc string) (*Job, error) {
	if submit == nil {
		return nil, errors.New("nil submit func")
	}
	j := &Job{
		ID:     uuid.NewString(),
		Desc:   desc,
		submit: submit,
	}
	j.status.Store(string(StatusPending))

	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	depth := len(q.jobs)
	q.mu.Unlock()

	q.enqueued.Inc()
	q.log.Debugf("txqueue: job %s enqueued (%s), depth=%d", j.ID, desc, depth)
	return j, nil
}

// Len is the current backlog depth, including the in-flight head.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Stats returns lifetime enqueue/resolve/reject counts.
func (q *Queue) Stats() (enqueued, resolved, rejected uint64) {
	return q.enqueued.Load(), q.resolved.Load(), q.rejected.Load()
}

func (q *Queue) Stop() { close(q.quit) }

// Run drives the queue on the configured interval until the context is done
// or Stop is called.
func (q *Queue) Run(ctx context.Context) {
	q.log.Infof("txqueue: started (interval=%v)", q.interval)
	t := time.NewTicker(q.interval)
	defer t.Stop()
	defer q.log.Infof("txqueue: stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.quit:
			return
		case <-t.C:
			q.DriveOnce(ctx)
		}
	}
}

// DriveOnce takes one step on the head job: promote it, wait out its
// in-flight submission, or remove it once settled. Exported so tests and
// callers with their own scheduling can drive time explicitly.
func (q *Queue) DriveOnce(ctx context.Context) {
	// Serialize drive steps: two callers observing the same pending head
	// must not both promote it and submit twice.
	q.driveMu.Lock()
	defer q.driveMu.Unlock()

	q.mu.Lock()
	if len(q.jobs) == 0 {
		q.mu.Unlock()
		return
	}
	head := q.jobs[0]
	q.mu.Unlock()

	switch head.Status() {
	case StatusPending:
		head.status.Store(string(StatusInProgress))
		q.log.Debugf("txqueue: job %s (%s) submitting", head.ID, head.Desc)
		go q.settle(ctx, head)

	case StatusInProgress:
		// Still waiting on the ledger; nothing to do this tick.

	case StatusResolved:
		q.log.Infof("txqueue: job %s (%s) resolved, tx=%s", head.ID, head.Desc, head.receipt.Load())
		q.resolved.Inc()
		q.dequeue(head)

	case StatusRejected:
		// No automatic retry: a rejected write never held a nonce, so
		// dropping it keeps the sequence gapless. Re-enqueueing is
		// caller policy.
		q.log.Errorf("txqueue: job %s (%s) rejected: %v", head.ID, head.Desc, head.Err())
		q.rejected.Inc()
		q.dequeue(head)
	}
}

// settle runs the submission and records the outcome on the job. The driver
// observes the terminal status on a later tick.
func (q *Queue) settle(ctx context.Context, j *Job) {
	receipt, err := q.safeSubmit(ctx, j)
	if err != nil {
		j.subErr.Store(err)
		j.status.Store(string(StatusRejected))
		return
	}
	j.receipt.Store(receipt.TxHash)
	j.status.Store(string(StatusResolved))
}

func (q *Queue) safeSubmit(ctx context.Context, j *Job) (receipt Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("submit panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return j.submit(ctx)
}

func (q *Queue) dequeue(head *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 || q.jobs[0] != head {
		return
	}
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
}
