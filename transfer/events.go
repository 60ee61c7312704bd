package transfer

import (
	"context"
	"sync/atomic"

	"github.com/arloliu/go-flashforge/internal/queue"
	"github.com/arloliu/go-flashforge/internal/task"
	"github.com/arloliu/go-flashforge/logger"
)

// Reporter receives the user visible outcome of write requests.
//
// Completed and Failed are terminal: exactly one of them is reported per
// write request that was accepted.
type Reporter interface {
	// AttemptStarted is reported at the start of every attempt, beginning with 1.
	AttemptStarted(job *PrintJob, attempt int)
	// Progress reports the acknowledged share of the payload, 0 to 100.
	Progress(job *PrintJob, percent float64)
	// Completed reports that the printer started building the job.
	Completed(job *PrintJob)
	// Failed reports a *NetworkError or ErrAttemptsExhausted.
	Failed(job *PrintJob, err error)
}

// NopReporter discards all reports.
type NopReporter struct{}

var _ Reporter = NopReporter{}

func (NopReporter) AttemptStarted(*PrintJob, int) {}
func (NopReporter) Progress(*PrintJob, float64)   {}
func (NopReporter) Completed(*PrintJob)           {}
func (NopReporter) Failed(*PrintJob, error)       {}

// EventKind is the kind of a reported Event.
type EventKind int

const (
	EventAttempt EventKind = iota
	EventProgress
	EventCompleted
	EventFailed
)

// String returns string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAttempt:
		return "attempt"
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns if the event ends a write request.
func (k EventKind) IsTerminal() bool {
	return k == EventCompleted || k == EventFailed
}

// Event is one Reporter call captured as a value.
type Event struct {
	Kind    EventKind
	Job     *PrintJob
	Attempt int
	Percent float64
	Err     error
}

// Deliver replays the event on r.
func (e Event) Deliver(r Reporter) {
	switch e.Kind {
	case EventAttempt:
		r.AttemptStarted(e.Job, e.Attempt)
	case EventProgress:
		r.Progress(e.Job, e.Percent)
	case EventCompleted:
		r.Completed(e.Job)
	case EventFailed:
		r.Failed(e.Job, e.Err)
	}
}

// EventQueue is a Reporter that moves reports off the transfer worker.
// Reports are queued without blocking and delivered in order to the sink
// on the queue's own goroutine, so a slow sink never stalls the protocol.
type EventQueue struct {
	sink    Reporter
	mailbox *queue.Mailbox[Event]
	taskMgr *task.Manager
	logger  logger.Logger
	closed  atomic.Bool
}

var _ Reporter = (*EventQueue)(nil)

// NewEventQueue starts delivering reports to sink until ctx is done or Close is called.
func NewEventQueue(ctx context.Context, sink Reporter, l logger.Logger) (*EventQueue, error) {
	if sink == nil {
		sink = NopReporter{}
	}
	if l == nil {
		l = logger.GetLogger()
	}

	q := &EventQueue{
		sink:    sink,
		mailbox: queue.NewMailbox[Event](),
		taskMgr: task.NewManager(ctx, l),
		logger:  l,
	}

	if err := q.taskMgr.Start("event-dispatcher", q.dispatch); err != nil {
		return nil, err
	}

	return q, nil
}

func (q *EventQueue) dispatch() bool {
	ctx := q.taskMgr.Context()

	select {
	case <-ctx.Done():
		return false
	case <-q.mailbox.Notify():
		q.mailbox.Drain(q.deliver)

		return true
	}
}

// Pending returns the number of queued, undelivered reports.
func (q *EventQueue) Pending() int {
	return q.mailbox.Len()
}

// Close stops the dispatcher and delivers the reports still queued on the
// calling goroutine. Reports made after Close are never delivered.
func (q *EventQueue) Close() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}

	q.taskMgr.Stop()
	q.taskMgr.Wait()

	if n := q.mailbox.Len(); n > 0 {
		q.logger.Debug("flushing pending reports", "pending", n)
		q.mailbox.Drain(q.deliver)
	}
}

func (q *EventQueue) deliver(ev Event) bool {
	q.taskMgr.CallWithRecover("event-sink", func() bool {
		ev.Deliver(q.sink)
		return true
	})

	return true
}

func (q *EventQueue) post(ev Event) {
	if q.closed.Load() {
		return
	}
	q.mailbox.Post(ev)
}

func (q *EventQueue) AttemptStarted(job *PrintJob, attempt int) {
	q.post(Event{Kind: EventAttempt, Job: job, Attempt: attempt})
}

func (q *EventQueue) Progress(job *PrintJob, percent float64) {
	q.post(Event{Kind: EventProgress, Job: job, Percent: percent})
}

func (q *EventQueue) Completed(job *PrintJob) {
	q.post(Event{Kind: EventCompleted, Job: job})
}

func (q *EventQueue) Failed(job *PrintJob, err error) {
	q.post(Event{Kind: EventFailed, Job: job, Err: err})
}
