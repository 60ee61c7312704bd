package queue

// Mailbox is an unbounded multi-producer, single-consumer queue with a wake-up
// signal. Producers never block.
//
// The consumer waits on Notify and then calls Drain:
//
//	for {
//	    select {
//	    case <-ctx.Done():
//	        return
//	    case <-mb.Notify():
//	        mb.Drain(handle)
//	    }
//	}
type Mailbox[T any] struct {
	q      Queue[T]
	notify chan struct{}
}

// NewMailbox creates an empty mailbox backed by a lock-free queue.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		q:      NewLockFreeQueue[T](),
		notify: make(chan struct{}, 1),
	}
}

// Post appends item and wakes the consumer.
func (m *Mailbox[T]) Post(item T) {
	m.q.Enqueue(item)

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Notify returns the channel signaled after each Post.
func (m *Mailbox[T]) Notify() <-chan struct{} {
	return m.notify
}

// Drain delivers queued items to fn in FIFO order until the mailbox is empty
// or fn returns false. It reports whether the mailbox was drained completely.
func (m *Mailbox[T]) Drain(fn func(item T) bool) bool {
	for {
		item, ok := m.q.Dequeue()
		if !ok {
			return true
		}

		if !fn(item) {
			return false
		}
	}
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	return m.q.Length()
}
