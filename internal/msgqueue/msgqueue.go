// Package msgqueue provides the bounded message queues that connect
// producers to the worker goroutines.
//
// Each queue has a user capacity and a small reserve. Plain Send counts
// against the user capacity only; ForceSend may additionally use the
// reserve, so lifecycle commands (register / wait / destroy) can always
// be enqueued even when producers have filled the queue. Receive blocks
// with a caller-chosen timeout.
//
// Backpressure model: Send fails fast with ErrQueueFull — producers drop
// and count, they never suspend on a full queue.
package msgqueue

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Send when the user capacity is exhausted.
	ErrQueueFull = errors.New("msgqueue: queue full")
	// ErrTimedOut is returned by Recv when the timeout elapses first.
	ErrTimedOut = errors.New("msgqueue: timed out")
	// ErrClosed is returned for operations on a closed queue.
	ErrClosed = errors.New("msgqueue: closed")
)

// Blocking timeout values for Recv.
const (
	// Forever blocks until a message arrives.
	Forever = -1 * time.Millisecond
	// Nonblocking returns immediately.
	Nonblocking = 0 * time.Millisecond
)

// Queue is a bounded FIFO of messages of type M.
type Queue[M any] struct {
	mu      sync.Mutex
	ch      chan M
	size    int // user capacity
	inUse   int // user slots currently occupied
	closed  bool
	reserve int
}

// Open creates a queue with the given user capacity and reserve slots.
func Open[M any](size, reserve int) *Queue[M] {
	if size < 1 {
		size = 1
	}
	if reserve < 0 {
		reserve = 0
	}
	return &Queue[M]{
		ch:      make(chan M, size+reserve),
		size:    size,
		reserve: reserve,
	}
}

// Send enqueues msg against the user capacity.
func (q *Queue[M]) Send(msg M) error {
	return q.send(msg, q.size)
}

// ForceSend enqueues msg, allowed to dip into the reserve. Used for
// lifecycle commands that must never fail for lack of space.
func (q *Queue[M]) ForceSend(msg M) error {
	return q.send(msg, q.size+q.reserve)
}

func (q *Queue[M]) send(msg M, limit int) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.inUse >= limit {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.inUse++
	q.mu.Unlock()

	// The channel has capacity size+reserve, so with the slot counter
	// held this send cannot block.
	q.ch <- msg
	return nil
}

// Recv dequeues the next message. timeout < 0 blocks forever, 0 polls,
// positive values return ErrTimedOut after elapsing.
func (q *Queue[M]) Recv(timeout time.Duration) (M, error) {
	var zero M
	if timeout < 0 {
		msg, ok := <-q.ch
		if !ok {
			return zero, ErrClosed
		}
		q.release()
		return msg, nil
	}
	if timeout == 0 {
		select {
		case msg, ok := <-q.ch:
			if !ok {
				return zero, ErrClosed
			}
			q.release()
			return msg, nil
		default:
			return zero, ErrTimedOut
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case msg, ok := <-q.ch:
		if !ok {
			return zero, ErrClosed
		}
		q.release()
		return msg, nil
	case <-t.C:
		return zero, ErrTimedOut
	}
}

func (q *Queue[M]) release() {
	q.mu.Lock()
	if q.inUse > 0 {
		q.inUse--
	}
	q.mu.Unlock()
}

// Drain returns all messages currently queued without blocking. Used
// during teardown to reclaim ownership of message payloads.
func (q *Queue[M]) Drain() []M {
	var out []M
	for {
		msg, err := q.Recv(Nonblocking)
		if err != nil {
			return out
		}
		out = append(out, msg)
	}
}

// Len returns the number of queued messages.
func (q *Queue[M]) Len() int {
	return len(q.ch)
}

// Close closes the queue. Pending messages remain receivable until the
// channel is drained; further sends fail with ErrClosed.
func (q *Queue[M]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
