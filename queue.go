package reporterz

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned when adding to a closed queue.
var ErrQueueClosed = errors.New("report queue closed")

type commandKind uint8

const (
	appendCommand commandKind = iota
	flushCommand
)

// command is consumed exactly once by the reporter goroutine.
type command struct {
	span *Span
	kind commandKind
}

// reportQueue is a bounded multi-producer, single-consumer command queue.
// Adds never block; consumers range over commands() until the queue is closed
// and drained.
type reportQueue struct {
	commandsCh chan command
	mu         sync.RWMutex // Guards close against concurrent sends.
	closed     bool
}

func newReportQueue(capacity int) *reportQueue {
	return &reportQueue{
		commandsCh: make(chan command, capacity),
	}
}

// tryAdd enqueues cmd if there is room. It returns ErrQueueClosed after
// close and false when the queue is full.
func (q *reportQueue) tryAdd(cmd command) (bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false, ErrQueueClosed
	}
	select {
	case q.commandsCh <- cmd:
		return true, nil
	default:
		// Queue full - drop to prevent blocking.
		return false, nil
	}
}

// close stops accepting commands. Queued commands stay consumable.
func (q *reportQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.commandsCh)
	}
}

func (q *reportQueue) commands() <-chan command {
	return q.commandsCh
}

func (q *reportQueue) len() int {
	return len(q.commandsCh)
}

func (q *reportQueue) capacity() int {
	return cap(q.commandsCh)
}
