// Package coordinator drives requests through their lifecycle: a bounded
// in-memory queue feeds a worker pool, each worker advances one request at a
// time through the stage services, and a periodic sweeper re-enqueues
// anything that stalled. The queue is an optimization, not the source of
// truth; every request is durable in the database, so dropping an id under
// pressure only delays it until the next sweep.
package coordinator

import (
	"github.com/rs/zerolog"
)

// Queue is a bounded FIFO of request ids awaiting a pipeline step.
type Queue struct {
	ch  chan string
	log zerolog.Logger
}

// NewQueue returns a queue holding at most capacity ids.
func NewQueue(capacity int, log zerolog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{ch: make(chan string, capacity), log: log}
}

// Enqueue offers an id without blocking and reports whether it was
// accepted. A rejected id is not lost: the sweeper finds the request by
// its stale updated_at and offers it again.
func (q *Queue) Enqueue(id string) bool {
	select {
	case q.ch <- id:
		queueDepth.Set(float64(len(q.ch)))
		return true
	default:
		q.log.Warn().Str("request_id", id).Msg("queue full, deferring to sweeper")
		queueDropped.Inc()
		return false
	}
}

// C exposes the receive side for workers.
func (q *Queue) C() <-chan string { return q.ch }

// Len reports the number of ids currently queued.
func (q *Queue) Len() int { return len(q.ch) }
