package coordinator

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Pool runs a fixed number of workers draining the queue. Workers never
// panic the process on a failed step; the request stays durable and the
// sweeper will offer it again.
type Pool struct {
	Queue   *Queue
	Coord   *Coordinator
	Workers int

	Log zerolog.Logger
}

// NewPool returns a pool of n workers over the queue.
func NewPool(q *Queue, c *Coordinator, n int, log zerolog.Logger) *Pool {
	if n <= 0 {
		n = 4
	}
	return &Pool{Queue: q, Coord: c, Workers: n, Log: log}
}

// Run starts the workers and blocks until ctx is canceled and all of them
// have returned. In-flight steps finish or stop at their next blocking
// call; either way the database row stays consistent.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(p.Workers)
	for i := 0; i < p.Workers; i++ {
		go func(n int) {
			defer wg.Done()
			p.work(ctx, n)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) work(ctx context.Context, n int) {
	log := p.Log.With().Int("worker", n).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.Queue.C():
			queueDepth.Set(float64(p.Queue.Len()))
			if err := p.Coord.Step(ctx, id); err != nil {
				log.Error().Err(err).Str("request_id", id).Msg("pipeline step failed")
			}
		}
	}
}
