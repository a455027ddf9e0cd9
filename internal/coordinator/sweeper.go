package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-mint-node/internal/repo"
)

// Sweeper is the recovery loop: on startup and on every tick it re-enqueues
// non-terminal requests that have not moved within the staleness threshold,
// plus terminal failures whose notice was never attempted. Everything a
// crash or a full queue dropped comes back through here, so no request is
// ever lost or left undecided.
type Sweeper struct {
	DB    *gorm.DB
	Queue *Queue
	// Interval is the time between sweeps.
	Interval time.Duration
	// Staleness is how long a request may sit unmodified before it is
	// considered stuck. Must comfortably exceed the longest stage budget,
	// otherwise the sweeper double-feeds requests that are merely slow.
	Staleness time.Duration
	// Batch caps rows fetched per sweep.
	Batch int

	Log zerolog.Logger
}

// NewSweeper returns a sweeper with sane defaults.
func NewSweeper(db *gorm.DB, q *Queue, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		DB:        db,
		Queue:     q,
		Interval:  30 * time.Second,
		Staleness: 5 * time.Minute,
		Batch:     100,
		Log:       log,
	}
}

// Run sweeps immediately, then on every tick until ctx is canceled. The
// immediate sweep is the crash-recovery pass: whatever was in flight when
// the previous process died is re-offered before any new work.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep(ctx)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one recovery pass and returns how many ids were offered.
func (s *Sweeper) Sweep(ctx context.Context) int {
	offered := 0

	cutoff := time.Now().UTC().Add(-s.Staleness)
	stale, err := repo.ListStale(ctx, s.DB, cutoff, s.Batch)
	if err != nil {
		s.Log.Error().Err(err).Msg("sweep: list stale failed")
	} else {
		for _, r := range stale {
			if s.Queue.Enqueue(r.ID) {
				offered++
			}
		}
	}

	unnotified, err := repo.ListUnnotified(ctx, s.DB, s.Batch)
	if err != nil {
		s.Log.Error().Err(err).Msg("sweep: list unnotified failed")
	} else {
		for _, r := range unnotified {
			if s.Queue.Enqueue(r.ID) {
				offered++
			}
		}
	}

	if offered > 0 {
		sweeperRequeues.Add(float64(offered))
		s.Log.Info().Int("requeued", offered).Msg("sweep complete")
	}
	return offered
}
