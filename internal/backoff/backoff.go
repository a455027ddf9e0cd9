// Package backoff provides bounded exponential backoff with full jitter
// for the retry loops around external calls (ledger queries, provider
// calls, mint submissions).
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Config bounds an exponential backoff sequence.
type Config struct {
	BaseDelay time.Duration // e.g. 1s
	MaxDelay  time.Duration // e.g. 60s
}

// Default returns the standard pipeline backoff bounds.
func Default() Config {
	return Config{
		BaseDelay: 1 * time.Second,
		MaxDelay:  60 * time.Second,
	}
}

// Delay computes the delay before the given attempt using exponential
// backoff with full jitter. attempt is 1-based (1 => up to BaseDelay).
func Delay(attempt int, cfg Config, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 1 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}

	// exponential: base * 2^(attempt-1), capped
	delay := cfg.BaseDelay
	for i := 1; i < attempt && delay < cfg.MaxDelay; i++ {
		delay <<= 1
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	// full jitter: random in [0, delay]
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(rng.Int63n(int64(delay) + 1))
}

// Sleep waits for the attempt's jittered delay or until ctx is done,
// whichever comes first. Returns ctx.Err() when canceled.
func Sleep(ctx context.Context, attempt int, cfg Config) error {
	d := Delay(attempt, cfg, nil)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
