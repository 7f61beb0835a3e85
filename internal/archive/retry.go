package archive

import (
	"context"
	"time"
)

// Upload backoff defaults. Index uploads are large and the object store is
// usually on the same network, so few attempts with a short ceiling suffice.
const (
	DefaultAttempts     = 3
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 8 * time.Second
)

// Backoff paces repeated calls to the object store
type Backoff struct {
	Attempts int // At least one attempt is always made
	Initial  time.Duration
	Max      time.Duration
}

// DefaultBackoff returns the pacing used for bucket checks and uploads
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: DefaultAttempts,
		Initial:  DefaultInitialDelay,
		Max:      DefaultMaxDelay,
	}
}

// wait returns the pause after the given zero-based failed attempt. The
// delay doubles each time up to Max.
func (b Backoff) wait(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	return d
}

// do calls op until it succeeds, the attempts run out or ctx ends. The error
// of the last attempt is returned.
func (b Backoff) do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.wait(attempt)):
		}
	}
	return err
}
