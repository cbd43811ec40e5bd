package resilience

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"time"

	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
)

// Disk write retry defaults: a couple of quick tries, never long enough to
// back up the diagnostics queue.
const (
	DiskAttempts = 3
	DiskInitial  = 50 * time.Millisecond
	DiskMax      = 500 * time.Millisecond
	DiskJitter   = 0.2
)

// Backoff describes how often and how patiently an operation is retried.
type Backoff struct {
	Attempts  int           // total tries, the first included
	Initial   time.Duration // delay before the second try
	Max       time.Duration // delay cap
	Jitter    float64       // spread as a fraction of the delay
	Transient func(error) bool
}

// DiskBackoff returns the backoff used for artifact and manifest writes.
func DiskBackoff() Backoff {
	return Backoff{
		Attempts:  DiskAttempts,
		Initial:   DiskInitial,
		Max:       DiskMax,
		Jitter:    DiskJitter,
		Transient: IsTransient,
	}
}

// IsTransient reports whether a write failure may succeed on a later try.
// Permission and missing-path errors, config and input errors and
// cancellation are permanent.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, fs.ErrPermission), errors.Is(err, fs.ErrNotExist):
		return false
	case apperrors.IsRetryable(err):
		return true
	case apperrors.IsConfig(err), apperrors.IsCategory(err, apperrors.CategoryInput):
		return false
	}
	return true
}

// Retry calls fn until it succeeds, returns a permanent error, or the
// attempts run out. The last error is returned.
func Retry(ctx context.Context, b Backoff, fn func() error) error {
	b = b.normalize()
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= b.Attempts || !b.Transient(err) {
			return err
		}

		wait := b.Delay(attempt)
		slog.Debug("diagnostic write failed, retrying", "attempt", attempt, "of", b.Attempts, "wait", wait, "error", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Delay is the wait after the given failed attempt (1-based): Initial
// doubled per attempt, capped at Max, then spread by Jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.normalize()
	d := b.Initial << min(max(attempt-1, 0), 16)
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	spread := float64(d) * b.Jitter * (rand.Float64() - 0.5)
	return d + time.Duration(spread)
}

func (b Backoff) normalize() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = DiskAttempts
	}
	if b.Initial <= 0 {
		b.Initial = DiskInitial
	}
	if b.Max < b.Initial {
		b.Max = max(DiskMax, b.Initial)
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Transient == nil {
		b.Transient = IsTransient
	}
	return b
}
