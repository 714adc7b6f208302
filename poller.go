package memorypatch

import (
	"context"
	"time"
)

const (
	// DefaultAttempts and DefaultInterval give a 30 second readiness budget
	DefaultAttempts = 150
	DefaultInterval = 200 * time.Millisecond
)

// Poller retries a probe on a fixed schedule until it succeeds or the
// attempt budget runs out.
type Poller struct {
	Attempts int
	Interval time.Duration
	// Sleep waits between attempts. Nil uses a timer that honors ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Wait calls probe up to p.Attempts times and returns the number of
// attempts made. It returns ErrNotReady when no attempt succeeded.
func (p Poller) Wait(ctx context.Context, probe func() bool) (int, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		if probe() {
			return attempt, nil
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return attempt, err
		}
	}
	return attempts, ErrNotReady
}

// WaitForSignature polls until pattern is found in the scanner's module
func (p Poller) WaitForSignature(ctx context.Context, s *Scanner, pattern string) (Match, int, error) {
	sig, err := ParseSignature(pattern)
	if err != nil {
		return Match{}, 0, err
	}
	var found Match
	n, err := p.Wait(ctx, func() bool {
		m, err := s.ScanSignature(sig)
		if err != nil {
			return false
		}
		found = m
		return true
	})
	return found, n, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
