package auth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// RefreshIfExpiringWithin refreshes when the credential's remaining lifetime
// is at most window. A session with no credential yet is left alone.
func (s *Session) RefreshIfExpiringWithin(ctx context.Context, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded || s.cred.RefreshToken == "" {
		return nil
	}
	if !s.cred.expired(window) {
		return nil
	}
	_, err := s.refreshLocked(ctx)
	return err
}

// StartRefresher launches a goroutine that periodically checks the session
// and refreshes proactively when expiry falls within window, so platform
// calls rarely pay the refresh round-trip inline.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, s *Session, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	initialJitter := time.Duration(randInt63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			jitter := time.Duration(randInt63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := s.RefreshIfExpiringWithin(rctx, window)
			cancel()
			if err != nil {
				slog.Warn("proactive refresh failed", slog.String("provider", s.Provider()), slog.Any("err", err))
			}
		}
	}()
}

// randInt63n is rand.Int63n tolerating sub-jitter-resolution intervals,
// where the computed range collapses to zero.
func randInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	return rand.Int63n(n)
}
