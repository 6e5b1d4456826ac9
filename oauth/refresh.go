// Package oauth provides token refresh scheduling for platform sessions kept
// in a session.Store. It performs jittered checks and refreshes when expiry
// falls within a configured window.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/chatmerge/chat"
	"github.com/onnwee/chatmerge/session"
)

// RefreshFunc performs the platform-specific refresh of creds.
type RefreshFunc func(ctx context.Context, creds session.Credentials) (session.Credentials, error)

// StartRefresher launches a goroutine that periodically checks the session of
// platform p and refreshes its token.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
// after, when non-nil, is called with the stored state after each refresh.
func StartRefresher(ctx context.Context, store session.Store, p chat.Platform, interval, window time.Duration, fn RefreshFunc, after func(session.State)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	logger := slog.Default().With(slog.String("component", "oauth_refresher"), slog.String("platform", p.String()))
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (+/-20% of interval).
			jitterRange := int64(interval/5) + 1
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			st, refreshed, err := RefreshOnce(ctx, store, p, window, fn)
			if err != nil {
				logger.Warn("token refresh failed", slog.Any("err", err))
				continue
			}
			if !refreshed {
				continue
			}
			logger.Info("token refreshed", slog.Time("expiry", st.Credentials.Expiry))
			if after != nil {
				after(st)
			}
		}
	}()
}

// RefreshOnce refreshes the session of p if its token expires within window.
// It reports whether a refresh happened. Missing sessions and sessions
// without a refresh token are skipped without error.
func RefreshOnce(ctx context.Context, store session.Store, p chat.Platform, window time.Duration, fn RefreshFunc) (session.State, bool, error) {
	st, err := store.Get(ctx, p)
	if errors.Is(err, session.ErrNotFound) {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}
	old := st.Credentials
	if old.RefreshToken == "" {
		return st, false, nil
	}
	// If still outside window skip quickly
	if !old.Expiry.IsZero() && time.Until(old.Expiry) > window {
		return st, false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	creds, err := fn(ctx2, old)
	cancel()
	if err != nil {
		return st, false, err
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = old.RefreshToken
	}
	if creds.Scope == "" {
		creds.Scope = old.Scope
	}
	st.Credentials = creds
	st.UpdatedAt = time.Now().UTC()
	if err := store.Put(ctx, st); err != nil {
		return st, false, fmt.Errorf("token persist failed: %w", err)
	}
	return st, true, nil
}
