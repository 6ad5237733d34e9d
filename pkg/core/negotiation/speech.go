package negotiation

import (
	"context"
	"time"
)

// waitForSpeechSettle polls speaking until it has reported false
// continuously for quiet, bounded by maxWait. It reports whether speech
// settled; callers proceed either way.
func waitForSpeechSettle(ctx context.Context, speaking func() bool, poll, quiet, maxWait time.Duration) bool {
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var quietSince time.Time
	if !speaking() {
		quietSince = time.Now()
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case now := <-ticker.C:
			if speaking() {
				quietSince = time.Time{}
				continue
			}
			if quietSince.IsZero() {
				quietSince = now
			}
			if now.Sub(quietSince) >= quiet {
				return true
			}
		}
	}
}
