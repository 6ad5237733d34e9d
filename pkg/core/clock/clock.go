// Package clock tracks a negotiation session's wall-clock deadlines relative
// to the moment the voice connection came up.
package clock

import (
	"fmt"
	"time"
)

const (
	DefaultFreezeAfter = 90 * time.Second
	DefaultEndAfter    = 120 * time.Second
	// DisplayInterval is how often countdowns are resampled for display.
	DisplayInterval = 250 * time.Millisecond
)

// Session derives freeze and end instants from the connection start.
// The zero value is disconnected and uses the default offsets.
type Session struct {
	FreezeAfter time.Duration
	EndAfter    time.Duration
	Now         func() time.Time

	connectedAt time.Time
}

// New returns a Session with the given offsets. Zero offsets fall back to
// the defaults.
func New(freezeAfter, endAfter time.Duration, now func() time.Time) *Session {
	return &Session{FreezeAfter: freezeAfter, EndAfter: endAfter, Now: now}
}

func (s *Session) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Session) freezeAfter() time.Duration {
	if s.FreezeAfter > 0 {
		return s.FreezeAfter
	}
	return DefaultFreezeAfter
}

func (s *Session) endAfter() time.Duration {
	if s.EndAfter > 0 {
		return s.EndAfter
	}
	return DefaultEndAfter
}

// OnConnect records the connection start as now and returns it.
func (s *Session) OnConnect() time.Time {
	s.connectedAt = s.now()
	return s.connectedAt
}

// OnDisconnect clears the connection start and derived instants.
func (s *Session) OnDisconnect() {
	s.connectedAt = time.Time{}
}

// Connected reports whether a connection start is recorded.
func (s *Session) Connected() bool {
	return !s.connectedAt.IsZero()
}

// ConnectedAt returns the connection start, if any.
func (s *Session) ConnectedAt() (time.Time, bool) {
	return s.connectedAt, s.Connected()
}

// FreezeAt returns connection start + freeze offset.
func (s *Session) FreezeAt() (time.Time, bool) {
	if !s.Connected() {
		return time.Time{}, false
	}
	return s.connectedAt.Add(s.freezeAfter()), true
}

// EndAt returns connection start + end offset.
func (s *Session) EndAt() (time.Time, bool) {
	if !s.Connected() {
		return time.Time{}, false
	}
	return s.connectedAt.Add(s.endAfter()), true
}

// RemainingUntil returns the non-negative time left until instant. ok is
// false when no connection start exists.
func (s *Session) RemainingUntil(instant time.Time) (remaining time.Duration, ok bool) {
	if !s.Connected() || instant.IsZero() {
		return 0, false
	}
	d := instant.Sub(s.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Elapsed returns the time since connection start, or zero when disconnected.
func (s *Session) Elapsed() time.Duration {
	if !s.Connected() {
		return 0
	}
	d := s.now().Sub(s.connectedAt)
	if d < 0 {
		return 0
	}
	return d
}

// FormatRemaining renders a countdown as m:ss, rounding partial seconds up.
// An unknown remaining time renders as --:--.
func FormatRemaining(d time.Duration, ok bool) string {
	if !ok {
		return "--:--"
	}
	if d < 0 {
		d = 0
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// FormatElapsed renders an uptime as hh:mm:ss.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}
