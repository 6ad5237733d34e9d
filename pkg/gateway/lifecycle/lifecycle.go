package lifecycle

import "sync/atomic"

// Lifecycle tracks whether the gateway is draining and how many token
// exchanges are in flight. /readyz reports not ready once draining starts so
// load balancers stop sending token requests before the listener closes.
type Lifecycle struct {
	draining atomic.Bool
	inflight atomic.Int64
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// Track marks one upstream exchange as in flight until the returned func runs.
func (l *Lifecycle) Track() func() {
	if l == nil {
		return func() {}
	}
	l.inflight.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			l.inflight.Add(-1)
		}
	}
}

func (l *Lifecycle) InFlight() int64 {
	if l == nil {
		return 0
	}
	return l.inflight.Load()
}
