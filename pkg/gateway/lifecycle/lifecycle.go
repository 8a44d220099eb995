// Package lifecycle tracks whether the process is draining for shutdown.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is shared by the readiness probe and the call handler. The zero
// value is serving; a nil *Lifecycle is never draining.
type Lifecycle struct {
	// drainingSince holds unix nanoseconds, zero while serving.
	drainingSince atomic.Int64
}

// SetDraining enters or leaves the draining state. Entering twice keeps the
// first timestamp.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	if !draining {
		l.drainingSince.Store(0)
		return
	}
	l.drainingSince.CompareAndSwap(0, time.Now().UnixNano())
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.drainingSince.Load() != 0
}

// DrainingSince reports when draining began.
func (l *Lifecycle) DrainingSince() (time.Time, bool) {
	if l == nil {
		return time.Time{}, false
	}
	ns := l.drainingSince.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}
