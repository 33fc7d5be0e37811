// Package coarsetime is a clock refreshed every 50ms in the background.
// Reading it costs an atomic load instead of a time.Now call.
package coarsetime

import (
	"sync/atomic"
	"time"
)

const Resolution = 50 * time.Millisecond

var now atomic.Pointer[time.Time]

func init() {
	store(time.Now())

	t := time.NewTicker(Resolution)
	go func() {
		for ts := range t.C {
			store(ts)
		}
	}()
}

func store(t time.Time) {
	now.Store(&t)
}

// Now returns the current time, at most Resolution behind the wall clock.
func Now() time.Time {
	return *now.Load()
}

// Expired reports whether deadline has passed according to the coarse clock.
func Expired(deadline time.Time) bool {
	return !Now().Before(deadline)
}
