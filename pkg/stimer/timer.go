// Package stimer provides the one-shot millisecond timer service of
// spec.md §4.G: starting a new timer replaces any prior one, cancel is
// idempotent, and expiration delivers a single callback on a goroutine
// distinct from whoever called Start. Built directly on
// time.AfterFunc, the way the teacher schedules its own poll/status
// intervals in internal/driver/device/controller.go, rather than
// introducing a third-party scheduler for a single-shot-with-cancel
// primitive the standard library already covers cleanly.
package stimer

import (
	"sync"
	"time"
)

// Timer is a single-slot one-shot timer: starting it again replaces
// whatever was pending. Zero value is ready to use.
type Timer struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// Start schedules fn to run after ms milliseconds, cancelling any
// previously scheduled, not-yet-fired call on this Timer. fn runs on its
// own goroutine (time.AfterFunc's goroutine), never on the caller's.
func (t *Timer) Start(ms int, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	d := time.Duration(ms) * time.Millisecond
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		current := t.gen == gen
		if current {
			t.timer = nil
		}
		t.mu.Unlock()
		if current {
			fn()
		}
	})
}

// Cancel stops any pending timer. Idempotent: calling it with nothing
// pending, or calling it twice, is harmless.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// Pending reports whether a timer is currently armed (best-effort: a
// timer that is about to fire may still report true for a brief window).
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
