package engine

import (
	"context"
	"time"
)

// wakeSignal coalesces data-available callbacks for one request. The
// callback may fire from any goroutine, before or while the request waits.
type wakeSignal struct {
	ch chan struct{} // buffered, size 1
}

func newWakeSignal() *wakeSignal {
	return &wakeSignal{ch: make(chan struct{}, 1)}
}

// notify never blocks; pending notifications collapse into one.
func (s *wakeSignal) notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// wait returns when notified, when until passes, or when ctx ends. A zero
// until waits for a notification only.
func (s *wakeSignal) wait(ctx context.Context, until time.Time) error {
	var deadline <-chan time.Time
	if !until.IsZero() {
		t := time.NewTimer(time.Until(until))
		defer t.Stop()
		deadline = t.C
	}
	select {
	case <-s.ch:
		return nil
	case <-deadline:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
