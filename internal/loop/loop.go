// Package loop runs the event handling of one simulated actor.
//
// Every hub, gNB and UE owns exactly one Loop. Datagram receipts and timer
// expirations are posted as closures to a bounded queue and executed one at
// a time, in arrival order, on the loop goroutine. Actor state touched only
// from posted closures therefore needs no locking.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"
)

const DefaultDepth = 256

var ErrStopped = errors.New("loop: stopped")

type Loop struct {
	events chan func()

	mu     sync.Mutex
	timers map[*Timer]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a loop whose queue holds depth pending events.
func New(depth int) *Loop {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Loop{
		events: make(chan func(), depth),
		timers: make(map[*Timer]struct{}),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	go l.run()
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stopCh:
			return
		case fn := <-l.events:
			fn()
		}
	}
}

// Post enqueues fn without blocking. It returns false when the loop is
// stopped or the queue is full; the event is dropped in both cases.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopCh:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	default:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case <-l.stopCh:
		return ErrStopped
	case l.events <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Every posts fn every d until the returned timer is stopped or the loop
// stops. Ticks that find the queue full are skipped.
func (l *Loop) Every(d time.Duration, fn func()) *Timer {
	quit := make(chan struct{})
	t := &Timer{loop: l, stop: func() { close(quit) }}
	l.track(t)
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-quit:
				return
			case <-ticker.C:
				l.Post(fn)
			}
		}
	}()
	return t
}

// After posts fn once, after d, unless the timer is stopped first. Unlike
// Post, the expiry waits for queue space instead of being dropped.
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	t := &Timer{loop: l}
	l.track(t)
	t.mu.Lock()
	at := time.AfterFunc(d, func() {
		l.untrack(t)
		wrapped := func() {
			if !t.Stopped() {
				fn()
			}
		}
		select {
		case l.events <- wrapped:
		case <-l.stopCh:
		}
	})
	t.stop = func() { at.Stop() }
	t.mu.Unlock()
	return t
}

// Stop stops all timers and the loop goroutine. Events still queued are
// discarded. Stop is idempotent.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		timers := make([]*Timer, 0, len(l.timers))
		for t := range l.timers {
			timers = append(timers, t)
		}
		l.mu.Unlock()
		for _, t := range timers {
			t.Stop()
		}
		close(l.stopCh)
	})
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) track(t *Timer) {
	l.mu.Lock()
	l.timers[t] = struct{}{}
	l.mu.Unlock()
}

func (l *Loop) untrack(t *Timer) {
	l.mu.Lock()
	delete(l.timers, t)
	l.mu.Unlock()
}

// Timer is a recurring or one-shot timer bound to a loop.
type Timer struct {
	loop *Loop

	mu      sync.Mutex
	stop    func()
	stopped bool
}

// Stop cancels the timer. A one-shot callback that has not run yet will not
// run, even if its event is already queued.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	stop := t.stop
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	t.loop.untrack(t)
}

func (t *Timer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
