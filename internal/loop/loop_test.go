package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T, depth int) *Loop {
	t.Helper()
	l := New(depth)
	l.Start()
	t.Cleanup(l.Stop)
	return l
}

func TestEventsRunInOrder(t *testing.T) {
	l := newTestLoop(t, 16)

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestPostDropsWhenFull(t *testing.T) {
	l := New(1)
	// not started: the queue cannot drain
	assert.True(t, l.Post(func() {}))
	assert.False(t, l.Post(func() {}))
	l.Stop()
	assert.False(t, l.Post(func() {}))
}

func TestCallAfterStop(t *testing.T) {
	l := New(4)
	l.Start()
	l.Stop()
	<-l.Done()
	err := l.Call(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestCallHonoursContext(t *testing.T) {
	l := New(1)
	l.Post(func() {})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Call(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	l.Stop()
}

func TestEvery(t *testing.T) {
	l := newTestLoop(t, 16)

	var n atomic.Int32
	timer := l.Every(5*time.Millisecond, func() { n.Add(1) })
	assert.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)

	timer.Stop()
	require.NoError(t, l.Call(context.Background(), func() {}))
	stoppedAt := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, n.Load(), stoppedAt+1)
}

func TestAfterFiresOnce(t *testing.T) {
	l := newTestLoop(t, 16)

	fired := make(chan struct{}, 2)
	l.After(5*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("one-shot did not fire")
	}
	select {
	case <-fired:
		t.Fatal("one-shot fired twice")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestAfterWaitsForQueueSpace(t *testing.T) {
	l := newTestLoop(t, 1)

	release := make(chan struct{})
	running := make(chan struct{})
	require.True(t, l.Post(func() {
		close(running)
		<-release
	}))
	<-running
	require.True(t, l.Post(func() {}))
	require.False(t, l.Post(func() {}))

	fired := make(chan struct{})
	l.After(5*time.Millisecond, func() { close(fired) })
	time.Sleep(30 * time.Millisecond)
	close(release)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("one-shot expiry lost on a full queue")
	}
}

func TestAfterCancelled(t *testing.T) {
	l := newTestLoop(t, 16)

	var fired atomic.Bool
	timer := l.After(20*time.Millisecond, func() { fired.Store(true) })
	timer.Stop()
	assert.True(t, timer.Stopped())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestStopCancelsTimers(t *testing.T) {
	l := New(16)
	l.Start()

	var fired atomic.Bool
	timer := l.After(20*time.Millisecond, func() { fired.Store(true) })
	l.Stop()
	l.Stop()

	assert.True(t, timer.Stopped())
	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}
