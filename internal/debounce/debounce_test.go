package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_Coalesces(t *testing.T) {
	mock := clock.NewMock()
	var calls int32
	d := New(mock, time.Second, func() { atomic.AddInt32(&calls, 1) })

	for i := 0; i < 5; i++ {
		d.Trigger()
		mock.Add(500 * time.Millisecond)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "window keeps restarting")

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	assert.False(t, d.Cancel(), "nothing left pending after the call")

	// Nothing else fires later
	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDebouncer_SeparateBursts(t *testing.T) {
	mock := clock.NewMock()
	var calls int32
	d := New(mock, time.Second, func() { atomic.AddInt32(&calls, 1) })

	d.Trigger()
	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)

	d.Trigger()
	d.Trigger()
	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, time.Millisecond)
}

func TestDebouncer_Cancel(t *testing.T) {
	mock := clock.NewMock()
	var calls int32
	d := New(mock, time.Second, func() { atomic.AddInt32(&calls, 1) })

	assert.False(t, d.Cancel())

	d.Trigger()
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())

	mock.Add(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	// Still usable after a cancel
	d.Trigger()
	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
}

func TestDebouncer_Stop(t *testing.T) {
	mock := clock.NewMock()
	var calls int32
	d := New(mock, time.Second, func() { atomic.AddInt32(&calls, 1) })

	assert.False(t, d.Stop(), "nothing pending")

	d = New(mock, time.Second, func() { atomic.AddInt32(&calls, 1) })
	d.Trigger()
	assert.True(t, d.Stop(), "pending call dropped")
	d.Trigger()
	mock.Add(2 * time.Second)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.False(t, d.Cancel())
}

func TestDebouncer_StopWaitsForRunningCall(t *testing.T) {
	mock := clock.NewMock()
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	d := New(mock, time.Second, func() {
		close(started)
		<-release
		finished.Store(true)
	})

	d.Trigger()
	mock.Add(time.Second)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("debounced call never started")
	}

	stopped := make(chan bool, 1)
	go func() { stopped <- d.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the call was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case dropped := <-stopped:
		assert.False(t, dropped, "a started call is not reported as dropped")
		assert.True(t, finished.Load())
	case <-time.After(time.Second):
		t.Fatal("Stop never returned")
	}
}

func TestDebouncer_WallClock(t *testing.T) {
	done := make(chan struct{})
	d := New(nil, 5*time.Millisecond, func() { close(done) })
	d.Trigger()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced call never ran")
	}
}
