package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/mm3d/pkg/keyer"
	"github.com/dougsko/mm3d/pkg/latest"
)

type fakeModes struct {
	mu   sync.Mutex
	mode keyer.Mode
}

func (f *fakeModes) Mode() keyer.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeModes) set(m keyer.Mode) {
	f.mu.Lock()
	f.mode = m
	f.mu.Unlock()
}

type counter struct {
	sends    atomic.Int32
	inflight atomic.Int32
	maxIn    atomic.Int32
	estimate time.Duration
	err      error
}

func (c *counter) send() (time.Duration, error) {
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	if n > c.maxIn.Load() {
		c.maxIn.Store(n)
	}
	c.sends.Add(1)
	time.Sleep(time.Millisecond)
	return c.estimate, c.err
}

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"2.5":  2500 * time.Millisecond,
		" 4 ":  4 * time.Second,
		"0.25": 250 * time.Millisecond,
	}
	for text, want := range cases {
		got, ok := ParseInterval(text)
		assert.True(t, ok, text)
		assert.Equal(t, want, got, text)
	}

	for _, bad := range []string{"", "abc", "0", "-1", "NaN", "Inf"} {
		got, ok := ParseInterval(bad)
		assert.False(t, ok, bad)
		assert.Equal(t, DefaultInterval, got, bad)
	}
}

func TestSetInterval(t *testing.T) {
	s := New(&fakeModes{}, func() (time.Duration, error) { return 0, nil }, nil)
	assert.Equal(t, DefaultInterval, s.Interval())
	assert.True(t, s.SetInterval("1"))
	assert.Equal(t, time.Second, s.Interval())
	assert.False(t, s.SetInterval("x"))
	assert.Equal(t, DefaultInterval, s.Interval())
}

func TestStartTwiceRunsOneCycle(t *testing.T) {
	c := &counter{estimate: 2 * time.Millisecond}
	s := New(&fakeModes{}, c.send, nil)
	s.SetInterval("0.005")

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.Equal(t, 1, s.Cycles())
	assert.True(t, s.Active())

	require.Eventually(t, func() bool { return c.sends.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), c.maxIn.Load())
	assert.False(t, s.Active())
}

func TestStopDuringIntervalPreventsSend(t *testing.T) {
	c := &counter{}
	s := New(&fakeModes{}, c.send, nil)
	s.SetInterval("30")

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return c.sends.Load() == 1 }, time.Second, time.Millisecond)

	s.Stop()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), c.sends.Load())
	assert.False(t, s.Active())
}

func TestStopWaitsForInFlightSend(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var sends atomic.Int32
	s := New(&fakeModes{}, func() (time.Duration, error) {
		if sends.Add(1) == 1 {
			close(entered)
			<-release
		}
		return 0, nil
	}, nil)
	s.SetInterval("0.001")

	require.NoError(t, s.Start())
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a send was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), sends.Load())
}

func TestStartRequiresIdle(t *testing.T) {
	modes := &fakeModes{mode: keyer.ModeTuning}
	s := New(modes, func() (time.Duration, error) { return 0, nil }, nil)
	assert.ErrorIs(t, s.Start(), ErrNotIdle)

	modes.set(keyer.ModeKnobSpeed)
	assert.ErrorIs(t, s.Start(), keyer.ErrKnobActive)
	assert.False(t, s.Active())
	assert.Equal(t, 0, s.Cycles())
}

func TestModeChangeEndsCycle(t *testing.T) {
	modes := &fakeModes{}
	c := &counter{}
	s := New(modes, c.send, nil)
	s.SetInterval("0.005")

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return c.sends.Load() >= 1 }, time.Second, time.Millisecond)
	modes.set(keyer.ModeKnobSpeed)

	require.Eventually(t, func() bool { return !s.Active() }, time.Second, time.Millisecond)
	n := c.sends.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, c.sends.Load())
}

func TestSendErrorEndsCycle(t *testing.T) {
	c := &counter{err: keyer.ErrDeviceUnavailable}
	s := New(&fakeModes{}, c.send, nil)

	exited := make(chan error, 1)
	s.OnExit(func(err error) { exited <- err })

	require.NoError(t, s.Start())
	select {
	case err := <-exited:
		assert.True(t, errors.Is(err, keyer.ErrDeviceUnavailable))
	case <-time.After(time.Second):
		t.Fatal("cycle did not exit")
	}
	assert.False(t, s.Active())
	assert.Equal(t, int32(1), c.sends.Load())
}

func TestCompletionSignal(t *testing.T) {
	complete := latest.NewSignal()
	complete.Raise()

	sent := make(chan bool, 1)
	s := New(&fakeModes{}, func() (time.Duration, error) {
		// cleared before each send
		sent <- complete.Clear()
		return time.Millisecond, nil
	}, complete)
	s.SetInterval("30")

	require.NoError(t, s.Start())
	assert.False(t, <-sent)
	require.Eventually(t, func() bool {
		select {
		case <-complete.C():
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	s.Stop()
}

func TestWait(t *testing.T) {
	modes := &fakeModes{}
	s := New(modes, func() (time.Duration, error) { return 0, nil }, nil)
	s.SetInterval("0.001")
	require.NoError(t, s.Start())
	modes.set(keyer.ModeTuning)

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
}
