package keyer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/mm3d/pkg/hardware"
	"github.com/dougsko/mm3d/pkg/latest"
	"github.com/dougsko/mm3d/pkg/morse"
)

func frame(cmd string) string {
	return "\x03\n" + cmd + "\n*C709\n"
}

func newTestController(t *testing.T) (*Controller, *hardware.MockPort) {
	t.Helper()
	port := hardware.NewMockPort()
	dev := NewDevice(0)
	dev.Attach(port)
	c := NewController(dev, 25, true)
	c.SetKnobPulse(0)
	return c, port
}

func TestDeviceFrames(t *testing.T) {
	port := hardware.NewMockPort()
	dev := NewDevice(0)
	dev.Attach(port)

	t.Run("Speed", func(t *testing.T) {
		port.Reset()
		require.NoError(t, dev.SetSpeed(5))
		assert.Equal(t, frame("*605"), port.Written())
		assert.Equal(t, []string{"\x03\n", "*605\n", "*C709\n"}, port.Writes())
	})

	t.Run("Knob And Sidetone", func(t *testing.T) {
		port.Reset()
		require.NoError(t, dev.SetKnob(true))
		require.NoError(t, dev.SetKnob(false))
		require.NoError(t, dev.SetSidetone(true))
		require.NoError(t, dev.SetSidetone(false))
		assert.Equal(t, frame("*B6")+frame("*A6")+frame("*A1")+frame("*B1"), port.Written())
	})

	t.Run("Tune", func(t *testing.T) {
		port.Reset()
		require.NoError(t, dev.TuneStart())
		assert.Equal(t, "\x03\n*3**7\n", port.Written())

		port.Reset()
		require.NoError(t, dev.TuneStop())
		assert.Equal(t, "\x03\n\n*9\n", port.Written())
	})

	t.Run("Text Resets Input", func(t *testing.T) {
		port.Reset()
		before := port.Resets()
		require.NoError(t, dev.SendText("CQ TEST ZS6WAR"))
		assert.Equal(t, "CQ TEST ZS6WAR\n", port.Written())
		assert.Equal(t, before+1, port.Resets())
	})

	t.Run("Keystroke Unframed", func(t *testing.T) {
		port.Reset()
		require.NoError(t, dev.Keystroke('e'))
		assert.Equal(t, "e", port.Written())
		assert.Error(t, dev.Keystroke(0xe9))
	})
}

func TestDeviceUnavailable(t *testing.T) {
	dev := NewDevice(0)
	assert.False(t, dev.Connected())

	calls := []func() error{
		func() error { return dev.SetSpeed(20) },
		func() error { return dev.SetKnob(true) },
		func() error { return dev.SetSidetone(true) },
		func() error { return dev.TuneStart() },
		func() error { return dev.TuneStop() },
		func() error { return dev.SendText("TU") },
		func() error { return dev.Keystroke('T') },
	}
	for _, call := range calls {
		assert.ErrorIs(t, call(), ErrDeviceUnavailable)
	}
}

func TestDeviceWriteFailureDetaches(t *testing.T) {
	port := hardware.NewMockPort()
	dev := NewDevice(0)
	dev.Attach(port)

	var hookErr error
	dev.OnDetach(func(err error) { hookErr = err })

	port.FailWrites(errors.New("usb unplugged"))
	err := dev.SetSpeed(30)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.False(t, dev.Connected())
	assert.True(t, port.Closed())
	assert.EqualError(t, hookErr, "usb unplugged")

	assert.ErrorIs(t, dev.SendText("CQ"), ErrDeviceUnavailable)
}

func TestDeviceSerializesWriters(t *testing.T) {
	port := hardware.NewMockPort()
	dev := NewDevice(0)
	dev.Attach(port)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(wpm int) {
			defer wg.Done()
			dev.SetSpeed(wpm)
		}(i)
	}
	wg.Wait()

	writes := port.Writes()
	require.Len(t, writes, 60)
	for i := 0; i < len(writes); i += 3 {
		assert.Equal(t, "\x03\n", writes[i])
		assert.True(t, strings.HasPrefix(writes[i+1], "*6"))
		assert.Equal(t, "*C709\n", writes[i+2])
	}
}

func TestControllerSpeed(t *testing.T) {
	t.Run("Sends Speed", func(t *testing.T) {
		c, port := newTestController(t)
		wpm, clamped, err := c.SetSpeed(32)
		require.NoError(t, err)
		assert.False(t, clamped)
		assert.Equal(t, 32, wpm)
		assert.Equal(t, frame("*632"), port.Written())
	})

	t.Run("Out Of Range Resets To Default", func(t *testing.T) {
		for _, bad := range []int{0, -3, 100} {
			c, port := newTestController(t)
			c.SetSpeed(40)
			port.Reset()

			wpm, clamped, err := c.SetSpeed(bad)
			require.NoError(t, err)
			assert.True(t, clamped)
			assert.Equal(t, DefaultSpeed, wpm)
			assert.Equal(t, frame("*625"), port.Written())
		}
	})

	t.Run("Step Stops At Limits", func(t *testing.T) {
		c, port := newTestController(t)
		c.SetSpeed(99)
		port.Reset()
		wpm, err := c.SpeedUp()
		require.NoError(t, err)
		assert.Equal(t, 99, wpm)
		assert.Empty(t, port.Written())

		c.SetSpeed(1)
		port.Reset()
		wpm, err = c.SpeedDown()
		require.NoError(t, err)
		assert.Equal(t, 1, wpm)
		assert.Empty(t, port.Written())

		wpm, err = c.SpeedUp()
		require.NoError(t, err)
		assert.Equal(t, 2, wpm)
		assert.Equal(t, frame("*602"), port.Written())
	})
}

func TestControllerKnob(t *testing.T) {
	c, port := newTestController(t)
	preempted := 0
	c.OnPreempt(func() { preempted++ })

	require.NoError(t, c.SetKnob(true))
	assert.Equal(t, ModeKnobSpeed, c.Mode())
	assert.Equal(t, 1, preempted)
	assert.Equal(t, frame("*B6"), port.Written())

	_, _, err := c.SetSpeed(30)
	assert.ErrorIs(t, err, ErrKnobActive)
	_, err = c.SpeedUp()
	assert.ErrorIs(t, err, ErrKnobActive)

	port.Reset()
	require.NoError(t, c.SetKnob(false))
	assert.Equal(t, ModeIdle, c.Mode())
	assert.Equal(t, frame("*A6")+frame("*625"), port.Written())

	port.Reset()
	require.NoError(t, c.SetKnob(false))
	assert.Empty(t, port.Written())
}

func TestControllerTuning(t *testing.T) {
	t.Run("Preempts Before Writing", func(t *testing.T) {
		c, port := newTestController(t)
		var writtenAtPreempt string
		c.OnPreempt(func() { writtenAtPreempt = port.Written() })

		require.NoError(t, c.TuneStart())
		assert.Equal(t, "", writtenAtPreempt)
		assert.Equal(t, ModeTuning, c.Mode())
		assert.Equal(t, "\x03\n*3**7\n", port.Written())
	})

	t.Run("Actions Disabled While Tuning", func(t *testing.T) {
		c, port := newTestController(t)
		require.NoError(t, c.TuneStart())
		port.Reset()

		_, err := c.SendText("CQ")
		assert.ErrorIs(t, err, ErrTuning)
		_, _, err = c.SetSpeed(30)
		assert.ErrorIs(t, err, ErrTuning)
		assert.ErrorIs(t, c.SetSidetone(false), ErrTuning)
		assert.ErrorIs(t, c.SetKnob(true), ErrTuning)
		assert.ErrorIs(t, c.Keystroke("e"), ErrTuning)
		assert.Empty(t, port.Written())
	})

	t.Run("Stop Pulses Knob And Resends Speed", func(t *testing.T) {
		c, port := newTestController(t)
		require.NoError(t, c.TuneStart())
		port.Reset()

		require.NoError(t, c.TuneStop())
		assert.Equal(t, ModeIdle, c.Mode())
		want := "\x03\n\n*9\n" + frame("*B6") + frame("*A6") + frame("*625")
		assert.Equal(t, want, port.Written())
	})

	t.Run("Knob Restored After Tune", func(t *testing.T) {
		c, port := newTestController(t)
		require.NoError(t, c.SetKnob(true))
		require.NoError(t, c.TuneStart())
		assert.True(t, c.State().Knob)
		port.Reset()

		require.NoError(t, c.TuneStop())
		assert.Equal(t, ModeKnobSpeed, c.Mode())
		want := "\x03\n\n*9\n" + frame("*B6") + frame("*A6") + frame("*625") + frame("*B6")
		assert.Equal(t, want, port.Written())
	})

	t.Run("Toggle", func(t *testing.T) {
		c, _ := newTestController(t)
		mode, err := c.ToggleTune()
		require.NoError(t, err)
		assert.Equal(t, ModeTuning, mode)
		mode, err = c.ToggleTune()
		require.NoError(t, err)
		assert.Equal(t, ModeIdle, mode)
	})

	t.Run("Shutdown Stops Tune", func(t *testing.T) {
		c, port := newTestController(t)
		require.NoError(t, c.TuneStart())
		port.Reset()
		require.NoError(t, c.Shutdown())
		assert.True(t, strings.HasPrefix(port.Written(), "\x03\n\n*9\n"))
		assert.Equal(t, ModeIdle, c.Mode())

		port.Reset()
		require.NoError(t, c.Shutdown())
		assert.Empty(t, port.Written())
	})

	t.Run("Failed Stop Keeps Knob For Sync", func(t *testing.T) {
		c, port := newTestController(t)
		require.NoError(t, c.SetKnob(true))
		require.NoError(t, c.TuneStart())

		port.FailWrites(errors.New("gone"))
		assert.ErrorIs(t, c.TuneStop(), ErrDeviceUnavailable)
		assert.Equal(t, ModeTuning, c.Mode())
		assert.True(t, c.State().Knob)

		fresh := hardware.NewMockPort()
		c.Device().Attach(fresh)
		require.NoError(t, c.Sync())
		assert.Equal(t, ModeKnobSpeed, c.Mode())
		assert.Equal(t, frame("*B6")+frame("*A1"), fresh.Written())
	})

	t.Run("Failed Start Keeps Mode", func(t *testing.T) {
		c, port := newTestController(t)
		port.FailWrites(errors.New("gone"))
		assert.ErrorIs(t, c.TuneStart(), ErrDeviceUnavailable)
		assert.Equal(t, ModeIdle, c.Mode())
	})
}

func TestControllerSendText(t *testing.T) {
	c, port := newTestController(t)
	d, err := c.SendText("CQ TEST")
	require.NoError(t, err)
	assert.Equal(t, morse.Estimate("CQ TEST", 25), d)
	assert.Equal(t, "CQ TEST\n", port.Written())

	port.Reset()
	d, err = c.SendText("")
	require.NoError(t, err)
	assert.Zero(t, d)
	assert.Empty(t, port.Written())

	require.NoError(t, c.Keystroke("5nn"))
	assert.Equal(t, "5nn", port.Written())
}

func TestControllerSync(t *testing.T) {
	c, port := newTestController(t)
	require.NoError(t, c.Sync())
	assert.Equal(t, frame("*A6")+frame("*625")+frame("*A1"), port.Written())

	c.RestoreKnob(true)
	port.Reset()
	require.NoError(t, c.Sync())
	assert.Equal(t, frame("*B6")+frame("*A1"), port.Written())
}

func TestMonitor(t *testing.T) {
	port := hardware.NewMockPort()
	complete := latest.NewSignal()
	m := NewMonitor(complete)

	var mu sync.Mutex
	var lines []string
	m.OnLine(func(s string) {
		mu.Lock()
		lines = append(lines, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, port) }()

	port.Feed("CQ TE")
	port.Feed("ST\r\n  \nTU\xff\n73")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 2
	}, time.Second, 5*time.Millisecond)

	last, ok := m.LastLine()
	require.True(t, ok)
	assert.Equal(t, "TU", last)
	assert.True(t, complete.Clear())
	mu.Lock()
	assert.Equal(t, []string{"CQ TEST", "TU"}, lines)
	mu.Unlock()

	port.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, hardware.ErrPortClosed)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on closed port")
	}
}
