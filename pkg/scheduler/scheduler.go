// Package scheduler repeats the CQ macro in the background while the
// keyer is idle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dougsko/mm3d/pkg/keyer"
	"github.com/dougsko/mm3d/pkg/latest"
	"github.com/dougsko/mm3d/pkg/logging"
)

// DefaultInterval is the pause between calls when none is configured
const DefaultInterval = 2500 * time.Millisecond

// ErrNotIdle is returned by Start while the keyer is tuning
var ErrNotIdle = errors.New("repeat needs the keyer idle")

// ModeSource reports the keyer mode
type ModeSource interface {
	Mode() keyer.Mode
}

// SendFunc transmits the CQ macro and returns how long it takes to key
type SendFunc func() (time.Duration, error)

type cycle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler runs at most one repeat cycle at a time
type Scheduler struct {
	mutex    sync.Mutex
	sendMu   sync.Mutex
	modes    ModeSource
	send     SendFunc
	complete *latest.Signal
	interval time.Duration
	current  *cycle
	cycles   int
	onExit   func(error)
}

// New creates a stopped scheduler. complete may be nil.
func New(modes ModeSource, send SendFunc, complete *latest.Signal) *Scheduler {
	return &Scheduler{
		modes:    modes,
		send:     send,
		complete: complete,
		interval: DefaultInterval,
	}
}

// OnExit registers fn to run when a cycle ends because a send failed.
// fn runs on the cycle goroutine and must not call Stop.
func (s *Scheduler) OnExit(fn func(error)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onExit = fn
}

// SetInterval parses seconds from text. Invalid or non-positive values
// fall back to DefaultInterval and report false.
func (s *Scheduler) SetInterval(text string) bool {
	interval, ok := ParseInterval(text)

	s.mutex.Lock()
	s.interval = interval
	s.mutex.Unlock()
	return ok
}

// ParseInterval converts seconds text to a duration, defaulting bad input
func ParseInterval(text string) (time.Duration, bool) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return DefaultInterval, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Interval returns the pause between calls
func (s *Scheduler) Interval() time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.interval
}

// Start begins a cycle. It is a no-op while one is active.
func (s *Scheduler) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.current != nil {
		return nil
	}
	switch s.modes.Mode() {
	case keyer.ModeTuning:
		return ErrNotIdle
	case keyer.ModeKnobSpeed:
		return fmt.Errorf("repeat disabled: %w", keyer.ErrKnobActive)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &cycle{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	s.current = c
	s.cycles++

	logging.Info("scheduler", "Repeat started", map[string]interface{}{"interval": s.interval.String()})
	go s.run(c)
	return nil
}

// Stop cancels the active cycle. When Stop returns no further send will
// be issued; a send already on the wire is allowed to finish.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	c := s.current
	s.current = nil
	s.mutex.Unlock()

	if c == nil {
		return
	}
	c.cancel()
	s.sendMu.Lock()
	s.sendMu.Unlock()
	logging.Info("scheduler", "Repeat stopped")
}

// Active reports whether a cycle is running
func (s *Scheduler) Active() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.current != nil
}

// Cycles returns how many cycles have been started
func (s *Scheduler) Cycles() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.cycles
}

// Wait blocks until the active cycle, if any, has exited
func (s *Scheduler) Wait() {
	s.mutex.Lock()
	c := s.current
	s.mutex.Unlock()
	if c != nil {
		<-c.done
	}
}

func (s *Scheduler) run(c *cycle) {
	err := s.loop(c)

	s.mutex.Lock()
	if s.current == c {
		s.current = nil
	}
	hook := s.onExit
	s.mutex.Unlock()
	close(c.done)

	if err != nil {
		logging.Warn("scheduler", "Repeat ended", map[string]interface{}{"error": err})
		if hook != nil {
			hook(err)
		}
	}
}

func (s *Scheduler) loop(c *cycle) error {
	for {
		if s.complete != nil {
			s.complete.Clear()
		}

		s.sendMu.Lock()
		if c.ctx.Err() != nil || s.modes.Mode() != keyer.ModeIdle {
			s.sendMu.Unlock()
			return nil
		}
		duration, err := s.send()
		s.sendMu.Unlock()
		if err != nil {
			return err
		}

		if !sleep(c.ctx, duration) {
			return nil
		}
		if s.complete != nil {
			s.complete.Raise()
		}
		if !sleep(c.ctx, s.Interval()) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
