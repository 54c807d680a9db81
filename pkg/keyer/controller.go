package keyer

import (
	"errors"
	"sync"
	"time"

	"github.com/dougsko/mm3d/pkg/logging"
	"github.com/dougsko/mm3d/pkg/morse"
)

var (
	// ErrTuning is returned for actions that are disabled while tuning
	ErrTuning = errors.New("device is tuning")
	// ErrKnobActive is returned for speed changes while the knob sets speed
	ErrKnobActive = errors.New("knob speed control active")
)

// Speed limits in WPM
const (
	MinSpeed     = 1
	MaxSpeed     = 99
	DefaultSpeed = 25
)

// Mode is the device operating mode
type Mode int

const (
	ModeIdle Mode = iota
	ModeTuning
	ModeKnobSpeed
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeTuning:
		return "tuning"
	case ModeKnobSpeed:
		return "knob"
	default:
		return "unknown"
	}
}

// State is a snapshot of the controller
type State struct {
	Mode     Mode   `json:"-"`
	ModeName string `json:"mode"`
	Speed    int    `json:"speed"`
	Sidetone bool   `json:"sidetone"`
	Knob     bool   `json:"knob"`
}

// Controller is the device mode state machine. Its lock is held across
// device writes so a mode check and the write it guards are atomic.
type Controller struct {
	mutex    sync.Mutex
	device   *Device
	mode     Mode
	speed    int
	sidetone bool
	knobWas  bool
	pulse    time.Duration
	preempt  func()
}

// NewController creates an idle controller. An out-of-range speed becomes
// DefaultSpeed.
func NewController(device *Device, speed int, sidetone bool) *Controller {
	if speed < MinSpeed || speed > MaxSpeed {
		speed = DefaultSpeed
	}
	return &Controller{
		device:   device,
		speed:    speed,
		sidetone: sidetone,
		pulse:    100 * time.Millisecond,
	}
}

// SetKnobPulse sets the pause between the knob on and off frames sent
// when a tune ends
func (c *Controller) SetKnobPulse(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.pulse = d
}

// OnPreempt registers fn to stop background transmissions. It runs before
// entering Tuning or KnobSpeed, outside the controller lock.
func (c *Controller) OnPreempt(fn func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.preempt = fn
}

func (c *Controller) runPreempt() {
	c.mutex.Lock()
	fn := c.preempt
	c.mutex.Unlock()
	if fn != nil {
		fn()
	}
}

// Device returns the underlying link
func (c *Controller) Device() *Device {
	return c.device
}

// Mode returns the current mode
func (c *Controller) Mode() Mode {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.mode
}

// Speed returns the fixed speed
func (c *Controller) Speed() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.speed
}

// State returns a snapshot
func (c *Controller) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return State{
		Mode:     c.mode,
		ModeName: c.mode.String(),
		Speed:    c.speed,
		Sidetone: c.sidetone,
		Knob:     c.mode == ModeKnobSpeed || (c.mode == ModeTuning && c.knobWas),
	}
}

// SetSpeed sends a new fixed speed. A value outside 1-99 is replaced by
// DefaultSpeed and reported through clamped.
func (c *Controller) SetSpeed(wpm int) (applied int, clamped bool, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.speedAllowedLocked(); err != nil {
		return c.speed, false, err
	}
	if wpm < MinSpeed || wpm > MaxSpeed {
		wpm = DefaultSpeed
		clamped = true
	}
	if err := c.device.SetSpeed(wpm); err != nil {
		return c.speed, clamped, err
	}
	c.speed = wpm
	return wpm, clamped, nil
}

// SpeedUp raises the speed by one, stopping at MaxSpeed
func (c *Controller) SpeedUp() (int, error) {
	return c.step(1)
}

// SpeedDown lowers the speed by one, stopping at MinSpeed
func (c *Controller) SpeedDown() (int, error) {
	return c.step(-1)
}

func (c *Controller) step(delta int) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.speedAllowedLocked(); err != nil {
		return c.speed, err
	}
	next := c.speed + delta
	if next < MinSpeed || next > MaxSpeed {
		return c.speed, nil
	}
	if err := c.device.SetSpeed(next); err != nil {
		return c.speed, err
	}
	c.speed = next
	return next, nil
}

func (c *Controller) speedAllowedLocked() error {
	switch c.mode {
	case ModeTuning:
		return ErrTuning
	case ModeKnobSpeed:
		return ErrKnobActive
	}
	return nil
}

// SetKnob moves between Idle and KnobSpeed. Disabling the knob re-sends
// the fixed speed.
func (c *Controller) SetKnob(on bool) error {
	if on {
		c.runPreempt()
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.mode == ModeTuning {
		return ErrTuning
	}
	if on == (c.mode == ModeKnobSpeed) {
		return nil
	}
	if on {
		if err := c.device.SetKnob(true); err != nil {
			return err
		}
		c.mode = ModeKnobSpeed
		return nil
	}

	if err := c.device.SetKnob(false); err != nil {
		return err
	}
	c.mode = ModeIdle
	return c.device.SetSpeed(c.speed)
}

// SetSidetone switches the sidetone
func (c *Controller) SetSidetone(on bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.mode == ModeTuning {
		return ErrTuning
	}
	if err := c.device.SetSidetone(on); err != nil {
		return err
	}
	c.sidetone = on
	return nil
}

// TuneStart enters Tuning, remembering whether the knob was in control
func (c *Controller) TuneStart() error {
	c.runPreempt()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.mode == ModeTuning {
		return nil
	}
	if err := c.device.TuneStart(); err != nil {
		return err
	}
	c.knobWas = c.mode == ModeKnobSpeed
	c.mode = ModeTuning
	logging.Info("keyer", "Tune started")
	return nil
}

// TuneStop leaves Tuning. The knob is pulsed on then off to resync speed
// reporting, then re-enabled if it was in control before the tune.
func (c *Controller) TuneStop() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.mode != ModeTuning {
		return nil
	}

	// On a failed write the mode stays Tuning with knobWas kept, so the
	// Sync after reconnect restores the pre-tune knob state.
	if err := c.device.TuneStop(); err != nil {
		return err
	}
	if err := c.device.SetKnob(true); err != nil {
		return err
	}
	if c.pulse > 0 {
		time.Sleep(c.pulse)
	}
	if err := c.device.SetKnob(false); err != nil {
		return err
	}
	if err := c.device.SetSpeed(c.speed); err != nil {
		return err
	}
	if c.knobWas {
		if err := c.device.SetKnob(true); err != nil {
			return err
		}
		c.mode = ModeKnobSpeed
	} else {
		c.mode = ModeIdle
	}
	c.knobWas = false
	logging.Info("keyer", "Tune stopped", map[string]interface{}{"mode": c.mode.String()})
	return nil
}

// ToggleTune starts a tune when not tuning and stops it otherwise
func (c *Controller) ToggleTune() (Mode, error) {
	if c.Mode() == ModeTuning {
		err := c.TuneStop()
		return c.Mode(), err
	}
	err := c.TuneStart()
	return c.Mode(), err
}

// SendText keys text and returns the estimated time to send it
func (c *Controller) SendText(text string) (time.Duration, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.mode == ModeTuning {
		return 0, ErrTuning
	}
	if text == "" {
		return 0, nil
	}
	if err := c.device.SendText(text); err != nil {
		return 0, err
	}
	return morse.Estimate(text, c.speed), nil
}

// Keystroke passes typed characters through to the keyer
func (c *Controller) Keystroke(text string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.mode == ModeTuning {
		return ErrTuning
	}
	for i := 0; i < len(text); i++ {
		if err := c.device.Keystroke(text[i]); err != nil {
			return err
		}
	}
	return nil
}

// Sync sends the knob, speed and sidetone settings to a freshly attached
// device. A tune in progress is abandoned.
func (c *Controller) Sync() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.mode == ModeTuning {
		if c.knobWas {
			c.mode = ModeKnobSpeed
		} else {
			c.mode = ModeIdle
		}
		c.knobWas = false
	}

	if c.mode == ModeKnobSpeed {
		if err := c.device.SetKnob(true); err != nil {
			return err
		}
	} else {
		if err := c.device.SetKnob(false); err != nil {
			return err
		}
		if err := c.device.SetSpeed(c.speed); err != nil {
			return err
		}
	}
	return c.device.SetSidetone(c.sidetone)
}

// RestoreKnob sets the knob state without writing, for startup before a
// device is attached
func (c *Controller) RestoreKnob(on bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.mode == ModeTuning {
		return
	}
	if on {
		c.mode = ModeKnobSpeed
	} else {
		c.mode = ModeIdle
	}
}

// Shutdown leaves the device idle: a tune in progress is stopped
func (c *Controller) Shutdown() error {
	if c.Mode() != ModeTuning {
		return nil
	}
	return c.TuneStop()
}
