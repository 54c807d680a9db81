package keyer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dougsko/mm3d/pkg/hardware"
	"github.com/dougsko/mm3d/pkg/logging"
)

// ErrDeviceUnavailable is returned when no link is attached or a write
// fails. The caller must reconnect before trying again.
var ErrDeviceUnavailable = errors.New("device unavailable")

// Command frames understood by the MM-3
const (
	CancelByte        = "\x03"
	TerminatorCommand = "*C709"
	TerminatorTune    = "*9"

	CmdTuneStart   = "*3**7"
	CmdKnobOn      = "*B6"
	CmdKnobOff     = "*A6"
	CmdSidetoneOn  = "*A1"
	CmdSidetoneOff = "*B1"
)

// DefaultSettle is the pause after each frame before reads resume
const DefaultSettle = 100 * time.Millisecond

// SpeedCommand returns the speed frame for wpm, 01-99
func SpeedCommand(wpm int) string {
	return fmt.Sprintf("*6%02d", wpm)
}

// Device writes framed commands to the keyer link. Each frame is written
// under one lock so concurrent callers never interleave on the wire.
type Device struct {
	mutex    sync.Mutex
	port     hardware.SerialPort
	settle   time.Duration
	onDetach func(error)
}

// NewDevice creates a device with no link attached
func NewDevice(settle time.Duration) *Device {
	if settle < 0 {
		settle = 0
	}
	return &Device{settle: settle}
}

// OnDetach registers fn to run after a failed write drops the link
func (d *Device) OnDetach(fn func(error)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onDetach = fn
}

// Attach makes port the active link, closing any previous one
func (d *Device) Attach(port hardware.SerialPort) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.port != nil && d.port != port {
		d.port.Close()
	}
	d.port = port
}

// Close closes and detaches the link
func (d *Device) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

// Connected reports whether a link is attached
func (d *Device) Connected() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.port != nil
}

// SendCommand emits the cancel byte, the command and, unless terminate is
// false, the terminator for the command class
func (d *Device) SendCommand(command string, terminate, tune bool) error {
	lines := []string{CancelByte, command}
	if terminate {
		if tune {
			lines = append(lines, TerminatorTune)
		} else {
			lines = append(lines, TerminatorCommand)
		}
	}
	return d.write(lines, false)
}

// SendText emits macro text as one line, then drops the echo backlog
func (d *Device) SendText(text string) error {
	return d.write([]string{text}, true)
}

// Keystroke passes one ASCII byte straight through
func (d *Device) Keystroke(b byte) error {
	if b > 127 {
		return fmt.Errorf("keystroke %#x is not ASCII", b)
	}

	d.mutex.Lock()
	port := d.port
	if port == nil {
		d.mutex.Unlock()
		return ErrDeviceUnavailable
	}
	_, err := port.Write([]byte{b})
	if err != nil {
		d.detachLocked()
	}
	hook := d.onDetach
	d.mutex.Unlock()

	if err != nil {
		return d.failed(hook, err)
	}
	return nil
}

// SetSpeed sends the speed frame
func (d *Device) SetSpeed(wpm int) error {
	return d.SendCommand(SpeedCommand(wpm), true, false)
}

// SetKnob enables or disables knob speed control
func (d *Device) SetKnob(on bool) error {
	if on {
		return d.SendCommand(CmdKnobOn, true, false)
	}
	return d.SendCommand(CmdKnobOff, true, false)
}

// SetSidetone switches the sidetone
func (d *Device) SetSidetone(on bool) error {
	if on {
		return d.SendCommand(CmdSidetoneOn, true, false)
	}
	return d.SendCommand(CmdSidetoneOff, true, false)
}

// TuneStart keys the transmitter continuously
func (d *Device) TuneStart() error {
	return d.SendCommand(CmdTuneStart, false, true)
}

// TuneStop ends a tune
func (d *Device) TuneStop() error {
	return d.SendCommand("", true, true)
}

func (d *Device) write(lines []string, resetInput bool) error {
	d.mutex.Lock()
	port := d.port
	if port == nil {
		d.mutex.Unlock()
		return ErrDeviceUnavailable
	}

	var err error
	for _, line := range lines {
		if _, err = port.Write([]byte(line + "\n")); err != nil {
			break
		}
	}
	if err == nil && d.settle > 0 {
		time.Sleep(d.settle)
	}
	if err == nil && resetInput {
		err = port.ResetInputBuffer()
	}
	if err != nil {
		d.detachLocked()
	}
	hook := d.onDetach
	d.mutex.Unlock()

	if err != nil {
		return d.failed(hook, err)
	}
	return nil
}

func (d *Device) detachLocked() {
	if d.port != nil {
		d.port.Close()
		d.port = nil
	}
}

func (d *Device) failed(hook func(error), err error) error {
	logging.Error("keyer", "Write failed, link closed", map[string]interface{}{"error": err})
	if hook != nil {
		hook(err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
