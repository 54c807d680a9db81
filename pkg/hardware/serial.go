package hardware

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"go.bug.st/serial"

	"github.com/dougsko/mm3d/pkg/logging"
)

// Keyer link parameters: 1200 baud, 8 data bits, no parity, 1 stop bit
const (
	DefaultBaudRate    = 1200
	DefaultReadTimeout = time.Second
)

// SerialConfig represents keyer serial link configuration
type SerialConfig struct {
	Device      string        // Serial device path (e.g., /dev/ttyUSB0)
	BaudRate    int           // Serial baud rate
	ReadTimeout time.Duration // Read returns (0, nil) after this long without data
}

// SerialPort is the part of a serial link the keyer uses
type SerialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

// OpenSerialPort opens the keyer link 8N1
func OpenSerialPort(config SerialConfig) (SerialPort, error) {
	if config.Device == "" {
		return nil, fmt.Errorf("no serial device configured")
	}
	baud := config.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	timeout := config.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(config.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", config.Device, err)
	}

	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return port, nil
}

// USB serial adapters that enumeration can miss, by platform
var devicePatterns = map[string][]string{
	"linux": {
		"/dev/ttyUSB*",
		"/dev/ttyACM*",
		"/dev/serial/by-id/*",
	},
	"darwin": {
		"/dev/tty.usb*",
		"/dev/tty.SLAB_*",
		"/dev/tty.wchusbserial*",
	},
}

// ListSerialPorts returns the serial devices a keyer could be on
func ListSerialPorts() []string {
	seen := make(map[string]bool)

	ports, err := serial.GetPortsList()
	if err != nil {
		logging.Warnf("hardware", "Serial port enumeration failed: %v", err)
	}
	for _, p := range ports {
		seen[p] = true
	}
	for _, pattern := range devicePatterns[runtime.GOOS] {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			seen[m] = true
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
