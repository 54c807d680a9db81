package keyer

import (
	"context"
	"strings"

	"github.com/dougsko/mm3d/pkg/hardware"
	"github.com/dougsko/mm3d/pkg/latest"
	"github.com/dougsko/mm3d/pkg/logging"
)

// Monitor drains the keyer's echo stream. Only the most recent line is
// kept, and each line raises the completion signal.
type Monitor struct {
	last     latest.Cell[string]
	complete *latest.Signal
	onLine   func(string)
}

// NewMonitor creates a monitor raising complete for each echoed line
func NewMonitor(complete *latest.Signal) *Monitor {
	if complete == nil {
		complete = latest.NewSignal()
	}
	return &Monitor{complete: complete}
}

// OnLine registers fn to receive each echoed line. Set it before Run.
func (m *Monitor) OnLine(fn func(string)) {
	m.onLine = fn
}

// LastLine returns the most recent echoed line
func (m *Monitor) LastLine() (string, bool) {
	return m.last.Load()
}

// Complete returns the completion signal
func (m *Monitor) Complete() *latest.Signal {
	return m.complete
}

// Run reads port until ctx is done or the port fails. A read returning no
// data is a timeout, not an error.
func (m *Monitor) Run(ctx context.Context, port hardware.SerialPort) error {
	buf := make([]byte, 256)
	var line []byte

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Debugf("keyer", "Monitor stopped: %v", err)
			return err
		}

		for _, b := range buf[:n] {
			switch {
			case b == '\n':
				m.publish(string(line))
				line = line[:0]
			case b > 127:
				// non-ASCII noise from the link is dropped
			default:
				line = append(line, b)
			}
		}
	}
}

func (m *Monitor) publish(raw string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return
	}
	m.last.Store(text)
	m.complete.Raise()
	if m.onLine != nil {
		m.onLine(text)
	}
}
