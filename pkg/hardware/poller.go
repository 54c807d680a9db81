package hardware

import (
	"context"
	"time"

	"github.com/dougsko/mm3d/pkg/latest"
)

// DefaultPollInterval is how often the rig is asked for its frequency
const DefaultPollInterval = time.Second

// FrequencyPoller asks the rig for its frequency on a fixed interval and
// offers the display string to a single-slot queue
type FrequencyPoller struct {
	rig      Rig
	interval time.Duration
	out      *latest.Slot[string]
}

// NewFrequencyPoller creates a poller; interval <= 0 uses DefaultPollInterval
func NewFrequencyPoller(rig Rig, interval time.Duration, out *latest.Slot[string]) *FrequencyPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &FrequencyPoller{rig: rig, interval: interval, out: out}
}

// Poll reads the rig once and returns the display string
func (p *FrequencyPoller) Poll() string {
	if p.rig == nil || !p.rig.IsConnected() {
		return NoFrequency
	}
	hz, err := p.rig.GetFrequency()
	if err != nil || hz <= 0 {
		return NoFrequency
	}
	return FormatFrequency(hz)
}

// Run polls until ctx is done
func (p *FrequencyPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.out.Offer(p.Poll())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.out.Offer(p.Poll())
		}
	}
}
