package hardware

import (
	"fmt"
	"sync"

	"github.com/dougsko/mm3d/pkg/logging"
)

// MockRig implements Rig for testing and for running without CAT control
type MockRig struct {
	config RigConfig
	mutex  sync.RWMutex

	connected bool
	frequency int64
	failNext  error
}

// NewMockRig creates a new mock rig tuned to config.FrequencyHz
func NewMockRig(config RigConfig) *MockRig {
	freq := config.FrequencyHz
	if freq <= 0 {
		freq = 14025000
	}
	return &MockRig{
		config:    config,
		frequency: freq,
	}
}

// Initialize marks the mock rig connected
func (r *MockRig) Initialize() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.connected = true
	logging.Infof("rig", "Mock rig connected at %s", FormatFrequency(r.frequency))
	return nil
}

// Close disconnects the mock rig
func (r *MockRig) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.connected = false
	return nil
}

// SetFrequency retunes the mock rig
func (r *MockRig) SetFrequency(freq int64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.connected {
		return fmt.Errorf("rig not connected")
	}
	r.frequency = freq
	return nil
}

// FailNext makes the next GetFrequency call return err
func (r *MockRig) FailNext(err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.failNext = err
}

// GetFrequency gets the mock rig frequency
func (r *MockRig) GetFrequency() (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.connected {
		return 0, fmt.Errorf("rig not connected")
	}
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return 0, err
	}
	return r.frequency, nil
}

// IsConnected returns mock connection state
func (r *MockRig) IsConnected() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.connected
}
