package hardware

import (
	"fmt"
	"sync"

	"github.com/dougsko/mm3d/pkg/logging"
)

// HardwareConfig represents hardware configuration
type HardwareConfig struct {
	Serial SerialConfig
	Rig    RigConfig
}

// PortOpener opens the keyer link. Tests substitute one returning a MockPort.
type PortOpener func(config SerialConfig) (SerialPort, error)

// HardwareManager owns the rig collaborator and opens keyer links
type HardwareManager struct {
	config HardwareConfig
	mutex  sync.RWMutex

	opener PortOpener
	rig    Rig
	owned  interface{ Close() error } // rig opened by Initialize

	initialized bool
}

// NewHardwareManager creates a new hardware manager
func NewHardwareManager(config HardwareConfig) *HardwareManager {
	return &HardwareManager{
		config: config,
		opener: OpenSerialPort,
	}
}

// SetPortOpener replaces the function used to open keyer links
func (h *HardwareManager) SetPortOpener(opener PortOpener) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.opener = opener
}

// Initialize brings up the rig frequency source if enabled
func (h *HardwareManager) Initialize() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initialized {
		return nil
	}

	logging.Info("hardware", "Initializing hardware manager")

	if h.config.Rig.Enabled {
		if h.config.Rig.Model != "" {
			// a rig that cannot be opened only costs the frequency display
			rig, err := NewHamlibRig(h.config.Rig)
			if err == nil {
				err = rig.Initialize()
			}
			if err != nil {
				logging.Warnf("hardware", "Rig control unavailable, frequency will show %s: %v", NoFrequency, err)
			} else {
				h.rig = rig
				h.owned = rig
			}
		} else {
			rig := NewMockRig(h.config.Rig)
			if err := rig.Initialize(); err != nil {
				return fmt.Errorf("failed to initialize rig: %w", err)
			}
			h.rig = rig
			h.owned = rig
		}
	}

	h.initialized = true
	return nil
}

// OpenKeyer opens the keyer serial link. An empty device uses the
// configured one.
func (h *HardwareManager) OpenKeyer(device string) (SerialPort, error) {
	h.mutex.Lock()
	cfg := h.config.Serial
	if device != "" {
		cfg.Device = device
		h.config.Serial.Device = device
	}
	opener := h.opener
	h.mutex.Unlock()

	port, err := opener(cfg)
	if err != nil {
		return nil, err
	}
	logging.Info("hardware", "Keyer link open", map[string]interface{}{
		"device": cfg.Device,
		"baud":   cfg.BaudRate,
	})
	return port, nil
}

// Rig returns the frequency source, or nil when none is configured
func (h *HardwareManager) Rig() Rig {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.rig == nil {
		return nil
	}
	return h.rig
}

// SetRig replaces the frequency source
func (h *HardwareManager) SetRig(rig Rig) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.rig = rig
}

// Device returns the configured keyer device path
func (h *HardwareManager) Device() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.config.Serial.Device
}

// IsInitialized returns whether Initialize has run
func (h *HardwareManager) IsInitialized() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.initialized
}

// Close shuts down the rig collaborator
func (h *HardwareManager) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.initialized {
		return nil
	}

	if h.owned != nil {
		if err := h.owned.Close(); err != nil {
			logging.Warnf("hardware", "Error closing rig: %v", err)
		}
	}

	h.initialized = false
	logging.Info("hardware", "Hardware manager shut down")
	return nil
}
