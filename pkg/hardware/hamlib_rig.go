//go:build hamlib

package hardware

/*
#cgo pkg-config: hamlib
#include <hamlib/rig.h>
#include <stdlib.h>
#include <stdio.h>

static void set_hamlib_debug(int level) {
    char level_str[16];
    snprintf(level_str, sizeof(level_str), "%d", level);
    setenv("HAMLIB_DEBUG_LEVEL", level_str, 1);
    rig_set_debug((enum rig_debug_level_e)level);
}

static int set_conf(RIG *rig, const char *name, const char *value) {
    if (rig && value) {
        token_t token = rig_token_lookup(rig, name);
        if (token != RIG_CONF_END) {
            return rig_set_conf(rig, token, value);
        }
    }
    return -1;
}

static const char *model_name(RIG *rig) {
    if (rig && rig->caps) {
        return rig->caps->model_name;
    }
    return "Unknown";
}

static const char *mfg_name(RIG *rig) {
    if (rig && rig->caps) {
        return rig->caps->mfg_name;
    }
    return "Unknown";
}
*/
import "C"

import (
	"fmt"
	"strconv"
	"sync"
	"unsafe"

	"github.com/dougsko/mm3d/pkg/logging"
)

// HamlibRig reads the operating frequency over CAT using Hamlib
type HamlibRig struct {
	config RigConfig
	rig    *C.RIG
	mutex  sync.RWMutex

	connected bool
}

// NewHamlibRig creates a rig for config.Model, a Hamlib model number
func NewHamlibRig(config RigConfig) (*HamlibRig, error) {
	if _, err := strconv.Atoi(config.Model); err != nil {
		return nil, fmt.Errorf("invalid hamlib model %q: want a model number", config.Model)
	}
	return &HamlibRig{config: config}, nil
}

// Initialize opens the CAT connection
func (r *HamlibRig) Initialize() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if logging.DebugEnabled() {
		C.set_hamlib_debug(C.RIG_DEBUG_VERBOSE)
	} else {
		C.set_hamlib_debug(C.RIG_DEBUG_NONE)
	}

	model, _ := strconv.Atoi(r.config.Model)
	r.rig = C.rig_init(C.rig_model_t(model))
	if r.rig == nil {
		return fmt.Errorf("failed to initialize rig model %s", r.config.Model)
	}

	if r.config.Device != "" {
		if err := r.setConf("rig_pathname", r.config.Device); err != nil {
			logging.Warnf("rig", "Failed to set device path, using default: %v", err)
		}
	}
	if r.config.BaudRate > 0 {
		if err := r.setConf("serial_speed", strconv.Itoa(r.config.BaudRate)); err != nil {
			logging.Warnf("rig", "Failed to set baud rate, using default: %v", err)
		}
	}

	if ret := C.rig_open(r.rig); ret != C.RIG_OK {
		C.rig_cleanup(r.rig)
		r.rig = nil
		return fmt.Errorf("failed to open rig connection: %s", C.GoString(C.rigerror(ret)))
	}

	r.connected = true
	logging.Info("rig", "Rig connected", map[string]interface{}{
		"manufacturer": C.GoString(C.mfg_name(r.rig)),
		"model":        C.GoString(C.model_name(r.rig)),
		"device":       r.config.Device,
	})
	return nil
}

func (r *HamlibRig) setConf(name, value string) error {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	cValue := C.CString(value)
	defer C.free(unsafe.Pointer(cValue))

	if ret := C.set_conf(r.rig, cName, cValue); ret != C.RIG_OK {
		return fmt.Errorf("%s=%s: %s", name, value, C.GoString(C.rigerror(ret)))
	}
	return nil
}

// Close closes the CAT connection
func (r *HamlibRig) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.connected {
		return nil
	}
	C.rig_close(r.rig)
	C.rig_cleanup(r.rig)
	r.rig = nil
	r.connected = false
	logging.Info("rig", "Rig connection closed")
	return nil
}

// GetFrequency returns the current VFO frequency in Hz
func (r *HamlibRig) GetFrequency() (int64, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.connected {
		return 0, fmt.Errorf("rig not connected")
	}

	var freq C.freq_t
	if ret := C.rig_get_freq(r.rig, C.RIG_VFO_CURR, &freq); ret != C.RIG_OK {
		return 0, fmt.Errorf("failed to get frequency: %s", C.GoString(C.rigerror(ret)))
	}
	return int64(freq), nil
}

// IsConnected reports whether the CAT connection is open
func (r *HamlibRig) IsConnected() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.connected
}
