//go:build !hamlib

package hardware

import "errors"

// ErrNoHamlib is returned when a rig model is configured but the binary
// was built without the hamlib tag
var ErrNoHamlib = errors.New("built without hamlib support, rebuild with -tags hamlib")

// HamlibRig is unavailable in this build
type HamlibRig struct{}

// NewHamlibRig always fails in this build
func NewHamlibRig(config RigConfig) (*HamlibRig, error) {
	return nil, ErrNoHamlib
}

func (r *HamlibRig) Initialize() error            { return ErrNoHamlib }
func (r *HamlibRig) Close() error                 { return nil }
func (r *HamlibRig) GetFrequency() (int64, error) { return 0, ErrNoHamlib }
func (r *HamlibRig) IsConnected() bool            { return false }
