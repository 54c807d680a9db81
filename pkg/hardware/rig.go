package hardware

import "fmt"

// RigConfig represents rig frequency source configuration
type RigConfig struct {
	Enabled     bool   // Whether a frequency source is attached
	FrequencyHz int64  // Starting frequency for the mock rig
	Model       string // Hamlib model number; empty uses the mock rig
	Device      string // CAT serial device
	BaudRate    int    // CAT baud rate, 0 for the model default
}

// Rig is the external rig-control collaborator. Only the operating
// frequency is consumed.
type Rig interface {
	GetFrequency() (int64, error)
	IsConnected() bool
}

// NoFrequency is displayed when the rig cannot report a frequency
const NoFrequency = "N/A"

// FormatFrequency renders a frequency in Hz as the display string
// "<MHz with 6 decimals> MHz"
func FormatFrequency(hz int64) string {
	return fmt.Sprintf("%.6f MHz", float64(hz)/1000000.0)
}
