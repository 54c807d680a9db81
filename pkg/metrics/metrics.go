package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the keyer collectors. Each instance owns its registry so
// tests and the daemon do not share global state.
type Metrics struct {
	Registry *prometheus.Registry

	macrosSent   *prometheus.CounterVec // by function key
	qsosLogged   prometheus.Counter
	repeatCycles prometheus.Counter
	deviceErrors *prometheus.CounterVec // by operation
	exports      *prometheus.CounterVec // by format
	logSize      prometheus.Gauge
	speed        prometheus.Gauge
	mode         *prometheus.GaugeVec // 1 for the active mode
	connected    prometheus.Gauge
}

var modeNames = []string{"idle", "tuning", "knob"}

// New registers the mm3d collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	m := &Metrics{
		Registry: reg,
		macrosSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mm3d_macros_sent_total",
			Help: "Macros keyed, by function key",
		}, []string{"key"}),
		qsosLogged: factory.NewCounter(prometheus.CounterOpts{
			Name: "mm3d_qsos_logged_total",
			Help: "Contacts appended to the log",
		}),
		repeatCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "mm3d_repeat_transmissions_total",
			Help: "CQ transmissions made by the repeat scheduler",
		}),
		deviceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mm3d_device_errors_total",
			Help: "Failed writes to the keyer, by operation",
		}, []string{"op"}),
		exports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mm3d_exports_total",
			Help: "Log exports written, by format",
		}, []string{"format"}),
		logSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mm3d_log_entries",
			Help: "Entries currently in the log",
		}),
		speed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mm3d_keyer_speed_wpm",
			Help: "Fixed keyer speed",
		}),
		mode: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mm3d_keyer_mode",
			Help: "1 for the active device mode",
		}, []string{"mode"}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mm3d_keyer_connected",
			Help: "1 while a serial link is attached",
		}),
	}
	for _, name := range modeNames {
		m.mode.WithLabelValues(name).Set(0)
	}
	return m
}

// MacroSent counts a keyed macro
func (m *Metrics) MacroSent(key string) {
	if m == nil {
		return
	}
	m.macrosSent.WithLabelValues(key).Inc()
}

// RepeatSent counts a scheduler transmission
func (m *Metrics) RepeatSent() {
	if m == nil {
		return
	}
	m.repeatCycles.Inc()
}

// QSOLogged counts an appended contact and updates the log size
func (m *Metrics) QSOLogged(size int) {
	if m == nil {
		return
	}
	m.qsosLogged.Inc()
	m.logSize.Set(float64(size))
}

// LogSize sets the log size gauge
func (m *Metrics) LogSize(size int) {
	if m == nil {
		return
	}
	m.logSize.Set(float64(size))
}

// DeviceError counts a failed device operation
func (m *Metrics) DeviceError(op string) {
	if m == nil {
		return
	}
	m.deviceErrors.WithLabelValues(op).Inc()
}

// Exported counts a written export file
func (m *Metrics) Exported(format string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(format).Inc()
}

// KeyerState records speed, mode and link state
func (m *Metrics) KeyerState(speed int, mode string, connected bool) {
	if m == nil {
		return
	}
	m.speed.Set(float64(speed))
	for _, name := range modeNames {
		v := 0.0
		if name == mode {
			v = 1
		}
		m.mode.WithLabelValues(name).Set(v)
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
