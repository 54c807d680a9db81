package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dougsko/mm3d/pkg/config"
	"github.com/dougsko/mm3d/pkg/hardware"
	"github.com/dougsko/mm3d/pkg/keyer"
	"github.com/dougsko/mm3d/pkg/latest"
	"github.com/dougsko/mm3d/pkg/logging"
	"github.com/dougsko/mm3d/pkg/macro"
	"github.com/dougsko/mm3d/pkg/metrics"
	"github.com/dougsko/mm3d/pkg/protocol"
	"github.com/dougsko/mm3d/pkg/publish"
	"github.com/dougsko/mm3d/pkg/qsolog"
	"github.com/dougsko/mm3d/pkg/scheduler"
	"github.com/dougsko/mm3d/pkg/storage"
)

// Version is reported by STATUS
const Version = "0.1.0"

// CoreEngine owns the keyer, the log and the settings. Commands from the
// control socket run one at a time under dispatchMu; the repeat scheduler
// runs beside them and only touches the keyer and the macro context.
type CoreEngine struct {
	config     *config.Config
	socketPath string
	configPath string
	listener   net.Listener
	running    bool
	mutex      sync.RWMutex
	dispatchMu sync.Mutex
	startTime  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hardwareManager *hardware.HardwareManager
	device          *keyer.Device
	controller      *keyer.Controller
	monitor         *keyer.Monitor
	monitorCancel   context.CancelFunc
	scheduler       *scheduler.Scheduler
	macros          *macro.Table
	qsoLog          *qsolog.Log
	store           *storage.LogStore
	publisher       publish.Publisher
	metrics         *metrics.Metrics

	// ctxMu guards what a macro reads when it is expanded. The scheduler
	// reads it too, so it is never held across a device write.
	ctxMu         sync.RWMutex
	entry         protocol.Entry
	station       qsolog.StationProfile
	contest       qsolog.ContestConfig
	options       macro.Options
	repeatEnabled bool
	intervalText  string

	frequency latest.Cell[string]
	freqSlot  *latest.Slot[string]
	complete  *latest.Signal
}

// NewCoreEngine creates a new core engine
func NewCoreEngine(cfg *config.Config, socketPath, configPath string) *CoreEngine {
	hardwareConfig := hardware.HardwareConfig{
		Serial: hardware.SerialConfig{
			Device:   cfg.Keyer.Device,
			BaudRate: cfg.Keyer.BaudRate,
		},
		Rig: hardware.RigConfig{
			Enabled:     cfg.Rig.Enabled,
			FrequencyHz: cfg.Rig.FrequencyHz,
			Model:       cfg.Rig.Model,
			Device:      cfg.Rig.Device,
			BaudRate:    cfg.Rig.BaudRate,
		},
	}
	if hardwareConfig.Serial.BaudRate == 0 {
		hardwareConfig.Serial.BaudRate = hardware.DefaultBaudRate
	}

	e := &CoreEngine{
		config:          cfg,
		socketPath:      socketPath,
		configPath:      configPath,
		startTime:       time.Now(),
		hardwareManager: hardware.NewHardwareManager(hardwareConfig),
		device:          keyer.NewDevice(time.Duration(cfg.Keyer.SettleMS) * time.Millisecond),
		macros:          macro.NewTable(),
		qsoLog:          qsolog.NewLog(),
		publisher:       publish.Nop{},
		freqSlot:        latest.NewSlot[string](),
		complete:        latest.NewSignal(),
		entry:           protocol.Entry{RSTSent: "599", RSTReceived: "599"},
		station:         cfg.Station,
		contest:         cfg.Contest,
		options:         macro.Options{Use5NN: cfg.Keyer.Use5NN, ShortenZeros: cfg.Keyer.ShortenZeros},
		repeatEnabled:   cfg.Keyer.RepeatEnabled,
		intervalText:    cfg.Keyer.RepeatInterval,
	}
	if cfg.Metrics.Enabled {
		e.metrics = metrics.New()
	}

	e.controller = keyer.NewController(e.device, cfg.Keyer.Speed, cfg.Keyer.Sidetone)
	e.monitor = keyer.NewMonitor(e.complete)
	e.monitor.OnLine(func(line string) {
		logging.Debug("keyer", "Echo", map[string]interface{}{"line": line})
	})
	e.scheduler = scheduler.New(e.controller, e.sendCQ, e.complete)

	e.controller.OnPreempt(e.scheduler.Stop)
	e.scheduler.OnExit(func(err error) {
		if errors.Is(err, keyer.ErrDeviceUnavailable) {
			logging.Warn("engine", "Repeat stopped, reconnect required", map[string]interface{}{"error": err})
		}
	})
	// Runs inside the failed write; it must not block or stop the scheduler
	e.device.OnDetach(func(err error) {
		e.metrics.DeviceError("write")
	})

	return e
}

// SetPortOpener replaces how keyer links are opened. Call before Start.
func (e *CoreEngine) SetPortOpener(opener hardware.PortOpener) {
	e.hardwareManager.SetPortOpener(opener)
}

// SetPublisher replaces the QSO publisher. Call before Start.
func (e *CoreEngine) SetPublisher(p publish.Publisher) {
	e.publisher = p
}

// SetKnobPulse changes the knob pulse sent when a tune ends
func (e *CoreEngine) SetKnobPulse(d time.Duration) {
	e.controller.SetKnobPulse(d)
}

// Metrics returns the collectors, or nil when metrics are disabled
func (e *CoreEngine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Monitor returns the keyer echo monitor
func (e *CoreEngine) Monitor() *keyer.Monitor {
	return e.monitor
}

// Frequency returns the latest frequency display text
func (e *CoreEngine) Frequency() string {
	if f, ok := e.frequency.Load(); ok {
		return f
	}
	return hardware.NoFrequency
}

// FrequencySlot is where frequency sources offer display text
func (e *CoreEngine) FrequencySlot() *latest.Slot[string] {
	return e.freqSlot
}

// Mode returns the keyer mode
func (e *CoreEngine) Mode() keyer.Mode {
	return e.controller.Mode()
}

// Start restores saved state, opens the keyer if one is configured and
// begins serving the control socket
func (e *CoreEngine) Start() error {
	e.mutex.Lock()
	if e.running {
		e.mutex.Unlock()
		return nil
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mutex.Unlock()

	if err := e.hardwareManager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize hardware manager: %w", err)
	}

	store, err := storage.NewLogStore(e.config.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open log store: %w", err)
	}
	e.store = store

	snap, err := store.LoadSnapshot()
	if err != nil {
		logging.Warnf("engine", "Failed to load saved log, starting empty: %v", err)
	} else {
		e.qsoLog.Restore(snap)
		logging.Info("engine", "Log restored", map[string]interface{}{
			"qsos":        e.qsoLog.Len(),
			"next_serial": e.qsoLog.NextSerial(),
		})
	}
	e.metrics.LogSize(e.qsoLog.Len())

	if err := e.macros.Load(e.config.Macros, e.config.Labels); err != nil {
		logging.Warnf("engine", "Saved macros rejected, using defaults: %v", err)
	}
	if !e.scheduler.SetInterval(e.config.Keyer.RepeatInterval) {
		logging.Warnf("engine", "Invalid repeat interval %q, using %s", e.config.Keyer.RepeatInterval, scheduler.DefaultInterval)
	}
	e.controller.RestoreKnob(e.config.Keyer.KnobMode)

	if e.config.MQTT.Enabled {
		if _, isNop := e.publisher.(publish.Nop); isNop {
			p, err := publish.NewMQTTPublisher(publish.MQTTConfig{
				Broker:      e.config.MQTT.Broker,
				Username:    e.config.MQTT.Username,
				Password:    e.config.MQTT.Password,
				TopicPrefix: e.config.MQTT.TopicPrefix,
			}, e.stationInfo)
			if err != nil {
				logging.Warnf("engine", "MQTT disabled: %v", err)
			} else {
				e.publisher = p
			}
		}
	}

	e.wg.Add(1)
	go e.frequencyConsumer()

	if rig := e.hardwareManager.Rig(); rig != nil {
		poller := hardware.NewFrequencyPoller(rig, time.Duration(e.config.Rig.PollInterval)*time.Millisecond, e.freqSlot)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			poller.Run(e.ctx)
		}()
	}

	if e.hardwareManager.Device() != "" {
		if err := e.connect(""); err != nil {
			logging.Warnf("engine", "Keyer not connected: %v", err)
		}
	}
	e.updateKeyerMetrics()

	os.Remove(e.socketPath)
	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}
	if err := os.Chmod(e.socketPath, 0660); err != nil {
		logging.Warnf("engine", "Failed to set socket permissions: %v", err)
	}

	e.mutex.Lock()
	e.listener = listener
	e.running = true
	e.mutex.Unlock()

	logging.Info("engine", "Core engine listening", map[string]interface{}{"socket": e.socketPath})

	e.wg.Add(1)
	go e.acceptConnections()

	return nil
}

// Stop ends the repeat, stops any tune, saves settings and the log, and
// closes the keyer link
func (e *CoreEngine) Stop() error {
	e.mutex.Lock()
	if !e.running {
		e.mutex.Unlock()
		return nil
	}
	e.running = false
	if e.listener != nil {
		e.listener.Close()
	}
	e.mutex.Unlock()

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()

	e.scheduler.Stop()
	if err := e.controller.Shutdown(); err != nil {
		logging.Warnf("engine", "Tune stop on shutdown failed: %v", err)
	}
	if err := e.saveSettings(); err != nil {
		logging.Warnf("engine", "Failed to save settings: %v", err)
	}
	e.persistLog()

	e.cancel()
	if e.monitorCancel != nil {
		e.monitorCancel()
	}
	if err := e.device.Close(); err != nil {
		logging.Warnf("engine", "Error closing keyer: %v", err)
	}
	e.wg.Wait()

	e.publisher.Close()
	if e.store != nil {
		e.store.Close()
	}
	e.hardwareManager.Close()
	os.Remove(e.socketPath)

	logging.Info("engine", "Core engine stopped")
	return nil
}

func (e *CoreEngine) isRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

func (e *CoreEngine) acceptConnections() {
	defer e.wg.Done()
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if !e.isRunning() {
				return
			}
			logging.Warnf("engine", "Socket accept error: %v", err)
			continue
		}
		go e.handleConnection(conn)
	}
}

func (e *CoreEngine) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		response := e.Execute(line)
		conn.Write([]byte(response.String() + "\n"))

		if strings.EqualFold(strings.TrimSpace(line), protocol.CmdQuit) {
			break
		}
	}
}

// Execute parses and runs one command line
func (e *CoreEngine) Execute(line string) *protocol.Response {
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		return protocol.NewCodedErrorResponse(protocol.CodeBadRequest, fmt.Sprintf("parse error: %v", err))
	}

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()

	if !e.isRunning() {
		return protocol.NewCodedErrorResponse(protocol.CodeInternal, "engine stopped")
	}
	response := e.handleCommand(cmd)
	e.updateKeyerMetrics()
	return response
}

// connect opens the keyer link, starts draining its echo and brings the
// device in line with the current settings
func (e *CoreEngine) connect(device string) error {
	port, err := e.hardwareManager.OpenKeyer(device)
	if err != nil {
		return fmt.Errorf("%w: %v", keyer.ErrDeviceUnavailable, err)
	}

	if e.monitorCancel != nil {
		e.monitorCancel()
	}
	e.device.Attach(port)

	ctx, cancel := context.WithCancel(e.ctx)
	e.monitorCancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.monitor.Run(ctx, port); err != nil {
			logging.Warnf("engine", "Keyer echo monitor ended: %v", err)
		}
	}()

	if err := e.controller.Sync(); err != nil {
		return err
	}
	logging.Info("engine", "Keyer connected", map[string]interface{}{"device": e.hardwareManager.Device()})
	return nil
}

func (e *CoreEngine) frequencyConsumer() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case f := <-e.freqSlot.C():
			e.frequency.Store(f)
		}
	}
}

func (e *CoreEngine) updateKeyerMetrics() {
	state := e.controller.State()
	e.metrics.KeyerState(state.Speed, state.ModeName, e.device.Connected())
}

func (e *CoreEngine) stationInfo() (string, string) {
	e.ctxMu.RLock()
	defer e.ctxMu.RUnlock()
	return e.station.Callsign, e.contest.Name
}
