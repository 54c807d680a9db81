package engine

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dougsko/mm3d/pkg/export"
	"github.com/dougsko/mm3d/pkg/keyer"
	"github.com/dougsko/mm3d/pkg/logging"
	"github.com/dougsko/mm3d/pkg/macro"
	"github.com/dougsko/mm3d/pkg/protocol"
	"github.com/dougsko/mm3d/pkg/qsolog"
	"github.com/dougsko/mm3d/pkg/scheduler"
	"github.com/dougsko/mm3d/pkg/storage"
)

// exchangeKey is the macro that fills in default reports when sent
const exchangeKey = "F2"

const defaultReport = "599"

const qrzURL = "https://www.qrz.com/db/"

// editTimeLayout is how EDIT and QSOS accept times
const editTimeLayout = "2006-01-02 15:04:05"

// handleCommand processes a single command
func (e *CoreEngine) handleCommand(cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdStatus:
		return e.handleStatus()

	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})

	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "73",
		})

	case protocol.CmdConnect:
		return e.handleConnect(cmd)
	case protocol.CmdMacro:
		return e.handleMacro(cmd)
	case protocol.CmdSetMacro:
		return e.handleSetMacro(cmd)
	case protocol.CmdLabel:
		return e.handleLabel(cmd)
	case protocol.CmdMacros:
		return e.handleMacros()
	case protocol.CmdKey:
		return e.handleKey(cmd)
	case protocol.CmdEntry:
		return e.handleEntry(cmd)
	case protocol.CmdLog:
		return e.handleLog()
	case protocol.CmdQRZ:
		return e.handleQRZ(cmd)
	case protocol.CmdQSOs:
		return e.handleQSOs(cmd)
	case protocol.CmdDelete:
		return e.handleDelete(cmd)
	case protocol.CmdEdit:
		return e.handleEdit(cmd)
	case protocol.CmdSpeed:
		return e.handleSpeed(cmd)
	case protocol.CmdKnob:
		return e.handleKnob(cmd)
	case protocol.CmdSidetone:
		return e.handleSidetone(cmd)
	case protocol.CmdTune:
		return e.handleTune(cmd)
	case protocol.CmdRepeat:
		return e.handleRepeat(cmd)
	case protocol.CmdInterval:
		return e.handleInterval(cmd)
	case protocol.CmdOption:
		return e.handleOption(cmd)
	case protocol.CmdCancel:
		return e.handleCancel()
	case protocol.CmdExport:
		return e.handleExport(cmd)
	case protocol.CmdNewContest:
		return e.handleNewContest()
	case protocol.CmdContest:
		return e.handleContest(cmd)
	case protocol.CmdStation:
		return e.handleStation(cmd)

	case protocol.CmdSave:
		if err := e.saveSettings(); err != nil {
			return e.errorResponse(err)
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"path": e.configPath})

	default:
		return protocol.NewCodedErrorResponse(protocol.CodeBadRequest, fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}

// errorResponse classifies err. A lost link also ends the repeat.
func (e *CoreEngine) errorResponse(err error) *protocol.Response {
	code := protocol.CodeInternal
	message := err.Error()

	switch {
	case errors.Is(err, keyer.ErrDeviceUnavailable):
		code = protocol.CodeDeviceUnavailable
		message = "reconnect required: " + message
		e.scheduler.Stop()
	case errors.Is(err, keyer.ErrTuning), errors.Is(err, scheduler.ErrNotIdle):
		code = protocol.CodeTuning
	case errors.Is(err, keyer.ErrKnobActive):
		code = protocol.CodeKnobActive
	case errors.Is(err, qsolog.ErrValidation),
		errors.Is(err, macro.ErrUnknownPlaceholder),
		errors.Is(err, macro.ErrSyntax),
		errors.Is(err, macro.ErrNotASCII):
		code = protocol.CodeValidation
	case errors.Is(err, qsolog.ErrNotFound):
		code = protocol.CodeNotFound
	case errors.Is(err, export.ErrNothingToExport):
		code = protocol.CodeNothingToExport
	}

	logging.Warn("engine", "Command failed", map[string]interface{}{"code": code, "error": message})
	return protocol.NewCodedErrorResponse(code, message)
}

func badRequest(format string, args ...interface{}) *protocol.Response {
	return protocol.NewCodedErrorResponse(protocol.CodeBadRequest, fmt.Sprintf(format, args...))
}

func (e *CoreEngine) handleStatus() *protocol.Response {
	state := e.controller.State()
	last, _ := e.monitor.LastLine()

	e.ctxMu.RLock()
	status := protocol.Status{
		Callsign:       e.station.Callsign,
		Contest:        e.contest.Name,
		Frequency:      e.Frequency(),
		Mode:           state.ModeName,
		Speed:          state.Speed,
		Sidetone:       state.Sidetone,
		Knob:           state.Knob,
		Connected:      e.device.Connected(),
		Device:         e.hardwareManager.Device(),
		RepeatEnabled:  e.repeatEnabled,
		RepeatActive:   e.scheduler.Active(),
		RepeatInterval: e.intervalText,
		Use5NN:         e.options.Use5NN,
		ShortenZeros:   e.options.ShortenZeros,
		QSOs:           e.qsoLog.Len(),
		NextSerial:     e.qsoLog.NextSerial(),
		LastSent:       last,
		Entry:          e.entry,
		Uptime:         time.Since(e.startTime).Truncate(time.Second).String(),
		StartTime:      e.startTime,
		Version:        Version,
	}
	e.ctxMu.RUnlock()

	data := map[string]interface{}{
		"status": status,
	}
	if e.store != nil {
		if stats, err := e.store.GetStats(); err == nil {
			data["log_stats"] = stats
		}
	}
	return protocol.NewSuccessResponse(data)
}

func (e *CoreEngine) handleConnect(cmd *protocol.Command) *protocol.Response {
	if err := e.connect(cmd.Args["device"]); err != nil {
		return e.errorResponse(err)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"connected": true,
		"device":    e.hardwareManager.Device(),
	})
}

// macroContext snapshots the values substituted into macros
func (e *CoreEngine) macroContext() macro.Context {
	serial := e.qsoLog.NextSerial()

	e.ctxMu.RLock()
	defer e.ctxMu.RUnlock()
	return macro.Context{
		Callsign:         e.entry.Callsign,
		Report:           e.entry.RSTSent,
		ReceivedExchange: e.entry.Exchange,
		MyCall:           e.station.Callsign,
		ExchangeSent:     e.contest.ExchangeSent(serial),
		Serial:           serial,
		Options:          e.options,
	}
}

// sendMacro expands and keys slot key. An empty macro sends nothing.
func (e *CoreEngine) sendMacro(key string) (string, time.Duration, error) {
	m, err := e.macros.Get(key)
	if err != nil {
		return "", 0, err
	}
	if m.Template.Empty() {
		return "", 0, nil
	}

	text, err := m.Template.Expand(e.macroContext())
	if err != nil {
		return "", 0, err
	}
	duration, err := e.controller.SendText(text)
	if err != nil {
		return "", 0, err
	}

	e.metrics.MacroSent(m.Key)
	logging.Info("engine", "Macro sent", map[string]interface{}{
		"key":      m.Key,
		"text":     text,
		"duration": duration.String(),
	})
	return text, duration, nil
}

// sendCQ is the scheduler's send function. It must not take dispatchMu.
func (e *CoreEngine) sendCQ() (time.Duration, error) {
	_, duration, err := e.sendMacro(macro.CQKey)
	if err == nil {
		e.metrics.RepeatSent()
	}
	return duration, err
}

func (e *CoreEngine) handleMacro(cmd *protocol.Command) *protocol.Response {
	key, err := macro.NormalizeKey(cmd.Args["key"])
	if err != nil {
		return badRequest("%v", err)
	}
	if e.controller.Mode() == keyer.ModeTuning {
		return e.errorResponse(keyer.ErrTuning)
	}

	m, _ := e.macros.Get(key)
	if m.Template.Empty() {
		return protocol.NewSuccessResponse(map[string]interface{}{
			"key":  key,
			"sent": false,
		}).WithNotice(fmt.Sprintf("macro %s is empty", key))
	}

	e.ctxMu.Lock()
	repeat := e.repeatEnabled
	if key == exchangeKey {
		if strings.TrimSpace(e.entry.RSTSent) == "" {
			e.entry.RSTSent = defaultReport
		}
		if strings.TrimSpace(e.entry.RSTReceived) == "" {
			e.entry.RSTReceived = defaultReport
		}
	}
	e.ctxMu.Unlock()

	if key == macro.CQKey && repeat {
		if err := e.scheduler.Start(); err != nil {
			return e.errorResponse(err)
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"key":      key,
			"repeat":   true,
			"interval": e.scheduler.Interval().Seconds(),
		})
	}

	text, duration, err := e.sendMacro(key)
	if err != nil {
		return e.errorResponse(err)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"key":         key,
		"sent":        true,
		"text":        text,
		"duration_ms": duration.Milliseconds(),
	})
}

func macroData(m macro.Macro) map[string]interface{} {
	return map[string]interface{}{
		"key":          m.Key,
		"label":        m.Label,
		"text":         m.Text(),
		"placeholders": m.Template.Placeholders(),
	}
}

func (e *CoreEngine) handleSetMacro(cmd *protocol.Command) *protocol.Response {
	key, err := macro.NormalizeKey(cmd.Args["key"])
	if err != nil {
		return badRequest("%v", err)
	}
	if err := e.macros.SetText(key, cmd.Args["text"]); err != nil {
		return e.errorResponse(err)
	}
	m, _ := e.macros.Get(key)
	return protocol.NewSuccessResponse(map[string]interface{}{"macro": macroData(m)})
}

func (e *CoreEngine) handleLabel(cmd *protocol.Command) *protocol.Response {
	key, err := macro.NormalizeKey(cmd.Args["key"])
	if err != nil {
		return badRequest("%v", err)
	}
	if err := e.macros.SetLabel(key, strings.TrimSpace(cmd.Args["label"])); err != nil {
		return e.errorResponse(err)
	}
	m, _ := e.macros.Get(key)
	return protocol.NewSuccessResponse(map[string]interface{}{"macro": macroData(m)})
}

func (e *CoreEngine) handleMacros() *protocol.Response {
	all := e.macros.All()
	list := make([]map[string]interface{}, 0, len(all))
	for _, m := range all {
		list = append(list, macroData(m))
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"macros":       list,
		"placeholders": macro.Fields(),
	})
}

func (e *CoreEngine) handleKey(cmd *protocol.Command) *protocol.Response {
	text, err := macro.ToASCII(cmd.Args["text"])
	if err != nil {
		return e.errorResponse(err)
	}
	if err := e.controller.Keystroke(text); err != nil {
		return e.errorResponse(err)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{"keyed": len(text)})
}

func (e *CoreEngine) handleEntry(cmd *protocol.Command) *protocol.Response {
	field := cmd.Args["field"]
	value := cmd.Args["value"]

	e.ctxMu.Lock()
	switch field {
	case protocol.FieldCall:
		e.entry.Callsign = value
	case protocol.FieldSent:
		e.entry.RSTSent = value
	case protocol.FieldReceived:
		e.entry.RSTReceived = value
	case protocol.FieldExchange:
		e.entry.Exchange = value
	}
	entry := e.entry
	e.ctxMu.Unlock()

	resp := protocol.NewSuccessResponse(map[string]interface{}{"entry": entry})
	if field == protocol.FieldCall {
		// typing a call answers the CQ
		e.scheduler.Stop()
		if worked := e.qsoLog.Worked(value); len(worked) > 0 {
			resp.Data["worked"] = worked
			resp.WithNotice(fmt.Sprintf("dupe: %s worked %d time(s)", strings.ToUpper(value), len(worked)))
		}
	}
	return resp
}

// handleQRZ returns the QRZ.com page for a callsign
func (e *CoreEngine) handleQRZ(cmd *protocol.Command) *protocol.Response {
	call, ok := cmd.Args["call"]
	if !ok {
		e.ctxMu.RLock()
		call = e.entry.Callsign
		e.ctxMu.RUnlock()
	}
	call = strings.ToUpper(strings.TrimSpace(call))
	if call == "" {
		return e.errorResponse(&qsolog.ValidationError{Field: "callsign"})
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"callsign": call,
		"url":      qrzURL + url.PathEscape(call),
	})
}

func (e *CoreEngine) handleLog() *protocol.Response {
	e.ctxMu.RLock()
	entry := e.entry
	contest := e.contest
	e.ctxMu.RUnlock()

	worked := e.qsoLog.Worked(entry.Callsign)
	logged, err := e.qsoLog.Append(qsolog.Fields{
		Callsign:         entry.Callsign,
		RSTSent:          entry.RSTSent,
		RSTReceived:      entry.RSTReceived,
		ExchangeReceived: entry.Exchange,
		FrequencyDisplay: e.Frequency(),
	}, contest)
	if err != nil {
		return e.errorResponse(err)
	}

	e.ctxMu.Lock()
	e.entry.Callsign = ""
	e.entry.Exchange = ""
	e.ctxMu.Unlock()

	size := e.qsoLog.Len()
	e.metrics.QSOLogged(size)
	logging.Info("engine", "QSO logged", map[string]interface{}{
		"serial":   logged.Serial,
		"callsign": logged.Callsign,
		"exchange": logged.ExchangeReceived,
	})
	e.publishQSO(logged)

	resp := protocol.NewSuccessResponse(map[string]interface{}{
		"qso":         logged,
		"position":    size,
		"next_serial": e.qsoLog.NextSerial(),
	})
	if len(worked) > 0 {
		resp.WithNotice(fmt.Sprintf("dupe: %s worked %d time(s) before", logged.Callsign, len(worked)))
	}
	return resp.WithNotice(e.persistLog())
}

func (e *CoreEngine) publishQSO(entry qsolog.Entry) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.publisher.PublishQSO(entry); err != nil {
			logging.Warnf("engine", "QSO publish failed: %v", err)
		}
	}()
}

// persistLog saves the log snapshot and returns a notice on failure
func (e *CoreEngine) persistLog() string {
	if e.store == nil {
		return ""
	}
	if err := e.store.SaveSnapshot(e.qsoLog.Snapshot()); err != nil {
		logging.Error("engine", "Failed to save log", map[string]interface{}{"error": err})
		return fmt.Sprintf("log not saved: %v", err)
	}
	return ""
}

func parseTime(text string) (time.Time, error) {
	if t, err := time.ParseInLocation(editTimeLayout, text, time.UTC); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, text)
}

func (e *CoreEngine) handleQSOs(cmd *protocol.Command) *protocol.Response {
	if len(cmd.Pairs) == 0 {
		entries := e.qsoLog.Entries()
		return protocol.NewSuccessResponse(map[string]interface{}{
			"qsos":  entries,
			"count": len(entries),
		})
	}

	var query storage.QSOQuery
	for key, value := range cmd.Pairs {
		switch key {
		case "call":
			query.Callsign = value
		case "limit", "offset":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return badRequest("invalid %s %q", key, value)
			}
			if key == "limit" {
				query.Limit = n
			} else {
				query.Offset = n
			}
		case "since", "until":
			t, err := parseTime(value)
			if err != nil {
				return badRequest("invalid %s time %q", key, value)
			}
			if key == "since" {
				query.Since = &t
			} else {
				query.Until = &t
			}
		default:
			return badRequest("unknown filter %q", key)
		}
	}

	entries, err := e.store.GetQSOs(query)
	if err != nil {
		return e.errorResponse(err)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"qsos":  entries,
		"count": len(entries),
	})
}

func (e *CoreEngine) handleDelete(cmd *protocol.Command) *protocol.Response {
	position, _ := strconv.Atoi(cmd.Args["position"])
	removed, err := e.qsoLog.RemoveAt(position)
	if err != nil {
		return e.errorResponse(err)
	}
	e.metrics.LogSize(e.qsoLog.Len())
	logging.Info("engine", "QSO deleted", map[string]interface{}{"position": position, "serial": removed.Serial})

	return protocol.NewSuccessResponse(map[string]interface{}{
		"deleted": removed,
		"count":   e.qsoLog.Len(),
	}).WithNotice(e.persistLog())
}

func (e *CoreEngine) handleEdit(cmd *protocol.Command) *protocol.Response {
	position, _ := strconv.Atoi(cmd.Args["position"])

	var edit qsolog.Edit
	for key, value := range cmd.Pairs {
		v := value
		switch key {
		case "time", "timestamp":
			t, err := parseTime(value)
			if err != nil {
				return badRequest("invalid time %q, want %s", value, editTimeLayout)
			}
			edit.Timestamp = &t
		case "call", "callsign":
			edit.Callsign = &v
		case "snt", "rst_sent":
			edit.RSTSent = &v
		case "rcv", "rst_received":
			edit.RSTReceived = &v
		case "sent", "exchange_sent":
			edit.ExchangeSent = &v
		case "exch", "exchange_received":
			edit.ExchangeReceived = &v
		case "freq", "frequency":
			edit.Frequency = &v
		default:
			return badRequest("unknown field %q", key)
		}
	}

	updated, err := e.qsoLog.EditAt(position, edit)
	if err != nil {
		return e.errorResponse(err)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"qso":      updated,
		"position": position,
	}).WithNotice(e.persistLog())
}

func (e *CoreEngine) handleSpeed(cmd *protocol.Command) *protocol.Response {
	value := strings.ToUpper(cmd.Args["value"])

	var (
		speed  int
		err    error
		notice string
	)
	switch value {
	case "UP":
		speed, err = e.controller.SpeedUp()
	case "DOWN":
		speed, err = e.controller.SpeedDown()
	default:
		// text that is not a number is out of range like any other
		n, convErr := strconv.Atoi(value)
		if convErr != nil {
			n = 0
		}
		var clamped bool
		speed, clamped, err = e.controller.SetSpeed(n)
		if clamped {
			notice = fmt.Sprintf("speed %q out of range %d-%d, reset to %d WPM",
				cmd.Args["value"], keyer.MinSpeed, keyer.MaxSpeed, keyer.DefaultSpeed)
			logging.Warn("engine", "Speed reset", map[string]interface{}{"requested": cmd.Args["value"]})
		}
	}
	if err != nil {
		return e.errorResponse(err)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{"speed": speed}).WithNotice(notice)
}

func (e *CoreEngine) handleKnob(cmd *protocol.Command) *protocol.Response {
	if err := e.controller.SetKnob(cmd.IsOn("state")); err != nil {
		return e.errorResponse(err)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{"keyer": e.controller.State()})
}

func (e *CoreEngine) handleSidetone(cmd *protocol.Command) *protocol.Response {
	if err := e.controller.SetSidetone(cmd.IsOn("state")); err != nil {
		return e.errorResponse(err)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{"keyer": e.controller.State()})
}

func (e *CoreEngine) handleTune(cmd *protocol.Command) *protocol.Response {
	var err error
	switch cmd.Args["state"] {
	case "ON":
		err = e.controller.TuneStart()
	case "OFF":
		err = e.controller.TuneStop()
	default:
		_, err = e.controller.ToggleTune()
	}
	if err != nil {
		return e.errorResponse(err)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{"mode": e.controller.Mode().String()})
}

func (e *CoreEngine) handleRepeat(cmd *protocol.Command) *protocol.Response {
	on := cmd.IsOn("state")

	e.ctxMu.Lock()
	e.repeatEnabled = on
	e.ctxMu.Unlock()

	if !on {
		e.scheduler.Stop()
	}
	resp := protocol.NewSuccessResponse(map[string]interface{}{
		"repeat_enabled": on,
		"repeat_active":  e.scheduler.Active(),
	})
	if on && e.controller.Mode() == keyer.ModeKnobSpeed {
		resp.WithNotice("repeat is disabled while knob mode is active")
	}
	return resp
}

func (e *CoreEngine) handleInterval(cmd *protocol.Command) *protocol.Response {
	text := cmd.Args["value"]
	ok := e.scheduler.SetInterval(text)
	if !ok {
		text = strconv.FormatFloat(scheduler.DefaultInterval.Seconds(), 'f', -1, 64)
	}

	e.ctxMu.Lock()
	e.intervalText = text
	e.ctxMu.Unlock()

	resp := protocol.NewSuccessResponse(map[string]interface{}{
		"interval": e.scheduler.Interval().Seconds(),
	})
	if !ok {
		logging.Warn("engine", "Invalid repeat interval", map[string]interface{}{"value": cmd.Args["value"]})
		resp.WithNotice(fmt.Sprintf("invalid interval %q, using %ss", cmd.Args["value"], text))
	}
	return resp
}

func (e *CoreEngine) handleOption(cmd *protocol.Command) *protocol.Response {
	on := cmd.IsOn("state")

	e.ctxMu.Lock()
	switch cmd.Args["option"] {
	case "5NN":
		e.options.Use5NN = on
	case "ZEROS":
		e.options.ShortenZeros = on
	}
	options := e.options
	e.ctxMu.Unlock()

	return protocol.NewSuccessResponse(map[string]interface{}{"options": options})
}

// handleCancel stops the repeat and disables it until re-enabled
func (e *CoreEngine) handleCancel() *protocol.Response {
	e.scheduler.Stop()

	e.ctxMu.Lock()
	e.repeatEnabled = false
	e.ctxMu.Unlock()

	return protocol.NewSuccessResponse(map[string]interface{}{"repeat_enabled": false})
}

func (e *CoreEngine) handleExport(cmd *protocol.Command) *protocol.Response {
	format, err := export.ParseFormat(cmd.Args["format"])
	if err != nil {
		return badRequest("%v", err)
	}

	e.ctxMu.RLock()
	header := export.Header{Station: e.station, Contest: e.contest}
	e.ctxMu.RUnlock()

	entries := e.qsoLog.Entries()
	path, err := export.WriteFile(cmd.Args["path"], format, entries, header)
	if err != nil {
		return e.errorResponse(err)
	}

	e.metrics.Exported(string(format))
	logging.Info("engine", "Log exported", map[string]interface{}{"format": string(format), "path": path, "qsos": len(entries)})
	return protocol.NewSuccessResponse(map[string]interface{}{
		"format": string(format),
		"path":   path,
		"count":  len(entries),
	})
}

func (e *CoreEngine) handleNewContest() *protocol.Response {
	e.qsoLog.Reset()

	e.ctxMu.Lock()
	e.entry.Callsign = ""
	e.entry.Exchange = ""
	e.ctxMu.Unlock()

	e.metrics.LogSize(0)
	logging.Info("engine", "New contest started, log cleared")

	resp := protocol.NewSuccessResponse(map[string]interface{}{
		"next_serial": e.qsoLog.NextSerial(),
	}).WithNotice(e.persistLog())
	if err := e.saveSettings(); err != nil {
		resp.WithNotice(fmt.Sprintf("settings not saved: %v", err))
	}
	return resp
}

func parseBool(value string) (bool, error) {
	switch strings.ToUpper(value) {
	case "ON", "YES":
		return true, nil
	case "OFF", "NO", "":
		return false, nil
	}
	return strconv.ParseBool(value)
}

func (e *CoreEngine) handleContest(cmd *protocol.Command) *protocol.Response {
	e.ctxMu.RLock()
	contest := e.contest
	e.ctxMu.RUnlock()

	for key, value := range cmd.Pairs {
		switch key {
		case "name":
			contest.Name = value
		case "operator":
			contest.Operator = value
		case "band":
			contest.Band = value
		case "power":
			contest.Power = value
		case "transmitter":
			contest.Transmitter = value
		case "exchange":
			contest.Exchange = value
		case "serial", "use_serial_exchange":
			on, err := parseBool(value)
			if err != nil {
				return badRequest("invalid %s %q", key, value)
			}
			contest.UseSerialExchange = on
		default:
			return badRequest("unknown contest field %q", key)
		}
	}

	e.ctxMu.Lock()
	e.contest = contest
	e.ctxMu.Unlock()

	return protocol.NewSuccessResponse(map[string]interface{}{"contest": contest})
}

func (e *CoreEngine) handleStation(cmd *protocol.Command) *protocol.Response {
	e.ctxMu.RLock()
	station := e.station
	e.ctxMu.RUnlock()

	fields := map[string]*string{
		"callsign": &station.Callsign,
		"name":     &station.Name,
		"address":  &station.Address,
		"city":     &station.City,
		"country":  &station.Country,
		"zipcode":  &station.Zipcode,
		"location": &station.Location,
		"cq_zone":  &station.CQZone,
		"itu_zone": &station.ITUZone,
		"rig":      &station.Rig,
		"antenna":  &station.Antenna,
		"power":    &station.Power,
	}
	for key, value := range cmd.Pairs {
		field, ok := fields[key]
		if !ok {
			return badRequest("unknown station field %q", key)
		}
		*field = value
	}
	station.Callsign = strings.ToUpper(strings.TrimSpace(station.Callsign))
	if station.Callsign == "" {
		return e.errorResponse(&qsolog.ValidationError{Field: "callsign"})
	}

	e.ctxMu.Lock()
	e.station = station
	e.ctxMu.Unlock()

	return protocol.NewSuccessResponse(map[string]interface{}{"station": station})
}

// syncConfig copies the live settings into the config
func (e *CoreEngine) syncConfig() {
	e.ctxMu.RLock()
	e.config.Station = e.station
	e.config.Contest = e.contest
	e.config.Keyer.Use5NN = e.options.Use5NN
	e.config.Keyer.ShortenZeros = e.options.ShortenZeros
	e.config.Keyer.RepeatEnabled = e.repeatEnabled
	e.config.Keyer.RepeatInterval = e.intervalText
	e.ctxMu.RUnlock()

	state := e.controller.State()
	e.config.Keyer.Speed = state.Speed
	e.config.Keyer.Sidetone = state.Sidetone
	e.config.Keyer.KnobMode = state.Knob
	e.config.Keyer.Device = e.hardwareManager.Device()
	e.config.Macros = e.macros.Texts()
	e.config.Labels = e.macros.Labels()
}

func (e *CoreEngine) saveSettings() error {
	e.syncConfig()
	if e.configPath == "" {
		return nil
	}
	if err := e.config.Save(e.configPath); err != nil {
		return err
	}
	logging.Info("engine", "Settings saved", map[string]interface{}{"path": e.configPath})
	return nil
}
