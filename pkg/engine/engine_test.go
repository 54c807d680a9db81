package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/mm3d/pkg/client"
	"github.com/dougsko/mm3d/pkg/config"
	"github.com/dougsko/mm3d/pkg/hardware"
	"github.com/dougsko/mm3d/pkg/keyer"
	"github.com/dougsko/mm3d/pkg/protocol"
	"github.com/dougsko/mm3d/pkg/qsolog"
)

type testRig struct {
	engine     *CoreEngine
	dir        string
	socketPath string
	configPath string

	mu    sync.Mutex
	ports []*hardware.MockPort
}

func (r *testRig) port() *hardware.MockPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ports[len(r.ports)-1]
}

func (r *testRig) exec(t *testing.T, line string) *protocol.Response {
	t.Helper()
	resp := r.engine.Execute(line)
	require.NotNil(t, resp)
	return resp
}

func (r *testRig) ok(t *testing.T, line string) *protocol.Response {
	t.Helper()
	resp := r.exec(t, line)
	require.True(t, resp.Success, "%s: %s", line, resp.Error)
	return resp
}

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Station.Callsign = "ZS6WAR"
	cfg.Keyer.Device = "/dev/mock"
	cfg.Keyer.SettleMS = 1
	cfg.Storage.DatabasePath = filepath.Join(dir, "mm3d.db")
	return cfg
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	dir, err := os.MkdirTemp("", "mm3d")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	r := &testRig{
		dir:        dir,
		socketPath: filepath.Join(dir, "mm3d.sock"),
		configPath: filepath.Join(dir, "mm3d.yaml"),
	}
	r.start(t, testConfig(dir))
	return r
}

func (r *testRig) start(t *testing.T, cfg *config.Config) {
	t.Helper()
	e := NewCoreEngine(cfg, r.socketPath, r.configPath)
	e.SetPortOpener(func(hardware.SerialConfig) (hardware.SerialPort, error) {
		p := hardware.NewMockPort()
		r.mu.Lock()
		r.ports = append(r.ports, p)
		r.mu.Unlock()
		return p, nil
	})
	e.SetKnobPulse(0)
	require.NoError(t, e.Start())
	t.Cleanup(func() { e.Stop() })
	r.engine = e
}

func frame(cmd string) string {
	return "\x03\n" + cmd + "\n*C709\n"
}

func TestEngineStart(t *testing.T) {
	r := newTestRig(t)

	t.Run("Syncs Keyer Settings", func(t *testing.T) {
		want := frame(keyer.CmdKnobOff) + frame(keyer.SpeedCommand(25)) + frame(keyer.CmdSidetoneOn)
		assert.Equal(t, want, r.port().Written())
	})

	t.Run("Status", func(t *testing.T) {
		resp := r.ok(t, "STATUS")
		status := resp.Data["status"].(protocol.Status)
		assert.Equal(t, "ZS6WAR", status.Callsign)
		assert.Equal(t, "idle", status.Mode)
		assert.Equal(t, 25, status.Speed)
		assert.True(t, status.Connected)
		assert.Equal(t, 1, status.NextSerial)
		assert.Equal(t, hardware.NoFrequency, status.Frequency)
		assert.Equal(t, Version, status.Version)
	})

	t.Run("Unknown Command", func(t *testing.T) {
		resp := r.exec(t, "FROB")
		assert.False(t, resp.Success)
		assert.Equal(t, protocol.CodeBadRequest, resp.Code)
	})

	t.Run("Parse Error", func(t *testing.T) {
		resp := r.exec(t, "MACRO:")
		assert.False(t, resp.Success)
		assert.Equal(t, protocol.CodeBadRequest, resp.Code)
	})
}

func TestEngineMacros(t *testing.T) {
	t.Run("Exchange Fills Default Reports", func(t *testing.T) {
		r := newTestRig(t)
		r.ok(t, "CONTEST:serial=on")
		r.ok(t, "ENTRY:call W1AW")
		r.ok(t, "ENTRY:snt")
		r.port().Reset()

		resp := r.ok(t, "MACRO:F2")
		assert.Equal(t, "W1AW 599 1", resp.Data["text"])
		assert.Equal(t, "W1AW 599 1\n", r.port().Written())

		status := r.ok(t, "STATUS").Data["status"].(protocol.Status)
		assert.Equal(t, "599", status.Entry.RSTSent)
		assert.Equal(t, "599", status.Entry.RSTReceived)
	})

	t.Run("5NN Option", func(t *testing.T) {
		r := newTestRig(t)
		r.ok(t, "ENTRY:call W1AW")
		r.ok(t, "OPTION:5NN ON")
		r.ok(t, "CONTEST:exchange=ZS")

		resp := r.ok(t, "MACRO:f2")
		assert.Equal(t, "W1AW 5NN ZS", resp.Data["text"])
	})

	t.Run("Empty Macro Sends Nothing", func(t *testing.T) {
		r := newTestRig(t)
		r.port().Reset()

		resp := r.ok(t, "MACRO:F8")
		assert.Equal(t, false, resp.Data["sent"])
		assert.NotEmpty(t, resp.Notice)
		assert.Empty(t, r.port().Written())
	})

	t.Run("Set Macro", func(t *testing.T) {
		r := newTestRig(t)
		r.ok(t, "SETMACRO:F8 QRZ? {mycall}")
		r.ok(t, "LABEL:F8 QRZ")

		resp := r.ok(t, "MACRO:F8")
		assert.Equal(t, "QRZ? ZS6WAR", resp.Data["text"])

		list := r.ok(t, "MACROS").Data["macros"].([]map[string]interface{})
		require.Len(t, list, 12)
		assert.Equal(t, "QRZ", list[7]["label"])
	})

	t.Run("Bad Template Rejected", func(t *testing.T) {
		r := newTestRig(t)
		resp := r.exec(t, "SETMACRO:F3 TU {nr}")
		assert.False(t, resp.Success)
		assert.Equal(t, protocol.CodeValidation, resp.Code)

		resp = r.ok(t, "MACRO:F3")
		assert.Equal(t, "TU", resp.Data["text"])
	})

	t.Run("Tuning Blocks Macros", func(t *testing.T) {
		r := newTestRig(t)
		r.ok(t, "TUNE:ON")
		r.port().Reset()

		resp := r.exec(t, "MACRO:F3")
		assert.False(t, resp.Success)
		assert.Equal(t, protocol.CodeTuning, resp.Code)
		assert.Empty(t, r.port().Written())

		r.ok(t, "TUNE")
		assert.Equal(t, keyer.ModeIdle, r.engine.Mode())
	})

	t.Run("Keystrokes", func(t *testing.T) {
		r := newTestRig(t)
		r.port().Reset()
		r.ok(t, "KEY:René ")
		assert.Equal(t, "Rene ", r.port().Written())

		resp := r.exec(t, "KEY:✓")
		assert.Equal(t, protocol.CodeValidation, resp.Code)
	})
}

func TestEngineQRZ(t *testing.T) {
	r := newTestRig(t)

	t.Run("Needs A Callsign", func(t *testing.T) {
		resp := r.exec(t, "QRZ")
		assert.False(t, resp.Success)
		assert.Equal(t, protocol.CodeValidation, resp.Code)
	})

	t.Run("Uses Entry Callsign", func(t *testing.T) {
		r.ok(t, "ENTRY:call w1aw")
		resp := r.ok(t, "QRZ")
		assert.Equal(t, "W1AW", resp.Data["callsign"])
		assert.Equal(t, "https://www.qrz.com/db/W1AW", resp.Data["url"])
	})

	t.Run("Explicit Callsign", func(t *testing.T) {
		resp := r.ok(t, "QRZ:zs6/k1abc")
		assert.Equal(t, "https://www.qrz.com/db/ZS6%2FK1ABC", resp.Data["url"])
	})
}

func TestEngineLog(t *testing.T) {
	t.Run("Log Contact", func(t *testing.T) {
		r := newTestRig(t)
		r.engine.FrequencySlot().Offer("14.025000 MHz")
		require.Eventually(t, func() bool {
			return r.engine.Frequency() == "14.025000 MHz"
		}, time.Second, 5*time.Millisecond)

		r.ok(t, "ENTRY:call w1aw")
		r.ok(t, "ENTRY:exch 05")
		resp := r.ok(t, "LOG")

		qso := resp.Data["qso"].(qsolog.Entry)
		assert.Equal(t, 1, qso.Serial)
		assert.Equal(t, "W1AW", qso.Callsign)
		assert.Equal(t, "05", qso.ExchangeReceived)
		assert.Equal(t, "14.025000", qso.Frequency)
		assert.Equal(t, 2, resp.Data["next_serial"])

		status := r.ok(t, "STATUS").Data["status"].(protocol.Status)
		assert.Empty(t, status.Entry.Callsign)
		assert.Empty(t, status.Entry.Exchange)
		assert.Equal(t, "599", status.Entry.RSTSent)

		snap, err := r.engine.store.LoadSnapshot()
		require.NoError(t, err)
		assert.Len(t, snap.Entries, 1)
		assert.Equal(t, 2, snap.NextSerial)
	})

	t.Run("Missing Exchange Rejected", func(t *testing.T) {
		r := newTestRig(t)
		r.ok(t, "ENTRY:call W1AW")
		resp := r.exec(t, "LOG")
		assert.False(t, resp.Success)
		assert.Equal(t, protocol.CodeValidation, resp.Code)
		assert.Equal(t, 0, r.engine.qsoLog.Len())
	})

	t.Run("Dupe Notice", func(t *testing.T) {
		r := newTestRig(t)
		r.ok(t, "ENTRY:call W1AW")
		r.ok(t, "ENTRY:exch 05")
		r.ok(t, "LOG")

		resp := r.ok(t, "ENTRY:call W1AW")
		assert.Contains(t, resp.Notice, "dupe")
	})

	t.Run("Delete And Edit", func(t *testing.T) {
		r := newTestRig(t)
		for _, call := range []string{"W1AW", "K1ABC"} {
			r.ok(t, "ENTRY:call "+call)
			r.ok(t, "ENTRY:exch 05")
			r.ok(t, "LOG")
		}

		deleted := r.ok(t, "DELETE:1").Data["deleted"].(qsolog.Entry)
		assert.Equal(t, "W1AW", deleted.Callsign)

		edited := r.ok(t, "EDIT:1 call=N0CALL;rcv=579").Data["qso"].(qsolog.Entry)
		assert.Equal(t, "N0CALL", edited.Callsign)
		assert.Equal(t, "579", edited.RSTReceived)
		assert.Equal(t, 2, edited.Serial)

		resp := r.exec(t, "DELETE:5")
		assert.Equal(t, protocol.CodeNotFound, resp.Code)

		resp = r.exec(t, "EDIT:1 colour=red")
		assert.Equal(t, protocol.CodeBadRequest, resp.Code)

		assert.Equal(t, 3, r.engine.qsoLog.NextSerial())
	})

	t.Run("Stored Query", func(t *testing.T) {
		r := newTestRig(t)
		for _, call := range []string{"W1AW", "K1ABC", "W1AW"} {
			r.ok(t, "ENTRY:call "+call)
			r.ok(t, "ENTRY:exch 05")
			r.ok(t, "LOG")
		}

		resp := r.ok(t, "QSOS:call=W1AW")
		assert.Equal(t, 2, resp.Data["count"])

		resp = r.ok(t, "QSOS")
		assert.Equal(t, 3, resp.Data["count"])

		resp = r.exec(t, "QSOS:limit=x")
		assert.Equal(t, protocol.CodeBadRequest, resp.Code)
	})

	t.Run("Export And New Contest", func(t *testing.T) {
		r := newTestRig(t)
		r.ok(t, "ENTRY:call W1AW")
		r.ok(t, "ENTRY:exch 05")
		r.ok(t, "LOG")

		path := filepath.Join(r.dir, "out", "contest")
		resp := r.ok(t, "EXPORT:ADIF "+path)
		assert.Equal(t, path+".adi", resp.Data["path"])
		data, err := os.ReadFile(path + ".adi")
		require.NoError(t, err)
		assert.Contains(t, string(data), "<CALL:4>W1AW")

		resp = r.exec(t, "EXPORT:XML "+path)
		assert.Equal(t, protocol.CodeBadRequest, resp.Code)

		r.ok(t, "NEWCONTEST")
		resp = r.exec(t, "EXPORT:CABRILLO "+path)
		assert.Equal(t, protocol.CodeNothingToExport, resp.Code)
		assert.Equal(t, 1, r.engine.qsoLog.NextSerial())
	})
}

func TestEngineKeyerControl(t *testing.T) {
	t.Run("Speed", func(t *testing.T) {
		r := newTestRig(t)

		resp := r.ok(t, "SPEED:150")
		assert.Equal(t, 25, resp.Data["speed"])
		assert.NotEmpty(t, resp.Notice)

		resp = r.ok(t, "SPEED:fast")
		assert.Equal(t, 25, resp.Data["speed"])
		assert.NotEmpty(t, resp.Notice)

		resp = r.ok(t, "SPEED:UP")
		assert.Equal(t, 26, resp.Data["speed"])
		assert.Empty(t, resp.Notice)

		r.ok(t, "KNOB:ON")
		resp = r.exec(t, "SPEED:30")
		assert.Equal(t, protocol.CodeKnobActive, resp.Code)

		r.ok(t, "KNOB:OFF")
		resp = r.ok(t, "SPEED:30")
		assert.Equal(t, 30, resp.Data["speed"])
	})

	t.Run("Lost Link", func(t *testing.T) {
		r := newTestRig(t)
		r.port().FailWrites(errors.New("unplugged"))

		resp := r.exec(t, "MACRO:F3")
		assert.False(t, resp.Success)
		assert.Equal(t, protocol.CodeDeviceUnavailable, resp.Code)
		assert.Contains(t, resp.Error, "reconnect required")

		status := r.ok(t, "STATUS").Data["status"].(protocol.Status)
		assert.False(t, status.Connected)

		r.ok(t, "CONNECT")
		status = r.ok(t, "STATUS").Data["status"].(protocol.Status)
		assert.True(t, status.Connected)
		r.ok(t, "MACRO:F3")
	})

	t.Run("Shutdown Ends Tune", func(t *testing.T) {
		r := newTestRig(t)
		r.ok(t, "TUNE:ON")
		r.port().Reset()

		require.NoError(t, r.engine.Stop())
		assert.True(t, strings.HasPrefix(r.port().Written(), "\x03\n\n*9\n"))
		assert.True(t, r.port().Closed())
	})
}

func TestEngineRepeat(t *testing.T) {
	t.Run("Repeat Until Call Typed", func(t *testing.T) {
		r := newTestRig(t)
		r.ok(t, "INTERVAL:0.05")
		r.ok(t, "REPEAT:ON")

		resp := r.ok(t, "MACRO:F1")
		assert.Equal(t, true, resp.Data["repeat"])
		require.Eventually(t, func() bool {
			return strings.Contains(r.port().Written(), "CQ CQ CQ DE ZS6WAR ZS6WAR K\n")
		}, 2*time.Second, 10*time.Millisecond)
		assert.True(t, r.engine.scheduler.Active())

		r.ok(t, "ENTRY:call W1AW")
		assert.False(t, r.engine.scheduler.Active())
	})

	t.Run("Invalid Interval Falls Back", func(t *testing.T) {
		r := newTestRig(t)
		resp := r.ok(t, "INTERVAL:soon")
		assert.Equal(t, 2.5, resp.Data["interval"])
		assert.NotEmpty(t, resp.Notice)
	})

	t.Run("Cancel Disables Repeat", func(t *testing.T) {
		r := newTestRig(t)
		r.ok(t, "REPEAT:ON")
		r.ok(t, "MACRO:F1")
		r.ok(t, "CANCEL")

		status := r.ok(t, "STATUS").Data["status"].(protocol.Status)
		assert.False(t, status.RepeatEnabled)
		assert.False(t, status.RepeatActive)
	})

	t.Run("Tune Preempts Repeat", func(t *testing.T) {
		r := newTestRig(t)
		r.ok(t, "REPEAT:ON")
		r.ok(t, "MACRO:F1")
		r.ok(t, "TUNE:ON")
		assert.False(t, r.engine.scheduler.Active())
	})
}

func TestEngineSettings(t *testing.T) {
	r := newTestRig(t)
	r.ok(t, "STATION:callsign=k1abc;name=Ann")
	r.ok(t, "CONTEST:name=CQ WW;serial=on")
	r.ok(t, "SETMACRO:F8 QRZ?")
	r.ok(t, "SPEED:31")
	r.ok(t, "ENTRY:call W1AW")
	r.ok(t, "ENTRY:exch 14")
	r.ok(t, "LOG")
	r.ok(t, "SAVE")

	t.Run("Saved To Config", func(t *testing.T) {
		cfg, err := config.LoadConfig(r.configPath)
		require.NoError(t, err)
		assert.Equal(t, "K1ABC", cfg.Station.Callsign)
		assert.Equal(t, "Ann", cfg.Station.Name)
		assert.True(t, cfg.Contest.UseSerialExchange)
		assert.Equal(t, "QRZ?", cfg.Macros["F8"])
		assert.Equal(t, 31, cfg.Keyer.Speed)
	})

	t.Run("Empty Callsign Rejected", func(t *testing.T) {
		resp := r.exec(t, "STATION:callsign=")
		assert.Equal(t, protocol.CodeValidation, resp.Code)
	})

	t.Run("Restart Restores State", func(t *testing.T) {
		require.NoError(t, r.engine.Stop())

		cfg, err := config.LoadConfig(r.configPath)
		require.NoError(t, err)
		cfg.Keyer.SettleMS = 1
		r.start(t, cfg)

		assert.Equal(t, 1, r.engine.qsoLog.Len())
		assert.Equal(t, 2, r.engine.qsoLog.NextSerial())
		resp := r.ok(t, "MACRO:F8")
		assert.Equal(t, "QRZ?", resp.Data["text"])
		status := r.ok(t, "STATUS").Data["status"].(protocol.Status)
		assert.Equal(t, 31, status.Speed)
	})
}

func TestEngineSocket(t *testing.T) {
	r := newTestRig(t)
	c := client.NewSocketClient(r.socketPath)

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, c.Ping())
	})

	t.Run("Log Through Client", func(t *testing.T) {
		qso, err := c.LogQSO(qsolog.Fields{Callsign: "W1AW", ExchangeReceived: "05"})
		require.NoError(t, err)
		assert.Equal(t, "W1AW", qso.Callsign)

		qsos, err := c.GetQSOs()
		require.NoError(t, err)
		assert.Len(t, qsos, 1)
	})

	t.Run("Coded Errors", func(t *testing.T) {
		err := c.DeleteQSO(9)
		var cmdErr *client.CommandError
		require.ErrorAs(t, err, &cmdErr)
		assert.Equal(t, protocol.CodeNotFound, cmdErr.Code)
	})
}
