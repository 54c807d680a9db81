package macro

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() Context {
	return Context{
		Callsign:         "W1AW",
		Report:           "599",
		ReceivedExchange: "005",
		MyCall:           "ZS6WAR",
		ExchangeSent:     "12",
		Serial:           12,
	}
}

func TestCompile(t *testing.T) {
	t.Run("Every Placeholder Substituted Once", func(t *testing.T) {
		tmpl, err := Compile("{callsign}|{rst}|{exchange}|{mycall}|{serial}")
		require.NoError(t, err)

		out, err := tmpl.Expand(testContext())
		require.NoError(t, err)
		assert.Equal(t, "W1AW|599|12|ZS6WAR|12", out)
		assert.Equal(t, []string{"callsign", "rst", "exchange", "mycall", "serial"}, tmpl.Placeholders())
		assert.NotContains(t, out, "{")
	})

	t.Run("Unknown Placeholder Rejected At Definition", func(t *testing.T) {
		_, err := Compile("CQ DE {mycal}")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownPlaceholder))
	})

	t.Run("Malformed Braces", func(t *testing.T) {
		for _, text := range []string{"{", "CQ {mycall", "{}", "TU }", "{{mycall}"} {
			_, err := Compile(text)
			assert.ErrorIs(t, err, ErrSyntax, "text %q", text)
		}
	})

	t.Run("Escaped Braces", func(t *testing.T) {
		tmpl, err := Compile("{{{mycall}}}")
		require.NoError(t, err)
		out, err := tmpl.Expand(testContext())
		require.NoError(t, err)
		assert.Equal(t, "{ZS6WAR}", out)
	})

	t.Run("Empty Template", func(t *testing.T) {
		tmpl, err := Compile("")
		require.NoError(t, err)
		assert.True(t, tmpl.Empty())
	})

	t.Run("Case And Whitespace Preserved", func(t *testing.T) {
		tmpl := MustCompile("  tu {callsign}  ")
		ctx := testContext()
		ctx.Callsign = "w1aw"
		out, err := tmpl.Expand(ctx)
		require.NoError(t, err)
		assert.Equal(t, "  tu w1aw  ", out)
	})
}

func TestFormatting(t *testing.T) {
	t.Run("5NN Shorthand", func(t *testing.T) {
		ctx := testContext()
		ctx.Options.Use5NN = true
		assert.Equal(t, "5NN", ctx.FormattedReport())

		ctx.Report = "579"
		assert.Equal(t, "579", ctx.FormattedReport())

		ctx.Report = "599"
		ctx.Options.Use5NN = false
		assert.Equal(t, "599", ctx.FormattedReport())
	})

	t.Run("Shorten Zeros", func(t *testing.T) {
		ctx := testContext()
		ctx.Options.ShortenZeros = true
		assert.Equal(t, "TT5", ctx.FormattedReceived())

		ctx.ReceivedExchange = "GP05"
		assert.Equal(t, "GP05", ctx.FormattedReceived())

		ctx.ReceivedExchange = ""
		assert.Equal(t, "", ctx.FormattedReceived())

		ctx.ReceivedExchange = "100"
		ctx.Options.ShortenZeros = false
		assert.Equal(t, "100", ctx.FormattedReceived())
	})

	t.Run("Received Placeholder", func(t *testing.T) {
		ctx := testContext()
		ctx.Options.ShortenZeros = true
		out, err := MustCompile("R {rcvd}").Expand(ctx)
		require.NoError(t, err)
		assert.Equal(t, "R TT5", out)
	})
}

func TestToASCII(t *testing.T) {
	out, err := ToASCII("Zoë René")
	require.NoError(t, err)
	assert.Equal(t, "Zoe Rene", out)

	_, err = ToASCII("73 ✓")
	assert.ErrorIs(t, err, ErrNotASCII)

	out, err = ToASCII("CQ TEST")
	require.NoError(t, err)
	assert.Equal(t, "CQ TEST", out)
}

func TestTable(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		table := NewTable()
		all := table.All()
		require.Len(t, all, SlotCount)
		assert.Equal(t, "F1", all[0].Key)
		assert.Equal(t, "F12", all[11].Key)
		assert.Equal(t, "CQ CQ CQ DE {mycall} {mycall} K", all[0].Text())
		assert.Equal(t, "CQ", all[0].Label)
		assert.Equal(t, "F8", all[7].Label)
		assert.True(t, all[7].Template.Empty())
	})

	t.Run("Set Rejects Bad Template Without Change", func(t *testing.T) {
		table := NewTable()
		err := table.SetText("f2", "{callsign} {nr}")
		assert.ErrorIs(t, err, ErrUnknownPlaceholder)

		m, err := table.Get("F2")
		require.NoError(t, err)
		assert.Equal(t, "{callsign} {rst} {exchange}", m.Text())
	})

	t.Run("Set And Label", func(t *testing.T) {
		table := NewTable()
		require.NoError(t, table.SetText("F8", "QRZ?"))
		require.NoError(t, table.SetLabel("F8", "QRZ"))
		m, err := table.Get("f8")
		require.NoError(t, err)
		assert.Equal(t, "QRZ?", m.Text())
		assert.Equal(t, "QRZ", m.Label)
	})

	t.Run("Invalid Keys", func(t *testing.T) {
		table := NewTable()
		for _, key := range []string{"F0", "F13", "G1", "", "F"} {
			_, err := table.Get(key)
			assert.Error(t, err, "key %q", key)
		}
	})

	t.Run("Load Is All Or Nothing", func(t *testing.T) {
		table := NewTable()
		err := table.Load(map[string]string{"F3": "TU 73", "F4": "{bogus}"}, nil)
		require.Error(t, err)
		m, _ := table.Get("F3")
		assert.Equal(t, "TU", m.Text())

		err = table.Load(map[string]string{"F3": "TU 73"}, map[string]string{"f3": "Thanks"})
		require.NoError(t, err)
		m, _ = table.Get("F3")
		assert.Equal(t, "TU 73", m.Text())
		assert.Equal(t, "Thanks", m.Label)
	})

	t.Run("Texts Round Trip", func(t *testing.T) {
		table := NewTable()
		texts := table.Texts()
		assert.Len(t, texts, SlotCount)
		assert.True(t, strings.Contains(texts["F5"], "{exchange}"))
	})
}
