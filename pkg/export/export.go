// Package export writes the contest log as ADIF or Cabrillo.
package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dougsko/mm3d/pkg/qsolog"
)

// ErrNothingToExport is returned for an empty log; nothing is written
var ErrNothingToExport = errors.New("no QSOs to export")

// Generator names the program in file headers
const Generator = "mm3d MM-3 Morse Machine Contest Keyer"

// Format selects an export format
type Format string

const (
	FormatADIF     Format = "adif"
	FormatCabrillo Format = "cabrillo"
)

// ParseFormat accepts "adif"/"adi" and "cabrillo"/"log", any case
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "adif", "adi":
		return FormatADIF, nil
	case "cabrillo", "cab", "log":
		return FormatCabrillo, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Extension returns the default file extension for f
func (f Format) Extension() string {
	if f == FormatCabrillo {
		return ".log"
	}
	return ".adi"
}

// Header carries the station and contest details for a Cabrillo header
type Header struct {
	Station   qsolog.StationProfile
	Contest   qsolog.ContestConfig
	Generator string
}

func (h Header) generator() string {
	if h.Generator == "" {
		return Generator
	}
	return h.Generator
}

// WriteADIF writes entries as ADIF: a generator line, <EOH>, then one
// record per entry
func WriteADIF(w io.Writer, entries []qsolog.Entry, header Header) error {
	if len(entries) == 0 {
		return ErrNothingToExport
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Generated by %s\n<EOH>\n", header.generator())
	for _, e := range entries {
		writeField(bw, "QSO_DATE", e.Timestamp.Format("20060102"))
		writeField(bw, "TIME_ON", e.Timestamp.Format("150405"))
		writeField(bw, "CALL", e.Callsign)
		writeField(bw, "RST_SENT", e.RSTSent)
		writeField(bw, "RST_RCVD", e.RSTReceived)
		writeField(bw, "STX", e.ExchangeSent)
		writeField(bw, "SRX", e.ExchangeReceived)
		writeField(bw, "FREQ", e.Frequency)
		bw.WriteString("<MODE:2>CW\n")
		bw.WriteString("<EOR>\n")
	}
	return bw.Flush()
}

func writeField(w *bufio.Writer, tag, value string) {
	fmt.Fprintf(w, "<%s:%d>%s\n", tag, utf8.RuneCountInString(value), value)
}

// WriteCabrillo writes entries as a Cabrillo 3.0 log
func WriteCabrillo(w io.Writer, entries []qsolog.Entry, header Header) error {
	if len(entries) == 0 {
		return ErrNothingToExport
	}

	c := header.Contest
	bw := bufio.NewWriter(w)
	bw.WriteString("START-OF-LOG: 3.0\n")
	fmt.Fprintf(bw, "CALLSIGN: %s\n", header.Station.Callsign)
	fmt.Fprintf(bw, "CONTEST: %s\n", c.Name)
	fmt.Fprintf(bw, "CATEGORY-OPERATOR: %s\n", hyphenate(c.Operator))
	fmt.Fprintf(bw, "CATEGORY-BAND: %s\n", hyphenate(c.Band))
	fmt.Fprintf(bw, "CATEGORY-POWER: %s\n", strings.ToUpper(c.Power))
	fmt.Fprintf(bw, "CATEGORY-TRANSMITTER: %s\n", strings.ToUpper(c.Transmitter))
	fmt.Fprintf(bw, "CREATED-BY: %s\n", header.generator())
	for _, e := range entries {
		fmt.Fprintf(bw, "QSO: %05d CW %s %s %-13s %s %s   %-13s %s %s\n",
			KHz(e.Frequency),
			e.Timestamp.Format("20060102"),
			e.Timestamp.Format("1504"),
			header.Station.Callsign,
			e.RSTSent,
			e.ExchangeSent,
			e.Callsign,
			e.RSTReceived,
			e.ExchangeReceived)
	}
	bw.WriteString("END-OF-LOG:\n")
	return bw.Flush()
}

func hyphenate(s string) string {
	return strings.ReplaceAll(strings.ToUpper(s), " ", "-")
}

// KHz converts a MHz frequency string to whole kHz. Text that is not a
// number gives 0.
func KHz(mhz string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(mhz), 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	// the epsilon keeps 14.025 from truncating to 14024
	return int(math.Floor(f*1000 + 1e-6))
}

// WriteFile exports entries to path in format, adding the format's
// extension when path has none. It returns the path written.
func WriteFile(path string, format Format, entries []qsolog.Entry, header Header) (string, error) {
	if len(entries) == 0 {
		return "", ErrNothingToExport
	}
	if path == "" {
		return "", fmt.Errorf("no export path given")
	}
	if filepath.Ext(path) == "" {
		path += format.Extension()
	}

	var write func(io.Writer, []qsolog.Entry, Header) error
	switch format {
	case FormatADIF:
		write = WriteADIF
	case FormatCabrillo:
		write = WriteCabrillo
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f, entries, header); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}
