package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Command represents a command sent to the core engine
type Command struct {
	Type  string            `json:"type"`
	Args  map[string]string `json:"args,omitempty"`
	Pairs map[string]string `json:"pairs,omitempty"`
}

// Response represents a response from the core engine
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	// Code classifies Error for callers that map it to a status
	Code string `json:"code,omitempty"`
	// Notice reports a non-fatal adjustment, e.g. a clamped speed
	Notice string `json:"notice,omitempty"`
}

// Error codes carried in Response.Code
const (
	CodeBadRequest        = "bad_request"
	CodeValidation        = "validation"
	CodeNotFound          = "not_found"
	CodeTuning            = "tuning"
	CodeKnobActive        = "knob_active"
	CodeDeviceUnavailable = "device_unavailable"
	CodeNothingToExport   = "nothing_to_export"
	CodeInternal          = "internal"
)

// Status is the daemon status reported by STATUS
type Status struct {
	Callsign       string    `json:"callsign"`
	Contest        string    `json:"contest"`
	Frequency      string    `json:"frequency"`
	Mode           string    `json:"mode"`
	Speed          int       `json:"speed"`
	Sidetone       bool      `json:"sidetone"`
	Knob           bool      `json:"knob"`
	Connected      bool      `json:"connected"`
	Device         string    `json:"device"`
	RepeatEnabled  bool      `json:"repeat_enabled"`
	RepeatActive   bool      `json:"repeat_active"`
	RepeatInterval string    `json:"repeat_interval"`
	Use5NN         bool      `json:"use_5nn"`
	ShortenZeros   bool      `json:"shorten_zeros"`
	QSOs           int       `json:"qsos"`
	NextSerial     int       `json:"next_serial"`
	LastSent       string    `json:"last_sent"`
	Entry          Entry     `json:"entry"`
	Uptime         string    `json:"uptime"`
	StartTime      time.Time `json:"start_time"`
	Version        string    `json:"version"`
}

// Entry is the contact being worked
type Entry struct {
	Callsign    string `json:"callsign"`
	RSTSent     string `json:"rst_sent"`
	RSTReceived string `json:"rst_received"`
	Exchange    string `json:"exchange"`
}

// Protocol commands
const (
	CmdStatus     = "STATUS"
	CmdPing       = "PING"
	CmdQuit       = "QUIT"
	CmdConnect    = "CONNECT"
	CmdMacro      = "MACRO"
	CmdSetMacro   = "SETMACRO"
	CmdLabel      = "LABEL"
	CmdMacros     = "MACROS"
	CmdKey        = "KEY"
	CmdEntry      = "ENTRY"
	CmdLog        = "LOG"
	CmdQSOs       = "QSOS"
	CmdDelete     = "DELETE"
	CmdEdit       = "EDIT"
	CmdSpeed      = "SPEED"
	CmdKnob       = "KNOB"
	CmdSidetone   = "SIDETONE"
	CmdTune       = "TUNE"
	CmdRepeat     = "REPEAT"
	CmdInterval   = "INTERVAL"
	CmdOption     = "OPTION"
	CmdCancel     = "CANCEL"
	CmdExport     = "EXPORT"
	CmdNewContest = "NEWCONTEST"
	CmdContest    = "CONTEST"
	CmdStation    = "STATION"
	CmdSave       = "SAVE"
	CmdQRZ        = "QRZ"
)

// Entry fields accepted by ENTRY
const (
	FieldCall     = "call"
	FieldSent     = "snt"
	FieldReceived = "rcv"
	FieldExchange = "exch"
)

// ParseCommand parses a text command into a Command struct. Arguments
// after the colon keep their spacing, since KEY passes text through.
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimLeft(strings.TrimRight(text, "\r\n"), " \t")
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(strings.TrimSpace(parts[0])),
		Args: make(map[string]string),
	}
	if cmd.Type == "" {
		return nil, fmt.Errorf("empty command")
	}

	var args string
	hasArgs := len(parts) > 1
	if hasArgs {
		args = parts[1]
	}
	trimmed := strings.TrimSpace(args)

	switch cmd.Type {
	case CmdConnect:
		// CONNECT or CONNECT:/dev/ttyUSB0
		if trimmed != "" {
			cmd.Args["device"] = trimmed
		}

	case CmdQRZ:
		// QRZ looks up the entry callsign, QRZ:W1AW a given one
		if trimmed != "" {
			cmd.Args["call"] = trimmed
		}

	case CmdMacro:
		// MACRO:F1
		if trimmed == "" {
			return nil, fmt.Errorf("%s requires a function key", cmd.Type)
		}
		cmd.Args["key"] = trimmed

	case CmdSetMacro, CmdLabel:
		// SETMACRO:F2 {callsign} {rst} or LABEL:F2 Exchange
		key, value := splitFirst(strings.TrimLeft(args, " "))
		if key == "" {
			return nil, fmt.Errorf("%s requires a function key", cmd.Type)
		}
		cmd.Args["key"] = key
		if cmd.Type == CmdSetMacro {
			cmd.Args["text"] = value
		} else {
			cmd.Args["label"] = value
		}

	case CmdKey:
		// KEY:text, spaces included
		if args == "" {
			return nil, fmt.Errorf("KEY requires text")
		}
		cmd.Args["text"] = args

	case CmdEntry:
		// ENTRY:call W1AW
		field, value := splitFirst(trimmed)
		field = strings.ToLower(field)
		switch field {
		case FieldCall, FieldSent, FieldReceived, FieldExchange:
		default:
			return nil, fmt.Errorf("unknown entry field %q", field)
		}
		cmd.Args["field"] = field
		cmd.Args["value"] = strings.TrimSpace(value)

	case CmdDelete:
		// DELETE:3
		if _, err := strconv.Atoi(trimmed); err != nil {
			return nil, fmt.Errorf("invalid position %q", trimmed)
		}
		cmd.Args["position"] = trimmed

	case CmdEdit:
		// EDIT:3 call=W1AW;rcv=05
		pos, rest := splitFirst(trimmed)
		if _, err := strconv.Atoi(pos); err != nil {
			return nil, fmt.Errorf("invalid position %q", pos)
		}
		pairs, err := ParsePairs(rest)
		if err != nil {
			return nil, err
		}
		if len(pairs) == 0 {
			return nil, fmt.Errorf("EDIT requires at least one field")
		}
		cmd.Args["position"] = pos
		cmd.Pairs = pairs

	case CmdSpeed, CmdInterval:
		// SPEED:28, SPEED:UP, INTERVAL:3.5
		if trimmed == "" {
			return nil, fmt.Errorf("%s requires a value", cmd.Type)
		}
		cmd.Args["value"] = trimmed

	case CmdKnob, CmdSidetone, CmdRepeat:
		state, err := parseSwitch(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cmd.Type, err)
		}
		cmd.Args["state"] = state

	case CmdTune:
		// TUNE toggles
		if trimmed != "" {
			state, err := parseSwitch(trimmed)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", cmd.Type, err)
			}
			cmd.Args["state"] = state
		}

	case CmdOption:
		// OPTION:5NN ON
		name, value := splitFirst(trimmed)
		name = strings.ToUpper(name)
		if name != "5NN" && name != "ZEROS" {
			return nil, fmt.Errorf("unknown option %q", name)
		}
		state, err := parseSwitch(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cmd.Type, err)
		}
		cmd.Args["option"] = name
		cmd.Args["state"] = state

	case CmdExport:
		// EXPORT:ADIF /tmp/contest.adi
		format, path := splitFirst(trimmed)
		if format == "" || strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("EXPORT requires a format and a path")
		}
		cmd.Args["format"] = strings.ToLower(format)
		cmd.Args["path"] = strings.TrimSpace(path)

	case CmdContest, CmdStation, CmdQSOs:
		// CONTEST:name=CQ WW;band=20M, QSOS:call=W1AW;limit=10
		pairs, err := ParsePairs(trimmed)
		if err != nil {
			return nil, err
		}
		cmd.Pairs = pairs
	}

	return cmd, nil
}

func splitFirst(s string) (string, string) {
	parts := strings.SplitN(s, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func parseSwitch(s string) (string, error) {
	switch strings.ToUpper(s) {
	case "ON", "1", "TRUE":
		return "ON", nil
	case "OFF", "0", "FALSE":
		return "OFF", nil
	}
	return "", fmt.Errorf("expected ON or OFF, got %q", s)
}

// ParsePairs parses "key=value;key=value". Keys are lower-cased; values
// are trimmed and may be empty.
func ParsePairs(s string) (map[string]string, error) {
	pairs := make(map[string]string)
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		kv := strings.SplitN(item, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", item)
		}
		pairs[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}
	return pairs, nil
}

// FormatPairs is the inverse of ParsePairs, with keys sorted
func FormatPairs(pairs map[string]string) string {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+pairs[k])
	}
	return strings.Join(parts, ";")
}

// IsOn reports whether a parsed switch argument is ON
func (c *Command) IsOn(name string) bool {
	return c.Args[name] == "ON"
}

// String converts a Response to a JSON line
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewCodedErrorResponse creates an error response with a code
func NewCodedErrorResponse(code, err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
		Code:    code,
	}
}

// WithNotice attaches a notice and returns r
func (r *Response) WithNotice(notice string) *Response {
	if notice == "" {
		return r
	}
	if r.Notice != "" {
		r.Notice += "; " + notice
	} else {
		r.Notice = notice
	}
	return r
}
