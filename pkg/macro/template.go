package macro

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownPlaceholder is returned when a template names a field
	// the engine cannot fill
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
	// ErrSyntax is returned for empty or unbalanced braces
	ErrSyntax = errors.New("malformed template")
	// ErrNotASCII is returned when expanded text cannot be keyed
	ErrNotASCII = errors.New("text is not ASCII")
)

// Placeholder names accepted inside {braces}
const (
	FieldCallsign = "callsign"
	FieldReport   = "rst"
	FieldExchange = "exchange"
	FieldMyCall   = "mycall"
	FieldSerial   = "serial"
	FieldReceived = "rcvd"
)

var fields = map[string]bool{
	FieldCallsign: true,
	FieldReport:   true,
	FieldExchange: true,
	FieldMyCall:   true,
	FieldSerial:   true,
	FieldReceived: true,
}

// Fields lists the placeholder names in display order
func Fields() []string {
	return []string{FieldCallsign, FieldReport, FieldExchange, FieldMyCall, FieldSerial, FieldReceived}
}

// Options control how report and exchange values are shortened on air
type Options struct {
	Use5NN       bool `json:"use_5nn"`
	ShortenZeros bool `json:"shorten_zeros"`
}

// Context carries the values substituted into a template
type Context struct {
	Callsign         string
	Report           string
	ReceivedExchange string
	MyCall           string
	ExchangeSent     string
	Serial           int
	Options          Options
}

// FormattedReport returns the report as it is keyed
func (c Context) FormattedReport() string {
	if c.Options.Use5NN && c.Report == "599" {
		return "5NN"
	}
	return c.Report
}

// FormattedReceived returns the received exchange as it is keyed
func (c Context) FormattedReceived() string {
	if c.Options.ShortenZeros && isDigits(c.ReceivedExchange) {
		return strings.ReplaceAll(c.ReceivedExchange, "0", "T")
	}
	return c.ReceivedExchange
}

func (c Context) value(field string) string {
	switch field {
	case FieldCallsign:
		return c.Callsign
	case FieldReport:
		return c.FormattedReport()
	case FieldExchange:
		return c.ExchangeSent
	case FieldMyCall:
		return c.MyCall
	case FieldSerial:
		return strconv.Itoa(c.Serial)
	case FieldReceived:
		return c.FormattedReceived()
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

type segment struct {
	literal string
	field   string
}

// Template is a parsed macro. Only Compile produces valid templates,
// so expansion never meets an unknown placeholder.
type Template struct {
	source   string
	segments []segment
}

// Compile parses text, rejecting unknown placeholders. {{ and }} are
// literal braces.
func Compile(text string) (*Template, error) {
	t := &Template{source: text}
	var lit strings.Builder

	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch ch {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed '{' at offset %d", ErrSyntax, i)
			}
			name := text[i+1 : i+1+end]
			if name == "" {
				return nil, fmt.Errorf("%w: empty placeholder at offset %d", ErrSyntax, i)
			}
			if strings.ContainsRune(name, '{') {
				return nil, fmt.Errorf("%w: nested '{' at offset %d", ErrSyntax, i)
			}
			if !fields[name] {
				return nil, fmt.Errorf("%w: {%s}", ErrUnknownPlaceholder, name)
			}
			if lit.Len() > 0 {
				t.segments = append(t.segments, segment{literal: lit.String()})
				lit.Reset()
			}
			t.segments = append(t.segments, segment{field: name})
			i += end + 1
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("%w: single '}' at offset %d", ErrSyntax, i)
		default:
			lit.WriteByte(ch)
		}
	}
	if lit.Len() > 0 {
		t.segments = append(t.segments, segment{literal: lit.String()})
	}
	return t, nil
}

// MustCompile is Compile for built-in templates
func MustCompile(text string) *Template {
	t, err := Compile(text)
	if err != nil {
		panic(err)
	}
	return t
}

// Source returns the text the template was compiled from
func (t *Template) Source() string {
	return t.source
}

// Empty reports whether the template produces no text
func (t *Template) Empty() bool {
	return len(t.segments) == 0
}

// Placeholders returns the fields used, in order of appearance
func (t *Template) Placeholders() []string {
	var names []string
	for _, s := range t.segments {
		if s.field != "" {
			names = append(names, s.field)
		}
	}
	return names
}

// Expand substitutes ctx into the template. Accented letters are folded
// to their base letter; any other non-ASCII text is an error.
func (t *Template) Expand(ctx Context) (string, error) {
	var sb strings.Builder
	for _, s := range t.segments {
		if s.field != "" {
			sb.WriteString(ctx.value(s.field))
		} else {
			sb.WriteString(s.literal)
		}
	}
	return ToASCII(sb.String())
}
