package macro

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// CQKey is the slot the repeat scheduler transmits
const CQKey = "F1"

// SlotCount is the number of function-key macros
const SlotCount = 12

// Macro is one function-key slot
type Macro struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Template *Template `json:"-"`
}

// Text returns the template source
func (m Macro) Text() string {
	if m.Template == nil {
		return ""
	}
	return m.Template.Source()
}

var defaultTexts = map[string]string{
	"F1": "CQ CQ CQ DE {mycall} {mycall} K",
	"F2": "{callsign} {rst} {exchange}",
	"F3": "TU",
	"F4": "NR {mycall}",
	"F5": "{callsign} UR {rst} {exchange}",
	"F6": "NR?",
	"F7": "?",
}

var defaultLabels = map[string]string{
	"F1": "CQ",
	"F2": "Exchange",
	"F3": "TU",
	"F4": "My #",
	"F5": "His",
	"F6": "NR?",
	"F7": "?",
}

// Table holds the function-key macros. Templates are validated when set,
// never when triggered.
type Table struct {
	mutex  sync.RWMutex
	macros map[string]Macro
}

// NewTable creates a table with the stock contest macros
func NewTable() *Table {
	t := &Table{macros: make(map[string]Macro, SlotCount)}
	for i := 1; i <= SlotCount; i++ {
		key := "F" + strconv.Itoa(i)
		label, ok := defaultLabels[key]
		if !ok {
			label = key
		}
		t.macros[key] = Macro{
			Key:      key,
			Label:    label,
			Template: MustCompile(defaultTexts[key]),
		}
	}
	return t
}

// NormalizeKey upper-cases key and checks it names a slot
func NormalizeKey(key string) (string, error) {
	k := strings.ToUpper(strings.TrimSpace(key))
	if !strings.HasPrefix(k, "F") {
		return "", fmt.Errorf("invalid macro key %q", key)
	}
	n, err := strconv.Atoi(k[1:])
	if err != nil || n < 1 || n > SlotCount {
		return "", fmt.Errorf("invalid macro key %q", key)
	}
	return k, nil
}

// Get returns the macro in slot key
func (t *Table) Get(key string) (Macro, error) {
	k, err := NormalizeKey(key)
	if err != nil {
		return Macro{}, err
	}

	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.macros[k], nil
}

// SetText compiles text and stores it in slot key. The slot is unchanged
// when text does not compile.
func (t *Table) SetText(key, text string) error {
	k, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	tmpl, err := Compile(text)
	if err != nil {
		return fmt.Errorf("macro %s: %w", k, err)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	m := t.macros[k]
	m.Template = tmpl
	t.macros[k] = m
	return nil
}

// SetLabel renames slot key
func (t *Table) SetLabel(key, label string) error {
	k, err := NormalizeKey(key)
	if err != nil {
		return err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	m := t.macros[k]
	m.Label = label
	t.macros[k] = m
	return nil
}

// Load applies saved texts and labels. All texts are compiled before any
// slot changes.
func (t *Table) Load(texts, labels map[string]string) error {
	compiled := make(map[string]*Template, len(texts))
	for key, text := range texts {
		k, err := NormalizeKey(key)
		if err != nil {
			return err
		}
		tmpl, err := Compile(text)
		if err != nil {
			return fmt.Errorf("macro %s: %w", k, err)
		}
		compiled[k] = tmpl
	}
	normLabels := make(map[string]string, len(labels))
	for key, label := range labels {
		k, err := NormalizeKey(key)
		if err != nil {
			return err
		}
		normLabels[k] = label
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	for k, tmpl := range compiled {
		m := t.macros[k]
		m.Template = tmpl
		t.macros[k] = m
	}
	for k, label := range normLabels {
		m := t.macros[k]
		m.Label = label
		t.macros[k] = m
	}
	return nil
}

// All returns the macros ordered F1..F12
func (t *Table) All() []Macro {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	out := make([]Macro, 0, len(t.macros))
	for _, m := range t.macros {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].Key[1:])
		b, _ := strconv.Atoi(out[j].Key[1:])
		return a < b
	})
	return out
}

// Texts returns key -> template source, for saving
func (t *Table) Texts() map[string]string {
	out := make(map[string]string)
	for _, m := range t.All() {
		out[m.Key] = m.Text()
	}
	return out
}

// Labels returns key -> label, for saving
func (t *Table) Labels() map[string]string {
	out := make(map[string]string)
	for _, m := range t.All() {
		out[m.Key] = m.Label
	}
	return out
}
