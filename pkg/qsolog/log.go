package qsolog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Log is the ordered list of logged contacts. Position 1 is the first
// entry; positions compress when entries are removed, serials do not.
type Log struct {
	mutex      sync.RWMutex
	entries    []Entry
	nextSerial int
	now        func() time.Time
}

// NewLog creates an empty log whose first serial is 1
func NewLog() *Log {
	return &Log{
		nextSerial: 1,
		now:        time.Now,
	}
}

// SetClock replaces the time source used for new entries
func (l *Log) SetClock(now func() time.Time) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.now = now
}

// FrequencyToken returns the first word of a frequency display, or N/A
func FrequencyToken(display string) string {
	parts := strings.Fields(display)
	if len(parts) == 0 {
		return NoFrequency
	}
	return parts[0]
}

// Append validates fields, assigns the next serial and appends the entry.
// On error the log and the serial counter are unchanged.
func (l *Log) Append(fields Fields, contest ContestConfig) (Entry, error) {
	callsign := strings.ToUpper(strings.TrimSpace(fields.Callsign))
	received := strings.TrimSpace(fields.ExchangeReceived)
	if callsign == "" {
		return Entry{}, &ValidationError{Field: "callsign"}
	}
	if received == "" {
		return Entry{}, &ValidationError{Field: "exchange_received"}
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	serial := l.nextSerial
	entry := Entry{
		ID:               uuid.NewString(),
		Serial:           serial,
		Timestamp:        l.now().UTC().Truncate(time.Second),
		Callsign:         callsign,
		RSTSent:          strings.TrimSpace(fields.RSTSent),
		RSTReceived:      strings.TrimSpace(fields.RSTReceived),
		ExchangeSent:     contest.ExchangeSent(serial),
		ExchangeReceived: received,
		Frequency:        FrequencyToken(fields.FrequencyDisplay),
		Mode:             ModeCW,
	}
	l.entries = append(l.entries, entry)
	l.nextSerial++
	return entry, nil
}

func (l *Log) indexLocked(position int) (int, error) {
	if position < 1 || position > len(l.entries) {
		return 0, fmt.Errorf("%w: position %d of %d", ErrNotFound, position, len(l.entries))
	}
	return position - 1, nil
}

// RemoveAt removes the entry at the 1-based display position
func (l *Log) RemoveAt(position int) (Entry, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	i, err := l.indexLocked(position)
	if err != nil {
		return Entry{}, err
	}
	removed := l.entries[i]
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	return removed, nil
}

// EditAt changes the entry at the 1-based display position. The serial,
// ID and mode never change.
func (l *Log) EditAt(position int, edit Edit) (Entry, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	i, err := l.indexLocked(position)
	if err != nil {
		return Entry{}, err
	}

	e := l.entries[i]
	if edit.Timestamp != nil {
		e.Timestamp = edit.Timestamp.UTC()
	}
	if edit.Callsign != nil {
		e.Callsign = strings.ToUpper(strings.TrimSpace(*edit.Callsign))
	}
	if edit.RSTSent != nil {
		e.RSTSent = strings.TrimSpace(*edit.RSTSent)
	}
	if edit.RSTReceived != nil {
		e.RSTReceived = strings.TrimSpace(*edit.RSTReceived)
	}
	if edit.ExchangeSent != nil {
		e.ExchangeSent = strings.TrimSpace(*edit.ExchangeSent)
	}
	if edit.ExchangeReceived != nil {
		e.ExchangeReceived = strings.TrimSpace(*edit.ExchangeReceived)
	}
	if edit.Frequency != nil {
		e.Frequency = FrequencyToken(*edit.Frequency)
	}

	if e.Callsign == "" {
		return Entry{}, &ValidationError{Field: "callsign"}
	}
	if e.ExchangeReceived == "" {
		return Entry{}, &ValidationError{Field: "exchange_received"}
	}

	l.entries[i] = e
	return e, nil
}

// Reset empties the log and restarts serials at 1
func (l *Log) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries = nil
	l.nextSerial = 1
}

// Entries returns a copy of the log in display order
func (l *Log) Entries() []Entry {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries
func (l *Log) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.entries)
}

// NextSerial returns the serial the next entry will get
func (l *Log) NextSerial() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.nextSerial
}

// Snapshot returns the persisted form of the log
func (l *Log) Snapshot() Snapshot {
	return Snapshot{Entries: l.Entries(), NextSerial: l.NextSerial()}
}

// Restore replaces the log with snap. The serial counter is moved past
// the largest stored serial so serials are never reused.
func (l *Log) Restore(snap Snapshot) {
	next := snap.NextSerial
	if next < 1 {
		next = 1
	}
	entries := make([]Entry, len(snap.Entries))
	copy(entries, snap.Entries)
	for i := range entries {
		if entries[i].Serial >= next {
			next = entries[i].Serial + 1
		}
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		if entries[i].Mode == "" {
			entries[i].Mode = ModeCW
		}
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries = entries
	l.nextSerial = next
}

// Worked returns the entries logged with callsign
func (l *Log) Worked(callsign string) []Entry {
	call := strings.ToUpper(strings.TrimSpace(callsign))

	l.mutex.RLock()
	defer l.mutex.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if e.Callsign == call {
			out = append(out, e)
		}
	}
	return out
}
