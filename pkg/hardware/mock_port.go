package hardware

import (
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by MockPort after Close
var ErrPortClosed = errors.New("port closed")

// MockPort implements SerialPort in memory. Writes are recorded; reads
// return data queued with Feed.
type MockPort struct {
	mu          sync.Mutex
	written     []byte
	writes      [][]byte
	pending     []byte
	feed        chan []byte
	closed      chan struct{}
	isClosed    bool
	writeErr    error
	resets      int
	readTimeout time.Duration
}

// NewMockPort creates an open mock port
func NewMockPort() *MockPort {
	return &MockPort{
		feed:        make(chan []byte, 64),
		closed:      make(chan struct{}),
		readTimeout: 10 * time.Millisecond,
	}
}

// Read returns fed data, or (0, nil) after the read timeout like a real
// port with a timeout set
func (p *MockPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	select {
	case <-p.closed:
		return 0, ErrPortClosed
	case data := <-p.feed:
		p.mu.Lock()
		defer p.mu.Unlock()
		n := copy(b, data)
		p.pending = append(p.pending, data[n:]...)
		return n, nil
	case <-time.After(p.readTimeout):
		return 0, nil
	}
}

// Write records b, or fails with the error set by FailWrites
func (p *MockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isClosed {
		return 0, ErrPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written = append(p.written, b...)
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

// ResetInputBuffer drops fed data not yet read
func (p *MockPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isClosed {
		return ErrPortClosed
	}
	p.pending = nil
	for {
		select {
		case <-p.feed:
		default:
			p.resets++
			return nil
		}
	}
}

// Close closes the port; further calls are no-ops
func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isClosed {
		p.isClosed = true
		close(p.closed)
	}
	return nil
}

// Feed queues data for Read
func (p *MockPort) Feed(data string) {
	p.feed <- []byte(data)
}

// FailWrites makes every following Write return err; nil clears it
func (p *MockPort) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// Written returns everything written so far
func (p *MockPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.written)
}

// Writes returns the individual Write calls
func (p *MockPort) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.writes))
	for i, w := range p.writes {
		out[i] = string(w)
	}
	return out
}

// Reset clears the write record
func (p *MockPort) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = nil
	p.writes = nil
}

// Resets returns how many times ResetInputBuffer was called
func (p *MockPort) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// Closed reports whether Close was called
func (p *MockPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isClosed
}
