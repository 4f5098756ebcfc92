package scpi

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

var errPortClosed = errors.New("serial port closed")

// FakeInstrument is a Porter that answers like a small SCPI source-measure
// unit. Every complete line written is recorded and passed to the
// responder; a non-empty reply is queued for reading. It is used in -dev
// mode and in tests.
type FakeInstrument struct {
	mu sync.Mutex

	// Lines records every command line received.
	Lines []string
	// Volts holds the output voltage per channel.
	Volts map[int]float64
	// WriteError is returned by the next Write call if set.
	WriteError error
	// Silent suppresses replies so queries time out.
	Silent bool
	// ReadTimeout is the value set through SetReadTimeout.
	ReadTimeout time.Duration
	Closed      bool

	partial bytes.Buffer
	replies bytes.Buffer
}

// NewFakeInstrument returns an instrument with all outputs at zero.
func NewFakeInstrument() *FakeInstrument {
	return &FakeInstrument{Volts: make(map[int]float64)}
}

func (f *FakeInstrument) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Closed {
		return 0, errPortClosed
	}
	if f.WriteError != nil {
		err := f.WriteError
		f.WriteError = nil
		return 0, err
	}
	f.partial.Write(p)
	for {
		line, err := f.partial.ReadString('\n')
		if err != nil {
			// Keep the incomplete tail for the next write.
			f.partial.Reset()
			f.partial.WriteString(line)
			break
		}
		line = strings.TrimRight(line, "\r\n")
		f.Lines = append(f.Lines, line)
		if reply := f.respond(line); reply != "" && !f.Silent {
			f.replies.WriteString(reply + "\r\n")
		}
	}
	return len(p), nil
}

// Read returns queued replies, or (0, nil) when none are queued, as a
// serial port does when its read timeout elapses.
func (f *FakeInstrument) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Closed {
		return 0, errPortClosed
	}
	if f.replies.Len() == 0 {
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
		f.mu.Lock()
		return 0, nil
	}
	return f.replies.Read(p)
}

func (f *FakeInstrument) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// SetReadTimeout implements TimeoutPorter.
func (f *FakeInstrument) SetReadTimeout(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReadTimeout = timeout
	return nil
}

// Received returns a copy of the recorded command lines.
func (f *FakeInstrument) Received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Lines...)
}

// Volt returns the output voltage of channel ch.
func (f *FakeInstrument) Volt(ch int) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Volts[ch]
}

func (f *FakeInstrument) respond(line string) string {
	switch {
	case line == "*IDN?":
		return "LABSWEEP,FAKE-SMU,0,1.0"
	case line == "*RST":
		f.Volts = make(map[int]float64)
	case strings.HasPrefix(line, "SOUR"):
		var ch int
		var v float64
		if _, err := fmt.Sscanf(line, "SOUR%d:VOLT %g", &ch, &v); err == nil {
			f.Volts[ch] = v
		}
	case strings.HasPrefix(line, "MEAS"):
		var ch int
		if _, err := fmt.Sscanf(line, "MEAS%d:VOLT?", &ch); err == nil {
			return strconv.FormatFloat(f.Volts[ch], 'E', 6, 64)
		}
		return "-113,\"Undefined header\""
	}
	return ""
}

// MockOpener hands out FakeInstruments by path and records every open.
type MockOpener struct {
	mu sync.Mutex

	// Ports maps a path to the instrument returned for it. Unknown paths
	// get a fresh FakeInstrument.
	Ports map[string]*FakeInstrument
	// Error is returned by Open if set.
	Error error
	// Opens records the paths opened.
	Opens []string
}

// NewMockOpener creates an opener with no preset ports.
func NewMockOpener() *MockOpener {
	return &MockOpener{Ports: make(map[string]*FakeInstrument)}
}

// Open implements Opener.
func (m *MockOpener) Open(path string, opts PortOptions) (Porter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Opens = append(m.Opens, path)
	if m.Error != nil {
		return nil, m.Error
	}
	if _, err := opts.Normalize(); err != nil {
		return nil, err
	}
	f, ok := m.Ports[path]
	if !ok {
		f = NewFakeInstrument()
		m.Ports[path] = f
	}
	return f, nil
}
