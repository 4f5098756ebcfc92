package scpi

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrTimeout     = errors.New("timed out waiting for instrument response")
)

// DefaultTimeout bounds a query when the device config does not set one.
const DefaultTimeout = 2 * time.Second

// pollInterval is the read timeout used to poll TimeoutPorters so that the
// query deadline is honoured.
const pollInterval = 50 * time.Millisecond

// Link is a newline-framed command/response channel to one instrument.
// Commands are serialised; a query holds the link until its response line
// arrives.
type Link struct {
	port    Porter
	timeout time.Duration

	mu      sync.Mutex
	pending []byte
}

// NewLink wraps port. A non-positive timeout selects DefaultTimeout.
func NewLink(port Porter, timeout time.Duration) *Link {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if tp, ok := port.(TimeoutPorter); ok {
		_ = tp.SetReadTimeout(pollInterval)
	}
	return &Link{port: port, timeout: timeout}
}

// Write sends a command without waiting for a response.
func (l *Link) Write(command string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(command)
}

// Query sends a command and returns the next response line without its
// terminator.
func (l *Link) Query(command string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.write(command); err != nil {
		return "", err
	}
	return l.readLine()
}

// Close closes the underlying port.
func (l *Link) Close() error {
	return l.port.Close()
}

func (l *Link) write(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := l.port.Write([]byte(command))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

func (l *Link) readLine() (string, error) {
	deadline := time.Now().Add(l.timeout)
	buf := make([]byte, 256)
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			line := string(bytes.TrimRight(l.pending[:i], "\r"))
			l.pending = append(l.pending[:0], l.pending[i+1:]...)
			return line, nil
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		n, err := l.port.Read(buf)
		l.pending = append(l.pending, buf[:n]...)
		if err != nil {
			return "", fmt.Errorf("reading response: %w", err)
		}
	}
}
