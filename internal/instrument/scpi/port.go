package scpi

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Porter is the minimal interface needed for an instrument's serial line.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPorter is a Porter whose reads return (0, nil) once the read
// timeout elapses without data.
type TimeoutPorter interface {
	Porter
	SetReadTimeout(timeout time.Duration) error
}

// Opener opens the serial line at path.
type Opener func(path string, opts PortOptions) (Porter, error)

// OpenSerial opens a real serial port with go.bug.st/serial.
func OpenSerial(path string, opts PortOptions) (Porter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	return serial.Open(path, mode)
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
