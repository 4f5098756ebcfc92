package scpi

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// PortOptions are the line settings of one instrument's serial port. Zero
// fields take the usual bench-instrument defaults of 9600 8N1.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parityCodes = map[string]string{
	"": "N", "N": "N", "NONE": "N",
	"E": "E", "EVEN": "E",
	"O": "O", "ODD": "O",
}

var serialParity = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var serialStopBits = map[int]serial.StopBits{
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Normalize fills in defaults and reduces Parity to a single-letter code.
func (o PortOptions) Normalize() (PortOptions, error) {
	out := PortOptions{
		BaudRate: orDefault(o.BaudRate, 9600),
		DataBits: orDefault(o.DataBits, 8),
		StopBits: orDefault(o.StopBits, 1),
	}
	if out.DataBits < 5 || out.DataBits > 8 {
		return o, fmt.Errorf("data bits %d out of range 5-8", out.DataBits)
	}
	if _, ok := serialStopBits[out.StopBits]; !ok {
		return o, fmt.Errorf("stop bits %d not supported (use 1 or 2)", out.StopBits)
	}
	code, ok := parityCodes[strings.ToUpper(strings.TrimSpace(o.Parity))]
	if !ok {
		return o, fmt.Errorf("parity %q not supported (use N, E or O)", o.Parity)
	}
	out.Parity = code
	return out, nil
}

// SerialMode returns the go.bug.st/serial mode for the normalized options.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: serialStopBits[n.StopBits],
		Parity:   serialParity[n.Parity],
	}, nil
}
