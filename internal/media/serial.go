package media

import (
	"fmt"

	"go.bug.st/serial"
)

// SerialParams configures the real UART media driver. BaudRate should
// match the value fed to channel.Config.BaudRate so the ACK timeout
// formula stays honest.
type SerialParams struct {
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

func (p SerialParams) mode() *serial.Mode {
	baud := p.BaudRate
	if baud == 0 {
		baud = 57600
	}
	dataBits := p.DataBits
	if dataBits == 0 {
		dataBits = 8
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: dataBits,
		Parity:   p.Parity,
		StopBits: p.StopBits,
	}
}

// SerialDriver opens a real UART port as the service's media link.
type SerialDriver struct{}

func (SerialDriver) Open(path string, params any) (Handle, error) {
	sp, _ := params.(SerialParams)

	port, err := serial.Open(path, sp.mode())
	if err != nil {
		return nil, fmt.Errorf("media: open serial port %s: %w", path, err)
	}

	return &serialHandle{port: port}, nil
}

type serialHandle struct {
	port serial.Port
}

func (h *serialHandle) Read(buf []byte) (int, error)  { return h.port.Read(buf) }
func (h *serialHandle) Write(buf []byte) (int, error) { return h.port.Write(buf) }
func (h *serialHandle) Close() error                  { return h.port.Close() }
