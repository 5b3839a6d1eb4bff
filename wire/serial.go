package wire

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialTransport runs the protocol over a physical or USB-CDC serial
// port.
type SerialTransport struct {
	port serial.Port
	name string
}

// OpenSerial opens the named device at the given baud rate, 8N1. DTR
// and RTS are dropped so boards that wire them to reset lines are not
// rebooted by the open.
func OpenSerial(device string, baud int) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, NewError(ErrIO, fmt.Sprintf("open %s: %v", device, err))
	}
	if err := port.SetDTR(false); err != nil {
		port.Close()
		return nil, NewError(ErrIO, fmt.Sprintf("clear DTR on %s: %v", device, err))
	}
	if err := port.SetRTS(false); err != nil {
		port.Close()
		return nil, NewError(ErrIO, fmt.Sprintf("clear RTS on %s: %v", device, err))
	}
	return &SerialTransport{port: port, name: device}, nil
}

func (s *SerialTransport) Read(p []byte, timeout time.Duration) (int, error) {
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	// The library reports a timeout as n == 0 with a nil error, which
	// is exactly the Transport contract.
	return s.port.Read(p)
}

func (s *SerialTransport) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialTransport) Flush() error {
	return s.port.Drain()
}

// Available always reports 0: the library exposes no fill-level query.
func (s *SerialTransport) Available() int { return 0 }

func (s *SerialTransport) Close() error {
	return s.port.Close()
}

// Device returns the device path the transport was opened on.
func (s *SerialTransport) Device() string { return s.name }
