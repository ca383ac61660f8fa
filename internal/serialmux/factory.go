package serialmux

import (
	"go.bug.st/serial"
)

// SerialPortFactory opens serial ports. Tests substitute a factory that hands
// back an in-memory port.
type SerialPortFactory interface {
	Open(path string, mode *serial.Mode) (SerialPorter, error)
}

// RealSerialPortFactory opens ports through go.bug.st/serial.
type RealSerialPortFactory struct{}

func (RealSerialPortFactory) Open(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}

// OpenSerialMux opens path through factory and wraps the port in a SerialMux.
func OpenSerialMux(factory SerialPortFactory, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := factory.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewSerialMux(port), nil
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(RealSerialPortFactory{}, path, opts)
}
