package udpmux

import (
	"fmt"
	"time"
)

// Defaults matching the arm firmware.
const (
	DefaultListenPort  = 50195
	DefaultPeerHost    = "192.168.137.172"
	DefaultPeerPort    = 3002
	DefaultReadBuffer  = 1 << 20
	DefaultQueueSize   = 64
	DefaultLogInterval = time.Minute

	// maxDatagram is the largest UDP payload over IPv4.
	maxDatagram = 65507
)

// Config configures an Endpoint.
type Config struct {
	// ListenHost is the local interface to bind; empty binds all interfaces.
	ListenHost string
	ListenPort int

	// PeerHost and PeerPort address the device for SendDefault.
	PeerHost string
	PeerPort int

	// Verbose logs every raw datagram and every command sent.
	Verbose bool

	ReadBuffer  int
	QueueSize   int
	LogInterval time.Duration

	// MirrorAddr, when set, receives a copy of every inbound datagram.
	MirrorAddr string
}

// DefaultConfig returns the configuration used by the arm controller.
func DefaultConfig() Config {
	return Config{
		ListenPort:  DefaultListenPort,
		PeerHost:    DefaultPeerHost,
		PeerPort:    DefaultPeerPort,
		Verbose:     true,
		ReadBuffer:  DefaultReadBuffer,
		QueueSize:   DefaultQueueSize,
		LogInterval: DefaultLogInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.LogInterval <= 0 {
		c.LogInterval = DefaultLogInterval
	}
	return c
}

// Validate checks port ranges. Port 0 for ListenPort asks the OS to choose.
func (c Config) Validate() error {
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen port %d out of range", c.ListenPort)
	}
	if c.PeerPort < 0 || c.PeerPort > 65535 {
		return fmt.Errorf("peer port %d out of range", c.PeerPort)
	}
	if c.ReadBuffer < 0 {
		return fmt.Errorf("read buffer must be non-negative, got %d", c.ReadBuffer)
	}
	return nil
}
