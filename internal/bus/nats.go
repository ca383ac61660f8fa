package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/twin"
)

const (
	DefaultReadingsSubject = "twin.readings"
	DefaultCommandsSubject = "twin.commands"
)

// natsConn is the part of *nats.Conn the bridge uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
	IsConnected() bool
}

// CommandReply answers a request on the commands subject.
type CommandReply struct {
	Command string `json:"command"`
	Sent    bool   `json:"sent"`
	Error   string `json:"error,omitempty"`
}

// NATSBridge publishes readings on one subject and forwards text received
// on another to the device.
type NATSBridge struct {
	mu              sync.Mutex
	conn            natsConn
	readingsSubject string
	commandsSubject string
}

// ConnectNATS dials url and keeps reconnecting for the life of the process.
func ConnectNATS(url string) (*NATSBridge, error) {
	opts := []nats.Option{
		nats.Name("twin-bridge"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			monitoring.Warnf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			monitoring.Infof("nats: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			monitoring.Infof("nats: connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	monitoring.Infof("nats: connected to %s", url)
	return newNATSBridge(nc), nil
}

func newNATSBridge(conn natsConn) *NATSBridge {
	return &NATSBridge{
		conn:            conn,
		readingsSubject: DefaultReadingsSubject,
		commandsSubject: DefaultCommandsSubject,
	}
}

// SetSubjects overrides the default subjects. Empty values keep the
// current ones.
func (b *NATSBridge) SetSubjects(readings, commands string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if readings != "" {
		b.readingsSubject = readings
	}
	if commands != "" {
		b.commandsSubject = commands
	}
}

func (b *NATSBridge) Name() string { return "nats" }

func (b *NATSBridge) PublishReading(_ context.Context, payload []byte) error {
	b.mu.Lock()
	conn, subject := b.conn, b.readingsSubject
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("nats bridge is closed")
	}
	if err := conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// ServeCommands forwards every message on the commands subject to sink as
// raw command text. Requests with a reply subject get a CommandReply.
func (b *NATSBridge) ServeCommands(sink twin.Sink) error {
	b.mu.Lock()
	conn, subject := b.conn, b.commandsSubject
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("nats bridge is closed")
	}

	_, err := conn.Subscribe(subject, func(m *nats.Msg) {
		reply := handleCommand(sink, m.Data)
		if m.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			return
		}
		if err := conn.Publish(m.Reply, data); err != nil {
			monitoring.Warnf("nats: reply to %s: %v", m.Reply, err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	monitoring.Infof("nats: forwarding commands from %s", subject)
	return nil
}

func handleCommand(sink twin.Sink, data []byte) CommandReply {
	command := strings.TrimSpace(string(data))
	reply := CommandReply{Command: command}
	if command == "" {
		reply.Error = "empty command"
		return reply
	}
	if err := sink.SendDefault(command); err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.Sent = true
	return reply
}

// Connected reports whether the underlying connection is currently up.
func (b *NATSBridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}

// Close drains subscriptions and closes the connection.
func (b *NATSBridge) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Drain()
}
