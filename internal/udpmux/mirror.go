package udpmux

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
)

// Mirror forwards copies of inbound datagrams to a second listener, such as a
// recording host or another visualiser. Forwarding never blocks the receive
// path; when the queue is full the datagram is dropped.
type Mirror struct {
	conn        *net.UDPConn
	queue       chan []byte
	address     string
	logInterval time.Duration
	counters    *counters

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewMirror dials addr ("host:port").
func NewMirror(addr string, logInterval time.Duration) (*Mirror, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mirror address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror connection: %w", err)
	}
	if logInterval <= 0 {
		logInterval = DefaultLogInterval
	}
	return &Mirror{
		conn:        conn,
		queue:       make(chan []byte, 1000),
		address:     addr,
		logInterval: logInterval,
		counters:    &counters{},
		done:        make(chan struct{}),
	}, nil
}

func (m *Mirror) start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		failed := 0
		var lastErr error
		ticker := time.NewTicker(m.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.done:
				return
			case pkt := <-m.queue:
				if _, err := m.conn.Write(pkt); err != nil {
					failed++
					lastErr = err
					m.counters.mirrorDropped.Add(1)
					continue
				}
				m.counters.mirrored.Add(1)
			case <-ticker.C:
				if failed > 0 {
					monitoring.Warnf("Dropped %d mirrored datagrams (latest: %v)", failed, lastErr)
					failed = 0
					lastErr = nil
				}
			}
		}
	}()
	monitoring.Infof("Mirroring inbound datagrams to %s", m.address)
}

// forward queues a copy of pkt.
func (m *Mirror) forward(pkt []byte) {
	cp := append([]byte(nil), pkt...)
	select {
	case m.queue <- cp:
	default:
		m.counters.mirrorDropped.Add(1)
	}
}

// Close stops forwarding and closes the connection.
func (m *Mirror) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		m.wg.Wait()
		err = m.conn.Close()
	})
	return err
}
