// Package visualiser streams readings to remote visualisation clients over
// gRPC and accepts commands from them.
package visualiser

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/twin"
)

// Config holds configuration for the gRPC feed.
type Config struct {
	// ListenAddr is the address to listen on, e.g. "localhost:50051".
	ListenAddr string

	// MaxClients caps concurrent StreamReadings calls.
	MaxClients int

	// ClientBuffer is the per-client queue length. A slow client loses
	// readings rather than delaying the others.
	ClientBuffer int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50051",
		MaxClients:   8,
		ClientBuffer: 16,
	}
}

// Publisher owns the gRPC server and fans readings out to streaming clients.
type Publisher struct {
	config   Config
	src      twin.Source
	sink     twin.Sink
	server   *grpc.Server
	listener net.Listener

	frameChan chan twin.Reading
	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	frameCount    atomic.Uint64
	clientCount   atomic.Int32
	droppedFrames atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id      string
	frameCh chan twin.Reading
}

// NewPublisher builds a publisher serving readings from src and sending
// commands to sink.
func NewPublisher(cfg Config, src twin.Source, sink twin.Sink) *Publisher {
	def := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	return &Publisher{
		config:    cfg,
		src:       src,
		sink:      sink,
		frameChan: make(chan twin.Reading, 64),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start listens on the configured address and serves until Stop.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.ListenAddr, err)
	}
	if err := p.Serve(lis); err != nil {
		lis.Close()
		return err
	}
	return nil
}

// Serve starts serving on an existing listener.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	RegisterService(p.server, NewServer(p))

	p.wg.Add(3)
	go p.broadcastLoop()
	go p.pumpLoop()
	go func() {
		defer p.wg.Done()
		monitoring.Infof("visualiser: gRPC feed listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Errorf("visualiser: gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop ends every stream and shuts the server down.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)

	// streams return on stopCh, so a graceful stop cannot hang on them
	p.server.GracefulStop()
	p.listener.Close()
	p.wg.Wait()
	monitoring.Infof("visualiser: gRPC feed stopped")
}

// Addr returns the listening address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// pumpLoop feeds readings from the source into the broadcast queue.
func (p *Publisher) pumpLoop() {
	defer p.wg.Done()
	id, ch := p.src.Subscribe()
	defer p.src.Unsubscribe(id)

	for {
		select {
		case <-p.stopCh:
			return
		case r, ok := <-ch:
			if !ok {
				return
			}
			p.Publish(r)
		}
	}
}

// Publish queues a reading for every connected client.
func (p *Publisher) Publish(r twin.Reading) {
	if !p.running.Load() {
		return
	}
	select {
	case p.frameChan <- r:
		p.frameCount.Add(1)
	default:
		dropped := p.droppedFrames.Add(1)
		monitoring.Warnf("visualiser: dropped reading %d (total dropped: %d), queue full", r.Sequence, dropped)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case r := <-p.frameChan:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				select {
				case c.frameCh <- r:
				default:
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// addClient registers a stream, failing once MaxClients are connected.
func (p *Publisher) addClient() (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("client limit of %d reached", p.config.MaxClients)
	}
	c := &clientStream{
		id:      uuid.NewString(),
		frameCh: make(chan twin.Reading, p.config.ClientBuffer),
	}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	monitoring.Infof("visualiser: client connected: %s (total: %d)", c.id, n)
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	_, ok := p.clients[id]
	delete(p.clients, id)
	p.clientsMu.Unlock()
	if ok {
		n := p.clientCount.Add(-1)
		monitoring.Infof("visualiser: client disconnected: %s (remaining: %d)", id, n)
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:  p.frameCount.Load(),
		ClientCount: p.clientCount.Load(),
		Dropped:     p.droppedFrames.Load(),
		Running:     p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount  uint64 `json:"frame_count"`
	ClientCount int32  `json:"client_count"`
	Dropped     uint64 `json:"dropped"`
	Running     bool   `json:"running"`
}
